package bot

import (
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const (
	maxMessageLen    = 2000
	maxEmbedDescLen  = 4096
	maxImageInputs   = 10
	maxHistoryFetch  = 1000
	historyPageLimit = 100
	truncationSuffix = "..."
	directMessageTag = "dm"
	userKeySeparator = "-"
)

// Session is the subset of *discordgo.Session the bot calls, so handlers can
// be exercised against a fake.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

var _ Session = (*discordgo.Session)(nil)

// userKey scopes memory per guild, or per author in direct messages.
func userKey(m *discordgo.Message) string {
	if m.GuildID == "" {
		return directMessageTag + userKeySeparator + m.Author.ID
	}
	return m.GuildID + userKeySeparator + m.Author.ID
}

// chunkText splits text into pieces of at most limit runes, preferring to
// break after a newline in the second half of a window.
func chunkText(text string, limit int) []string {
	if limit <= 0 {
		limit = maxMessageLen
	}
	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= limit {
			chunks = append(chunks, text)
			break
		}
		cut := byteOffset(text, limit)
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl >= cut/2 {
			cut = nl + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}

// truncate shortens s to at most limit runes, marking the cut.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	keep := limit - utf8.RuneCountInString(truncationSuffix)
	return s[:byteOffset(s, keep)] + truncationSuffix
}

// byteOffset returns the byte index of rune n in s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}

func isTextChannel(c *discordgo.Channel) bool {
	return c != nil && (c.Type == discordgo.ChannelTypeGuildText || c.Type == discordgo.ChannelTypeGuildNews)
}

func isThread(c *discordgo.Channel) bool {
	if c == nil {
		return false
	}
	switch c.Type {
	case discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildNewsThread:
		return true
	}
	return false
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author == nil {
		return "unknown"
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func imageURLs(m *discordgo.Message) []string {
	var urls []string
	for _, a := range m.Attachments {
		if a == nil || !strings.HasPrefix(a.ContentType, "image/") {
			continue
		}
		u := a.ProxyURL
		if u == "" {
			u = a.URL
		}
		urls = append(urls, u)
		if len(urls) == maxImageInputs {
			break
		}
	}
	return urls
}
