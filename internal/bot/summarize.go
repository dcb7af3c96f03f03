package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"

	"github.com/ent0n29/zhenhai/internal/usage"
)

var errNoMessages = errors.New("source has no readable messages")

func (b *Bot) runSummarize(ctx context.Context, m *discordgo.Message, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 || !isSnowflake(fields[0]) || !isSnowflake(fields[1]) {
		b.reply(m, "⚠️ Usage: `"+b.cfg.Prefix+"summarize <source-channel-id> <target-channel-id>` (numeric ids)")
		return
	}
	sourceID, targetID := fields[0], fields[1]

	source, err := b.session.Channel(sourceID)
	if err != nil || !(isTextChannel(source) || isThread(source)) {
		b.reply(m, "⚠️ The source must be a text channel or thread I can read.")
		return
	}
	target, err := b.session.Channel(targetID)
	if err != nil || !(isTextChannel(target) || isThread(target)) {
		b.reply(m, "⚠️ The target must be a text channel or thread I can post in.")
		return
	}

	working := b.reply(m, "📚 Reading history...")
	defer b.deleteMessage(working)

	log := b.logger.With("user_id", userKey(m), "source_id", sourceID, "target_id", targetID)
	transcript, count, err := b.transcript(sourceID)
	if err != nil {
		log.ErrorContext(ctx, "fetch history failed", tint.Err(err))
		b.reply(m, failureText("summarize", "SUM-001", err))
		return
	}

	started := time.Now()
	digest, tokens, err := b.tools.Digest(ctx, transcript)
	b.metrics.ObserveProvider("tools", "digest", time.Since(started), err)
	if err != nil {
		log.ErrorContext(ctx, "digest failed", tint.Err(err))
		b.reply(m, failureText("summarize", "SUM-001", err))
		return
	}

	kind := "Channel"
	if isThread(source) {
		kind = "Thread"
	}
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("📋 %s summary: %s", kind, source.Name),
		Description: truncate(digest, maxEmbedDescLen),
		Color:       0x3498db,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Source ID: " + sourceID},
		Timestamp:   b.manager.Now().Format(time.RFC3339),
	}
	if _, err := b.session.ChannelMessageSendEmbed(targetID, embed); err != nil {
		log.ErrorContext(ctx, "post digest failed", tint.Err(err))
		b.reply(m, failureText("summarize", "SUM-001", err))
		return
	}

	counted, err := b.manager.RecordUsage(ctx, usage.FeatureSummarize, 0)
	if err != nil {
		log.WarnContext(ctx, "record usage failed", tint.Err(err))
		b.reply(m, fmt.Sprintf("✅ Summarized %d messages into <#%s>.", count, targetID))
		return
	}
	b.reply(m, fmt.Sprintf("✅ Summarized %d messages into <#%s>.\n📊 `summarize` has been used %d times today across the server. Model: %s\n📊 Tokens: input %d, reply %d, total %d",
		count, targetID, counted.Count, b.modelName(b.cfg.DigestModel),
		tokens.InputTokens, tokens.VisibleOutputTokens(), tokens.TotalTokens))
	log.InfoContext(ctx, "summary posted", "messages", count)
}

// transcript pages backwards through up to maxHistoryFetch messages and
// renders them oldest first as "name: content" lines.
func (b *Bot) transcript(channelID string) (string, int, error) {
	var history []*discordgo.Message
	before := ""
	for len(history) < maxHistoryFetch {
		limit := min(historyPageLimit, maxHistoryFetch-len(history))
		page, err := b.session.ChannelMessages(channelID, limit, before, "", "")
		if err != nil {
			return "", 0, err
		}
		history = append(history, page...)
		if len(page) < limit {
			break
		}
		before = page[len(page)-1].ID
	}

	slices.Reverse(history)
	var sb strings.Builder
	count := 0
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		sb.WriteString(displayName(msg))
		sb.WriteString(": ")
		sb.WriteString(content)
		sb.WriteByte('\n')
		count++
	}
	if count == 0 {
		return "", 0, errNoMessages
	}
	return sb.String(), count, nil
}

func (b *Bot) modelName(configured string) string {
	if configured != "" {
		return configured
	}
	return "default"
}

func isSnowflake(s string) bool {
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
