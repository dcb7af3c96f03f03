package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/zhenhai/internal/confirm"
	"github.com/ent0n29/zhenhai/internal/conversation"
	"github.com/ent0n29/zhenhai/internal/memory"
	"github.com/ent0n29/zhenhai/internal/provider"
	"github.com/ent0n29/zhenhai/internal/usage"
)

type sentMessage struct {
	channelID string
	content   string
	embed     *discordgo.MessageEmbed
	files     []*discordgo.File
}

type fakeSession struct {
	mu       sync.Mutex
	seq      int
	sent     []sentMessage
	deleted  []string
	channels map[string]*discordgo.Channel
	history  map[string][]*discordgo.Message
	sendErr  error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		channels: make(map[string]*discordgo.Channel),
		history:  make(map[string][]*discordgo.Message),
	}
}

func (s *fakeSession) record(channelID string, msg sentMessage) *discordgo.Message {
	s.seq++
	msg.channelID = channelID
	s.sent = append(s.sent, msg)
	return &discordgo.Message{ID: fmt.Sprintf("sent-%d", s.seq), ChannelID: channelID, Content: msg.content}
}

func (s *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return s.record(channelID, sentMessage{content: data.Content, files: data.Files}), nil
}

func (s *fakeSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return s.record(channelID, sentMessage{embed: embed}), nil
}

func (s *fakeSession) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, messageID)
	return nil
}

func (s *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[channelID]
	if !ok {
		return nil, errors.New("unknown channel")
	}
	return c, nil
}

// ChannelMessages serves history newest first like the REST API.
func (s *fakeSession) ChannelMessages(channelID string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.history[channelID]
	start := 0
	if beforeID != "" {
		for i, m := range all {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(all))
	return all[start:end], nil
}

func (s *fakeSession) contents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.content)
	}
	return out
}

func (s *fakeSession) joined() string {
	return strings.Join(s.contents(), "\n")
}

type failingProvider struct {
	provider.MockProvider
	err error
}

func (p *failingProvider) Respond(context.Context, provider.Request) (provider.Response, error) {
	return provider.Response{}, p.err
}

type fakeTools struct {
	mu          sync.Mutex
	transcripts []string
	images      []provider.ImageRequest
	digestErr   error
	imageErr    error
	imageText   string
}

func (f *fakeTools) Digest(_ context.Context, transcript string) (string, provider.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, transcript)
	if f.digestErr != nil {
		return "", provider.Usage{}, f.digestErr
	}
	return "the digest", provider.Usage{InputTokens: 10, OutputTokens: 4, TotalTokens: 14}, nil
}

func (f *fakeTools) GenerateImage(_ context.Context, req provider.ImageRequest) (provider.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, req)
	if f.imageErr != nil {
		return provider.Image{}, f.imageErr
	}
	return provider.Image{PNGs: [][]byte{[]byte("\x89PNG")}, Text: f.imageText}, nil
}

type harness struct {
	bot     *Bot
	session *fakeSession
	mem     *memory.InMemoryStore
	usage   *usage.InMemoryStore
	tools   *fakeTools
	mgr     *conversation.Manager
	seq     int
}

func newHarness(t *testing.T, p provider.Provider, cfg Config) *harness {
	t.Helper()
	h := &harness{
		session: newFakeSession(),
		mem:     memory.NewInMemoryStore(),
		usage:   usage.NewInMemoryStore(),
		tools:   &fakeTools{},
	}
	if p == nil {
		p = provider.NewMockProvider()
	}
	mgr, err := conversation.NewManager(conversation.Options{
		Memory:     h.mem,
		Usage:      h.usage,
		Confirm:    confirm.NewMemoryStore(0),
		Summarizer: p,
		Location:   time.UTC,
		Now:        func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	h.mgr = mgr
	if cfg.UserRate == 0 {
		cfg.UserRate = 1000
		cfg.UserBurst = 1000
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.bot = New(cfg, h.session, mgr, p, h.tools, nil, logger)
	h.bot.SetSelfID("bot-self")
	return h
}

func (h *harness) send(content string) *discordgo.Message {
	h.seq++
	m := &discordgo.Message{
		ID:        fmt.Sprintf("in-%d", h.seq),
		ChannelID: "chan-1",
		GuildID:   "guild-1",
		Content:   content,
		Author:    &discordgo.User{ID: "user-1", Username: "alice"},
	}
	h.bot.HandleMessage(context.Background(), m)
	return m
}

func (h *harness) memory(t *testing.T) memory.UserMemory {
	t.Helper()
	m, err := h.mem.Load(context.Background(), "guild-1-user-1")
	require.NoError(t, err)
	return m
}

func (h *harness) count(t *testing.T, feature string) int {
	t.Helper()
	counters, err := h.mgr.UsageToday(context.Background())
	require.NoError(t, err)
	for _, c := range counters {
		if c.Feature == feature {
			return c.Count
		}
	}
	return 0
}

func TestAskCommitsTurn(t *testing.T) {
	h := newHarness(t, nil, Config{CompactThreshold: 10})

	h.send("!ask hello there")

	mem := h.memory(t)
	assert.Equal(t, 1, mem.TurnCount)
	assert.Equal(t, "mock_1", mem.Handle())
	out := h.session.joined()
	assert.Contains(t, out, "Greetings, Commander.")
	assert.Contains(t, out, "used 1 times today")
	assert.Equal(t, 1, h.count(t, usage.FeatureAsk))
	assert.Len(t, h.session.deleted, 1, "thinking placeholder removed")
}

func TestAskAliasAndMultipleCommands(t *testing.T) {
	h := newHarness(t, nil, Config{CompactThreshold: 10})

	h.send("!問 one !ask two")

	assert.Equal(t, 2, h.memory(t).TurnCount)
	assert.Equal(t, 2, h.count(t, usage.FeatureAsk))
}

func TestAskProviderFailureRollsBack(t *testing.T) {
	p := &failingProvider{err: &provider.StatusError{Provider: "test", StatusCode: 503, Body: "overloaded"}}
	h := newHarness(t, p, Config{CompactThreshold: 10})

	h.send("!ask hello")

	mem := h.memory(t)
	assert.Equal(t, 0, mem.TurnCount)
	assert.False(t, mem.HasHandle())
	assert.Contains(t, h.session.joined(), "ASK-001")
	assert.Equal(t, 1, h.count(t, usage.FeatureAsk), "usage is recorded before the primary call")
}

func TestAskCompactsAtThreshold(t *testing.T) {
	h := newHarness(t, nil, Config{CompactThreshold: 2})

	h.send("!ask one")
	h.send("!ask two")

	mem := h.memory(t)
	assert.Equal(t, "mock digest of mock_1", mem.Summary)
	assert.Equal(t, 0, mem.TurnCount)
	assert.Equal(t, "mock_2", mem.Handle())
	assert.Contains(t, h.session.joined(), "We reached 2 turns")
}

func TestIgnoresBotsSelfAndUnprefixed(t *testing.T) {
	h := newHarness(t, nil, Config{})

	for _, m := range []*discordgo.Message{
		{Content: "!ask hi", Author: &discordgo.User{ID: "other", Bot: true}},
		{Content: "!ask hi", Author: &discordgo.User{ID: "bot-self"}},
		{Content: "ask hi", Author: &discordgo.User{ID: "user-1"}},
		{Content: "!unknown", Author: &discordgo.User{ID: "user-1"}},
	} {
		h.bot.HandleMessage(context.Background(), m)
	}

	assert.Empty(t, h.session.contents())
}

func TestRateLimitedUserGetsOneNotice(t *testing.T) {
	h := newHarness(t, nil, Config{UserRate: 0.001, UserBurst: 1})

	h.send("!memory")
	h.send("!memory !memory")

	out := h.session.contents()
	require.Len(t, out, 2)
	assert.Contains(t, out[1], "Give me a moment")
}

func TestShowMemory(t *testing.T) {
	h := newHarness(t, nil, Config{})

	h.send("!memory")
	require.NoError(t, h.mem.Save(context.Background(), memory.UserMemory{UserID: "guild-1-user-1", Summary: "likes tea"}))
	h.send("!顯示記憶")

	out := h.session.contents()
	require.Len(t, out, 2)
	assert.Contains(t, out[0], "No long-term memory")
	assert.Contains(t, out[1], "likes tea")
}

func TestResetDialogue(t *testing.T) {
	h := newHarness(t, nil, Config{CompactThreshold: 10})
	h.send("!ask remember me")
	require.Equal(t, 1, h.memory(t).TurnCount)

	h.send("!confirm-reset")
	assert.Equal(t, 1, h.memory(t).TurnCount, "confirm without request does nothing")

	h.send("!reset-memory")
	h.send("!cancel-reset")
	assert.Equal(t, 1, h.memory(t).TurnCount)

	h.send("!重置記憶")
	h.send("!確定重置")
	mem := h.memory(t)
	assert.Equal(t, 0, mem.TurnCount)
	assert.False(t, mem.HasHandle())

	out := h.session.joined()
	assert.Contains(t, out, "no pending reset")
	assert.Contains(t, out, "Reset cancelled")
	assert.Contains(t, out, "Memory wiped")
}

func TestImageRespectsDailyLimit(t *testing.T) {
	h := newHarness(t, nil, Config{ImageDailyLimit: 2, ImageModel: "gpt-image-1"})

	h.send("!image a cat")
	h.send("!image a dog")
	h.send("!圖片 a bird")

	assert.Equal(t, 2, h.count(t, usage.FeatureImage))
	files := 0
	for _, m := range h.session.sent {
		files += len(m.files)
	}
	assert.Equal(t, 2, files)
	assert.Contains(t, h.session.joined(), "image limit (2) is used up")
	assert.Contains(t, h.session.joined(), "used 2/2 times today")
}

func TestImageForwardsAttachmentsAndRelaysText(t *testing.T) {
	h := newHarness(t, nil, Config{ImageDailyLimit: 15, ImageModel: "gpt-4.1"})
	h.tools.imageText = "Here is your cat wearing the hat."

	m := &discordgo.Message{
		ID:        "in-img",
		ChannelID: "chan-1",
		GuildID:   "guild-1",
		Content:   "!image put the hat on the cat",
		Author:    &discordgo.User{ID: "user-1", Username: "alice"},
		Attachments: []*discordgo.MessageAttachment{
			{ContentType: "image/png", URL: "https://cdn.example/cat.png"},
			{ContentType: "text/plain", URL: "https://cdn.example/notes.txt"},
			{ContentType: "image/jpeg", URL: "https://cdn.example/hat.jpg", ProxyURL: "https://media.example/hat.jpg"},
		},
	}
	h.bot.HandleMessage(context.Background(), m)

	require.Len(t, h.tools.images, 1)
	assert.Equal(t, "put the hat on the cat", h.tools.images[0].Prompt)
	assert.Equal(t, []string{"https://cdn.example/cat.png", "https://media.example/hat.jpg"}, h.tools.images[0].ImageURLs)

	var files []string
	for _, sent := range h.session.sent {
		for _, f := range sent.files {
			files = append(files, f.Name)
		}
	}
	assert.Equal(t, []string{"ai_image_1.png"}, files)
	out := h.session.joined()
	assert.Contains(t, out, "Here is your cat wearing the hat.")
	assert.Contains(t, out, "Model: gpt-4.1")
}

func TestImageFailureStillSpendsSlot(t *testing.T) {
	h := newHarness(t, nil, Config{ImageDailyLimit: 15})
	h.tools.imageErr = errors.New("content policy")

	h.send("!image something")

	assert.Equal(t, 1, h.count(t, usage.FeatureImage))
	assert.Contains(t, h.session.joined(), "IMG-001")
}

func TestSummarizePostsDigest(t *testing.T) {
	h := newHarness(t, nil, Config{DigestModel: "gpt-4o-mini"})
	h.session.channels["100"] = &discordgo.Channel{ID: "100", Name: "general", Type: discordgo.ChannelTypeGuildText}
	h.session.channels["200"] = &discordgo.Channel{ID: "200", Name: "digest", Type: discordgo.ChannelTypeGuildText}
	for i := 250; i >= 1; i-- {
		h.session.history["100"] = append(h.session.history["100"], &discordgo.Message{
			ID:      fmt.Sprintf("%d", i),
			Content: fmt.Sprintf("message %d", i),
			Author:  &discordgo.User{Username: "bob"},
		})
	}

	h.send("!summarize 100 200")

	require.Len(t, h.tools.transcripts, 1)
	lines := strings.Split(strings.TrimSpace(h.tools.transcripts[0]), "\n")
	require.Len(t, lines, 250)
	assert.Equal(t, "bob: message 1", lines[0])
	assert.Equal(t, "bob: message 250", lines[249])

	var embed *discordgo.MessageEmbed
	for _, m := range h.session.sent {
		if m.embed != nil && m.channelID == "200" {
			embed = m.embed
		}
	}
	require.NotNil(t, embed)
	assert.Equal(t, "the digest", embed.Description)
	assert.Equal(t, "Source ID: 100", embed.Footer.Text)
	assert.Contains(t, embed.Title, "Channel summary: general")
	assert.Equal(t, 1, h.count(t, usage.FeatureSummarize))
	assert.Contains(t, h.session.joined(), "Summarized 250 messages")
}

func TestSummarizeValidatesArguments(t *testing.T) {
	h := newHarness(t, nil, Config{})
	h.session.channels["100"] = &discordgo.Channel{ID: "100", Type: discordgo.ChannelTypeGuildVoice}
	h.session.channels["200"] = &discordgo.Channel{ID: "200", Type: discordgo.ChannelTypeGuildText}

	h.send("!summarize abc 200")
	h.send("!summarize 100 200")

	out := h.session.contents()
	require.Len(t, out, 2)
	assert.Contains(t, out[0], "Usage")
	assert.Contains(t, out[1], "source must be a text channel or thread")
	assert.Empty(t, h.tools.transcripts)
	assert.Equal(t, 0, h.count(t, usage.FeatureSummarize))
}

func TestHelpListsCommands(t *testing.T) {
	h := newHarness(t, nil, Config{})

	h.send("!指令選單")

	require.Len(t, h.session.sent, 1)
	embed := h.session.sent[0].embed
	require.NotNil(t, embed)
	assert.Len(t, embed.Fields, len(h.bot.commands))
	assert.Equal(t, "!ask <text>", embed.Fields[0].Name)
}

func TestFailureText(t *testing.T) {
	storage := &conversation.Error{Kind: conversation.KindStorage, Op: "begin_turn", Err: errors.New("down")}
	assert.Contains(t, failureText("ask", "ASK-001", storage), "MEM-001")

	busy := &provider.StatusError{StatusCode: 429}
	assert.Contains(t, failureText("ask", "ASK-001", busy), "busy (code ASK-001)")

	assert.Contains(t, failureText("image", "IMG-001", errors.New("x")), "The image feature failed (code IMG-001)")
}
