package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"

	"github.com/ent0n29/zhenhai/internal/conversation"
	"github.com/ent0n29/zhenhai/internal/observability"
	"github.com/ent0n29/zhenhai/internal/provider"
)

// Tools are the stateless AI helpers behind summarize and image.
type Tools interface {
	Digest(ctx context.Context, transcript string) (string, provider.Usage, error)
	GenerateImage(ctx context.Context, req provider.ImageRequest) (provider.Image, error)
}

type Config struct {
	Prefix           string
	CompactThreshold int
	ImageDailyLimit  int
	UserRate         float64
	UserBurst        int
	WebSearch        bool
	DigestModel      string
	ImageModel       string

	// DrainTimeout bounds how long shutdown waits for running commands.
	DrainTimeout time.Duration
}

const defaultDrainTimeout = 10 * time.Second

// Bot turns Discord messages into conversation manager calls.
type Bot struct {
	cfg      Config
	session  Session
	manager  *conversation.Manager
	provider provider.Provider
	tools    Tools
	limiter  *userLimiter
	metrics  *observability.Metrics
	logger   *slog.Logger
	commands []*command
	selfID   atomic.Value
}

type command struct {
	name    string
	aliases []string
	usage   string
	help    string
	run     func(ctx context.Context, m *discordgo.Message, args string)
}

func New(cfg Config, session Session, manager *conversation.Manager, p provider.Provider, tools Tools, metrics *observability.Metrics, logger *slog.Logger) *Bot {
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "!"
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		cfg:      cfg,
		session:  session,
		manager:  manager,
		provider: p,
		tools:    tools,
		limiter:  newUserLimiter(cfg.UserRate, cfg.UserBurst),
		metrics:  metrics,
		logger:   logger,
	}
	b.commands = []*command{
		{name: "ask", aliases: []string{"問"}, usage: "ask <text>",
			help: "Chat with memory. Image attachments are forwarded.", run: b.runAsk},
		{name: "summarize", aliases: []string{"整理"}, usage: "summarize <source-channel-id> <target-channel-id>",
			help: "Digest up to 1000 recent messages of a channel or thread into another channel.", run: b.runSummarize},
		{name: "image", aliases: []string{"圖片"}, usage: "image <description>",
			help: fmt.Sprintf("Generate an image. Attached pictures are used as references. Shared limit of %d per day.", cfg.ImageDailyLimit), run: b.runImage},
		{name: "memory", aliases: []string{"顯示記憶"}, usage: "memory",
			help: "Show the stored long-term memory summary.", run: b.runShowMemory},
		{name: "reset-memory", aliases: []string{"重置記憶"}, usage: "reset-memory",
			help: "Start wiping your memory. Follow with confirm-reset or cancel-reset.", run: b.runRequestReset},
		{name: "confirm-reset", aliases: []string{"確定重置"}, usage: "confirm-reset",
			help: "Confirm a pending memory reset.", run: b.runConfirmReset},
		{name: "cancel-reset", aliases: []string{"取消重置"}, usage: "cancel-reset",
			help: "Cancel a pending memory reset.", run: b.runCancelReset},
		{name: "help", aliases: []string{"指令選單"}, usage: "help",
			help: "Show this menu.", run: b.runHelp},
	}
	return b
}

// SetSelfID records the bot's own user id so its messages are ignored.
func (b *Bot) SetSelfID(id string) { b.selfID.Store(id) }

// HandleMessage dispatches every prefixed command in m. A message may carry
// several commands, e.g. "!ask hi !memory".
func (b *Bot) HandleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if self, _ := b.selfID.Load().(string); self != "" && m.Author.ID == self {
		return
	}
	if !strings.HasPrefix(m.Content, b.cfg.Prefix) {
		return
	}

	limited := false
	for _, segment := range strings.Split(m.Content, b.cfg.Prefix)[1:] {
		cmd, args := b.match(segment)
		if cmd == nil {
			continue
		}
		if !limited && !b.limiter.Allow(userKey(m)) {
			limited = true
			b.reply(m, "⏳ Easy, Commander. Give me a moment before the next command.")
		}
		if limited {
			continue
		}
		b.metrics.Command(cmd.name)
		b.logger.DebugContext(ctx, "command", "command", cmd.name, "user_id", userKey(m), "args_len", len(args))
		b.safeRun(ctx, cmd, m, args)
	}
}

func (b *Bot) match(segment string) (*command, string) {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return nil, ""
	}
	word, args, _ := strings.Cut(segment, " ")
	word = strings.ToLower(word)
	for _, c := range b.commands {
		if word == c.name {
			return c, strings.TrimSpace(args)
		}
		for _, alias := range c.aliases {
			if word == alias {
				return c, strings.TrimSpace(args)
			}
		}
	}
	return nil, ""
}

// safeRun keeps one failing handler from taking down the gateway loop.
func (b *Bot) safeRun(ctx context.Context, c *command, m *discordgo.Message, args string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "command panicked", "command", c.name, "panic", r)
		}
	}()
	c.run(ctx, m, args)
}

func (b *Bot) reply(m *discordgo.Message, content string) *discordgo.Message {
	sent, err := b.session.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Content:         content,
		Reference:       m.Reference(),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err != nil {
		b.logger.Warn("send reply failed", "channel_id", m.ChannelID, tint.Err(err))
		return nil
	}
	return sent
}

func (b *Bot) replyChunks(m *discordgo.Message, text string) {
	if strings.TrimSpace(text) == "" {
		text = "(empty reply)"
	}
	for _, chunk := range chunkText(text, maxMessageLen) {
		b.reply(m, chunk)
	}
}

func (b *Bot) replyFile(m *discordgo.Message, file *discordgo.File) error {
	_, err := b.session.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Files:     []*discordgo.File{file},
		Reference: m.Reference(),
	})
	return err
}

func (b *Bot) deleteMessage(sent *discordgo.Message) {
	if sent == nil {
		return
	}
	if err := b.session.ChannelMessageDelete(sent.ChannelID, sent.ID); err != nil {
		b.logger.Debug("delete placeholder failed", "message_id", sent.ID, tint.Err(err))
	}
}

// failureText maps an error to a user-facing line carrying a support code.
func failureText(feature, code string, err error) string {
	switch {
	case conversation.IsKind(err, conversation.KindStorage):
		return fmt.Sprintf("❌ Memory storage is unavailable right now (code MEM-001). Please try %s again later.", feature)
	case provider.IsRetryable(err):
		return fmt.Sprintf("❌ The AI service is busy (code %s). Please try %s again shortly.", code, feature)
	default:
		return fmt.Sprintf("❌ The %s feature failed (code %s). Please try again later.", feature, code)
	}
}
