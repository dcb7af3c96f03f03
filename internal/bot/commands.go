package bot

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"

	"github.com/ent0n29/zhenhai/internal/conversation"
)

func (b *Bot) runShowMemory(ctx context.Context, m *discordgo.Message, _ string) {
	mem, err := b.manager.Memory(ctx, userKey(m))
	if err != nil {
		b.logger.ErrorContext(ctx, "load memory failed", "user_id", userKey(m), tint.Err(err))
		b.reply(m, failureText("memory", "MEM-001", err))
		return
	}
	if strings.TrimSpace(mem.Summary) == "" {
		b.reply(m, "📭 No long-term memory summary yet.")
		return
	}
	b.replyChunks(m, "🧠 Long-term memory summary:\n"+mem.Summary)
}

func (b *Bot) runRequestReset(ctx context.Context, m *discordgo.Message, _ string) {
	if _, err := b.manager.RequestReset(ctx, userKey(m)); err != nil {
		b.logger.ErrorContext(ctx, "request reset failed", "user_id", userKey(m), tint.Err(err))
		b.reply(m, failureText("reset", "MEM-001", err))
		return
	}
	b.reply(m, "⚠️ This wipes your memory summary and conversation thread. Send `"+
		b.cfg.Prefix+"confirm-reset` to continue or `"+b.cfg.Prefix+"cancel-reset` to keep it.")
}

func (b *Bot) runConfirmReset(ctx context.Context, m *discordgo.Message, _ string) {
	outcome, err := b.manager.ConfirmReset(ctx, userKey(m))
	if err != nil {
		b.logger.ErrorContext(ctx, "confirm reset failed", "user_id", userKey(m), tint.Err(err))
		b.reply(m, failureText("reset", "MEM-001", err))
		return
	}
	if outcome == conversation.ResetDone {
		b.reply(m, "✅ Memory wiped. We start fresh next time.")
		return
	}
	b.reply(m, "ℹ️ There is no pending reset. Send `"+b.cfg.Prefix+"reset-memory` first.")
}

func (b *Bot) runCancelReset(ctx context.Context, m *discordgo.Message, _ string) {
	outcome, err := b.manager.CancelReset(ctx, userKey(m))
	if err != nil {
		b.logger.ErrorContext(ctx, "cancel reset failed", "user_id", userKey(m), tint.Err(err))
		b.reply(m, failureText("reset", "MEM-001", err))
		return
	}
	if outcome == conversation.ResetCancelled {
		b.reply(m, "👌 Reset cancelled. Your memory is untouched.")
		return
	}
	b.reply(m, "ℹ️ There is no pending reset to cancel.")
}

func (b *Bot) runHelp(_ context.Context, m *discordgo.Message, _ string) {
	embed := &discordgo.MessageEmbed{
		Title:       "📖 Commands",
		Description: "Prefix every command with `" + b.cfg.Prefix + "`. Several commands can share one message.",
		Color:       0x2ecc71,
	}
	for _, c := range b.commands {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  b.cfg.Prefix + c.usage,
			Value: c.help + " (alias: " + strings.Join(c.aliases, ", ") + ")",
		})
	}
	if _, err := b.session.ChannelMessageSendEmbed(m.ChannelID, embed); err != nil {
		b.logger.Warn("send help failed", "channel_id", m.ChannelID, tint.Err(err))
	}
}
