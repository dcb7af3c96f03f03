package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"

	"github.com/ent0n29/zhenhai/internal/conversation"
	"github.com/ent0n29/zhenhai/internal/observability"
	"github.com/ent0n29/zhenhai/internal/provider"
	"github.com/ent0n29/zhenhai/internal/usage"
)

// runAsk is one serialized conversation turn: begin, maybe compact, call the
// provider, commit. Any failure before commit leaves memory as it was.
func (b *Bot) runAsk(ctx context.Context, m *discordgo.Message, prompt string) {
	if prompt == "" && len(imageURLs(m)) == 0 {
		b.reply(m, "⚠️ Usage: `"+b.cfg.Prefix+"ask <text>`")
		return
	}
	started := time.Now()
	thinking := b.reply(m, "🧠 Thinking...")
	defer b.deleteMessage(thinking)

	userID := userKey(m)
	turn, err := b.manager.BeginTurn(ctx, userID)
	if err != nil {
		b.logger.ErrorContext(ctx, "begin turn failed", "user_id", userID, tint.Err(err))
		b.reply(m, failureText("ask", "ASK-001", err))
		return
	}
	defer turn.End(ctx)
	b.metrics.ObserveTurnStage(observability.StageBeginTurn, time.Since(started))

	log := b.logger.With("user_id", userID, "request_id", turn.Context().RequestID)

	compactStarted := time.Now()
	compaction, err := turn.MaybeCompact(ctx, b.cfg.CompactThreshold)
	switch {
	case conversation.IsKind(err, conversation.KindCompaction):
		b.metrics.ObserveProvider(b.provider.Name(), "summarize", time.Since(compactStarted), err)
		log.WarnContext(ctx, "continuing turn without compaction", tint.Err(err))
	case err != nil:
		log.ErrorContext(ctx, "compaction could not be stored", tint.Err(err))
		b.reply(m, failureText("ask", "ASK-001", err))
		return
	case compaction != nil:
		b.metrics.ObserveProvider(b.provider.Name(), "summarize", time.Since(compactStarted), nil)
		b.metrics.ObserveTurnStage(observability.StageCompaction, time.Since(compactStarted))
		b.reply(m, fmt.Sprintf("📝 We reached %d turns, so I summarized our conversation and started a fresh thread.", compaction.TurnsFolded))
	}

	counted, err := b.manager.RecordUsage(ctx, usage.FeatureAsk, 0)
	if err != nil {
		log.ErrorContext(ctx, "record usage failed", tint.Err(err))
		b.reply(m, failureText("ask", "ASK-001", err))
		return
	}

	tc := turn.Context()
	req := provider.Request{
		UserID:             userID,
		Input:              prompt,
		Summary:            tc.Summary,
		ContinuationHandle: tc.ContinuationHandle,
		FirstTurn:          tc.FirstTurn,
		Now:                b.manager.Now(),
	}
	if b.provider.Capabilities().ImageInput {
		req.ImageURLs = imageURLs(m)
	}

	callStarted := time.Now()
	resp, err := b.provider.Respond(ctx, req)
	b.metrics.ObserveProvider(b.provider.Name(), "respond", time.Since(callStarted), err)
	b.metrics.ObserveTurnStage(observability.StageProvider, time.Since(callStarted))
	if err != nil {
		err = turn.Abort(ctx, err)
		log.ErrorContext(ctx, "primary call failed", "provider", b.provider.Name(), tint.Err(err))
		b.reply(m, failureText("ask", "ASK-001", err))
		return
	}

	commitStarted := time.Now()
	if err := turn.Commit(ctx, resp.ContinuationHandle, resp.Summary); err != nil {
		log.ErrorContext(ctx, "commit failed", tint.Err(err))
		b.reply(m, failureText("ask", "ASK-001", err))
		return
	}
	b.metrics.ObserveTurnStage(observability.StageCommit, time.Since(commitStarted))

	replyStarted := time.Now()
	b.replyChunks(m, resp.Text)
	b.reply(m, b.askFooter(counted.Count, resp))
	b.metrics.ObserveTurnStage(observability.StageReply, time.Since(replyStarted))
	b.metrics.ObserveTurnStage(observability.StageTurnTotal, time.Since(started))

	log.InfoContext(ctx, "turn committed",
		"turn_count", tc.TurnCount, "first_turn", tc.FirstTurn,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
}

func (b *Bot) askFooter(count int, resp provider.Response) string {
	var sb strings.Builder
	model := resp.Model
	if model == "" {
		model = b.provider.Name()
	}
	fmt.Fprintf(&sb, "📊 `ask` has been used %d times today across the server. Model: %s\n", count, model)
	if b.cfg.WebSearch && b.provider.Capabilities().Continuation {
		sb.WriteString("✅ Web search verification is enabled\n")
	}
	fmt.Fprintf(&sb, "📊 Tokens: input %d, reply %d, total %d",
		resp.Usage.InputTokens, resp.Usage.VisibleOutputTokens(), resp.Usage.TotalTokens)
	return sb.String()
}
