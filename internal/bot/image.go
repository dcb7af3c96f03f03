package bot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"

	"github.com/ent0n29/zhenhai/internal/provider"
	"github.com/ent0n29/zhenhai/internal/usage"
)

func (b *Bot) runImage(ctx context.Context, m *discordgo.Message, prompt string) {
	if prompt == "" {
		b.reply(m, "⚠️ Usage: `"+b.cfg.Prefix+"image <description>`")
		return
	}
	log := b.logger.With("user_id", userKey(m))

	// The slot is taken before generating so concurrent requests cannot
	// overshoot the limit. A failed generation still spends it.
	gated, err := b.manager.GateUsage(ctx, usage.FeatureImage, b.cfg.ImageDailyLimit)
	if err != nil {
		log.ErrorContext(ctx, "gate usage failed", tint.Err(err))
		b.reply(m, failureText("image", "IMG-001", err))
		return
	}
	if gated.Exceeded {
		b.reply(m, fmt.Sprintf("🚫 Today's image limit (%d) is used up. Try again tomorrow.", b.cfg.ImageDailyLimit))
		return
	}

	working := b.reply(m, "🎨 Generating...")
	defer b.deleteMessage(working)

	started := time.Now()
	img, err := b.tools.GenerateImage(ctx, provider.ImageRequest{Prompt: prompt, ImageURLs: imageURLs(m)})
	b.metrics.ObserveProvider("tools", "image", time.Since(started), err)
	if err != nil {
		log.ErrorContext(ctx, "image generation failed", tint.Err(err))
		b.reply(m, failureText("image", "IMG-001", err))
		return
	}

	size := 0
	for i, png := range img.PNGs {
		if err := b.replyFile(m, &discordgo.File{
			Name:        fmt.Sprintf("ai_image_%d.png", i+1),
			ContentType: "image/png",
			Reader:      bytes.NewReader(png),
		}); err != nil {
			log.ErrorContext(ctx, "upload image failed", tint.Err(err))
			b.reply(m, failureText("image", "IMG-001", err))
			return
		}
		size += len(png)
	}
	if img.Text != "" {
		b.replyChunks(m, img.Text)
	}

	model := img.Model
	if model == "" {
		model = b.modelName(b.cfg.ImageModel)
	}
	b.reply(m, fmt.Sprintf("📊 `image` has been used %d/%d times today across the server. Model: %s",
		gated.Count, b.cfg.ImageDailyLimit, model))
	log.InfoContext(ctx, "image posted", "images", len(img.PNGs), "bytes", size, "count", gated.Count)
}
