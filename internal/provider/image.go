package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// ImageRequest asks for a picture. ImageURLs are reference images the model
// may edit or draw from.
type ImageRequest struct {
	Prompt    string
	ImageURLs []string
}

// Image is the outcome of one image request. Text carries whatever the model
// said alongside the pictures, which can be a refusal with no images at all.
type Image struct {
	PNGs  [][]byte
	Text  string
	Usage Usage
	Model string
}

type imageCall struct {
	Result string `json:"result"`
}

// GenerateImage runs prompt through the hosted image_generation tool.
func (t *Tools) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Image{}, errors.New("image: empty prompt")
	}

	tool := map[string]any{"type": "image_generation", "quality": "high"}
	if t.imageSize != "" {
		tool["size"] = t.imageSize
	}
	resp, err := t.images.create(ctx, responses.ResponseNewParams{
		Model: shared.ResponsesModel(t.imageModel),
		Input: userMessage(prompt, req.ImageURLs),
		Store: openai.Bool(false),
	},
		option.WithJSONSet("tools", []map[string]any{tool}),
		option.WithJSONSet("tool_choice", map[string]any{"type": "image_generation"}),
	)
	if err != nil {
		return Image{}, fmt.Errorf("image: %w", err)
	}

	out := Image{
		Text:  strings.TrimSpace(resp.OutputText()),
		Usage: usageOf(resp),
		Model: string(resp.Model),
	}
	for _, item := range resp.Output {
		if item.Type != "image_generation_call" {
			continue
		}
		var call imageCall
		if err := json.Unmarshal([]byte(item.RawJSON()), &call); err != nil {
			return Image{}, fmt.Errorf("image: decode output: %w", err)
		}
		if call.Result == "" {
			continue
		}
		png, err := base64.StdEncoding.DecodeString(call.Result)
		if err != nil {
			return Image{}, fmt.Errorf("image: decode: %w", err)
		}
		out.PNGs = append(out.PNGs, png)
	}
	if len(out.PNGs) == 0 && out.Text == "" {
		return Image{}, errors.New("image: no image data")
	}
	return out, nil
}
