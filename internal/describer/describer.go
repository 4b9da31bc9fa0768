// Package describer turns extracted images into text with a vision model.
package describer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"multimodal-rag/internal/llmservice"
	"multimodal-rag/internal/metrics"
	"multimodal-rag/internal/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

const defaultMaxTokens = 300

// ImageDescriber is what the extractor needs from a describer.
type ImageDescriber interface {
	Describe(ctx context.Context, image []byte) (string, error)
}

type Describer struct {
	caller    *llmservice.Caller
	maxTokens int
}

var _ ImageDescriber = (*Describer)(nil)

func New(caller *llmservice.Caller, maxTokens int) *Describer {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Describer{caller: caller, maxTokens: maxTokens}
}

// Describe returns the verbatim text of the image followed by a short
// summary. When the model call fails the returned text is
// models.DescribeFailed and the error wraps llmservice.ErrModelCall.
func (d *Describer) Describe(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		metrics.ImagesDescribed.WithLabelValues(metrics.OutcomeError).Inc()
		return models.DescribeFailed, errors.New("empty image")
	}

	mime := mimetype.Detect(image)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime.String(), base64.StdEncoding.EncodeToString(image))

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, models.DescribeSystemPrompt),
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(models.DescribeUserPrompt),
				llms.ImageURLPart(dataURL),
			},
		},
	}

	text, err := d.caller.Generate(ctx, "describe_image", messages, llms.WithMaxTokens(d.maxTokens))
	if err != nil {
		metrics.ImagesDescribed.WithLabelValues(metrics.OutcomeError).Inc()
		log.Warn().Err(err).Str("mime", mime.String()).Msg("Error describing image")
		return models.DescribeFailed, err
	}
	metrics.ImagesDescribed.WithLabelValues(metrics.OutcomeOK).Inc()
	return text, nil
}
