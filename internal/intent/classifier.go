// Package intent decides whether a turn is a jewelry consultation or a
// general store question.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gem-concierge/internal/domain"
	"gem-concierge/internal/modeljson"
)

// Generator produces a completion for a prompt pair.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (string, error)
}

type classification struct {
	Intent string `json:"intent" jsonschema:"enum=jewelry_consultation,enum=general_information"`
}

var classificationSchema = modeljson.Schema[classification]()

// Classifier labels transcripts with a domain.Intent.
type Classifier struct {
	gen    Generator
	logger *slog.Logger
}

func NewClassifier(gen Generator, logger *slog.Logger) (*Classifier, error) {
	if gen == nil {
		return nil, errors.New("intent: generator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{gen: gen, logger: logger}, nil
}

// Classify makes one generation call. Transport errors are returned;
// output that cannot be read as a known label is treated as general
// information so no product matching runs on a guess.
func (c *Classifier) Classify(ctx context.Context, transcript string) (domain.Intent, error) {
	raw, err := c.gen.Generate(ctx, domain.GenerateRequest{
		Prompt: domain.Prompt{
			System: systemPrompt(),
			Human:  "Conversation:\n" + transcript,
		},
		SchemaName: "intent_classification",
		Schema:     classificationSchema,
	})
	if err != nil {
		return domain.IntentGeneral, fmt.Errorf("intent: classify: %w", err)
	}

	var out classification
	if err := modeljson.Decode(raw, &out); err != nil {
		c.logger.WarnContext(ctx, "intent: malformed classification", "err", err)
		return domain.IntentGeneral, nil
	}
	in, ok := domain.ParseIntent(strings.TrimSpace(out.Intent))
	if !ok {
		c.logger.WarnContext(ctx, "intent: unknown label", "label", out.Intent)
	}
	return in, nil
}

func systemPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You route messages for a fine jewelry store's sales assistant.",
		"",
		"Task:",
		"Read the numbered conversation and classify the customer's latest message.",
		"",
		"Labels:",
		"- jewelry_consultation: the customer wants help choosing, comparing or buying jewelry, or is answering a question about their preferences.",
		"- general_information: anything else, such as shipping, returns, store policies, care instructions or small talk.",
		"",
		"Output Contract:",
		`Return JSON only: {"intent": "<label>"}.`,
	}, "\n")
}
