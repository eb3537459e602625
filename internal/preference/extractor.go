// Package preference discovers the customer's jewelry preferences and picks
// the next one to ask about.
package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"gem-concierge/internal/domain"
	"gem-concierge/internal/modeljson"
)

// Generator produces a completion for a prompt pair.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (string, error)
}

type slotValue struct {
	Value string `json:"value"`
}

var slotSchemas = func() map[domain.Slot]map[string]any {
	out := make(map[domain.Slot]map[string]any, len(domain.DiscoveryOrder))
	for _, s := range domain.DiscoveryOrder {
		schema := modeljson.Schema[slotValue]()
		enum := []any{""}
		for _, v := range s.Values() {
			enum = append(enum, v)
		}
		props := schema["properties"].(map[string]any)
		props["value"].(map[string]any)["enum"] = enum
		out[s] = schema
	}
	return out
}()

// Extractor reads preference slots out of a transcript, one generation
// call per slot.
type Extractor struct {
	gen    Generator
	logger *slog.Logger
}

func NewExtractor(gen Generator, logger *slog.Logger) (*Extractor, error) {
	if gen == nil {
		return nil, errors.New("preference: generator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{gen: gen, logger: logger}, nil
}

// Extract returns the value the customer explicitly stated for slot, or ""
// when they did not. Output that is not valid JSON or not one of the slot's
// values yields "". Only transport errors are returned.
func (e *Extractor) Extract(ctx context.Context, slot domain.Slot, transcript string) (string, error) {
	schema, ok := slotSchemas[slot]
	if !ok {
		return "", fmt.Errorf("preference: unknown slot %q", slot)
	}
	raw, err := e.gen.Generate(ctx, domain.GenerateRequest{
		Prompt: domain.Prompt{
			System: extractionPrompt(slot),
			Human:  "Conversation:\n" + transcript,
		},
		SchemaName: "extract_" + string(slot),
		Schema:     schema,
	})
	if err != nil {
		return "", fmt.Errorf("preference: extract %s: %w", slot, err)
	}

	var out slotValue
	if err := modeljson.Decode(raw, &out); err != nil {
		e.logger.WarnContext(ctx, "preference: malformed extraction", "slot", string(slot), "err", err)
		return "", nil
	}
	v := slot.Normalize(out.Value)
	if v == "" && strings.TrimSpace(out.Value) != "" {
		e.logger.WarnContext(ctx, "preference: value outside enumeration", "slot", string(slot), "value", out.Value)
	}
	return v, nil
}

// ExtractAll runs the six extractions concurrently. The slots are
// independent, so no call sees another's result. The first transport error
// cancels the rest and is returned.
func (e *Extractor) ExtractAll(ctx context.Context, transcript string) (domain.PreferenceSet, error) {
	values := make([]string, len(domain.DiscoveryOrder))
	g, gctx := errgroup.WithContext(ctx)
	for i, slot := range domain.DiscoveryOrder {
		g.Go(func() error {
			v, err := e.Extract(gctx, slot, transcript)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.PreferenceSet{}, err
	}

	var prefs domain.PreferenceSet
	for i, slot := range domain.DiscoveryOrder {
		prefs = prefs.With(slot, values[i])
	}
	return prefs, nil
}

func extractionPrompt(slot domain.Slot) string {
	return strings.Join([]string{
		"Role:",
		"You extract one customer preference from a jewelry store conversation.",
		"",
		"Preference:",
		fmt.Sprintf("%s: %s", slot, slotDescriptions[slot]),
		"Allowed values: " + strings.Join(slot.Values(), ", "),
		"",
		"Rules:",
		"1) Use only what the customer explicitly stated. Do not infer or guess.",
		"2) If the customer changed their mind, use the latest statement.",
		"3) If the preference was never stated, return an empty string.",
		"",
		"Output Contract:",
		`Return JSON only: {"value": "<allowed value or empty string>"}.`,
	}, "\n")
}

var slotDescriptions = map[domain.Slot]string{
	domain.SlotPurchaseType: "whether the jewelry is a gift for someone else or for the customer themself",
	domain.SlotGender:       "the gender of the person who will wear the jewelry",
	domain.SlotCategory:     "the kind of jewelry",
	domain.SlotMetalType:    "the preferred metal",
	domain.SlotStoneType:    "the preferred gemstone",
	domain.SlotBudgetRange:  "the budget in US dollars",
}
