// Package matcher races per-product evaluations against the customer's
// known preferences and reports the first product judged a match.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"gem-concierge/internal/domain"
	"gem-concierge/internal/modeljson"
)

const (
	// DefaultConcurrency caps in-flight evaluation calls.
	DefaultConcurrency = 3

	ReasonNoProducts = "no products in context"
	ReasonNoMatch    = "no product matches the stated preferences"

	verdictMatch    = "MATCH"
	verdictNotFound = "NOT_FOUND"
)

// Generator produces a completion for a prompt pair.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (string, error)
}

type evaluation struct {
	Result string `json:"result" jsonschema:"enum=MATCH,enum=NOT_FOUND"`
	Reason string `json:"reason"`
}

var evaluationSchema = modeljson.Schema[evaluation]()

// Matcher evaluates candidates concurrently under a fixed in-flight limit.
type Matcher struct {
	gen            Generator
	concurrency    int
	cancelSiblings bool
	logger         *slog.Logger
}

type Option func(*Matcher)

// WithConcurrency sets the in-flight evaluation limit.
func WithConcurrency(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithCancelSiblings controls whether evaluations still running when a
// winner is found are cancelled, or left to finish with their results
// discarded (the default).
func WithCancelSiblings(cancel bool) Option {
	return func(m *Matcher) {
		m.cancelSiblings = cancel
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func New(gen Generator, opts ...Option) (*Matcher, error) {
	if gen == nil {
		return nil, errors.New("matcher: generator must not be nil")
	}
	m := &Matcher{
		gen:         gen,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type outcome struct {
	index  int
	match  bool
	reason string
	err    error
}

// Match never fails. Results are taken in completion order and the first
// MATCH wins, so when several candidates match, which one is reported
// depends on call latency. Candidates whose evaluation errors or returns
// unreadable output count as non-matches.
func (m *Matcher) Match(ctx context.Context, candidates []domain.CandidateProduct, prefs domain.PreferenceSet) domain.MatchResult {
	if len(candidates) == 0 {
		return domain.NotMatched(ReasonNoProducts)
	}
	criteria := criteriaFor(prefs)
	if len(criteria) == 0 {
		return domain.Matched(0, candidates[0])
	}

	raceCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.cancelSiblings {
		raceCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	sem := semaphore.NewWeighted(int64(m.concurrency))
	// Buffered so evaluations finishing after the winner never block.
	results := make(chan outcome, len(candidates))
	for i, c := range candidates {
		go func() {
			if err := sem.Acquire(raceCtx, 1); err != nil {
				results <- outcome{index: i, err: err}
				return
			}
			defer sem.Release(1)
			if err := raceCtx.Err(); err != nil {
				results <- outcome{index: i, err: err}
				return
			}
			results <- m.evaluate(raceCtx, i, c, criteria)
		}()
	}

	lastReason := ""
	for range candidates {
		r := <-results
		switch {
		case r.err != nil:
			m.logger.WarnContext(ctx, "matcher: evaluation failed",
				"product_id", candidates[r.index].ID, "err", r.err)
		case r.match:
			return domain.Matched(r.index, candidates[r.index])
		case r.reason != "":
			lastReason = r.reason
		}
	}
	if lastReason == "" {
		lastReason = ReasonNoMatch
	}
	return domain.NotMatched(lastReason)
}

func (m *Matcher) evaluate(ctx context.Context, index int, c domain.CandidateProduct, criteria []domain.SlotValue) outcome {
	raw, err := m.gen.Generate(ctx, domain.GenerateRequest{
		Prompt: domain.Prompt{
			System: evaluationPrompt(),
			Human:  evaluationInput(c, criteria),
		},
		SchemaName: "product_match",
		Schema:     evaluationSchema,
	})
	if err != nil {
		return outcome{index: index, err: fmt.Errorf("matcher: evaluate product %d: %w", c.ID, err)}
	}

	var out evaluation
	if err := modeljson.Decode(raw, &out); err != nil {
		return outcome{index: index, err: fmt.Errorf("matcher: decode verdict for product %d: %w", c.ID, err)}
	}
	switch strings.ToUpper(strings.TrimSpace(out.Result)) {
	case verdictMatch:
		return outcome{index: index, match: true}
	case verdictNotFound:
		return outcome{index: index, reason: strings.TrimSpace(out.Reason)}
	}
	return outcome{index: index, err: fmt.Errorf("matcher: unknown verdict %q for product %d", out.Result, c.ID)}
}

// criteriaFor drops unset slots and purchase_type, which describes the
// buyer rather than the product.
func criteriaFor(prefs domain.PreferenceSet) []domain.SlotValue {
	var out []domain.SlotValue
	for _, kv := range prefs.Known() {
		if kv.Slot == domain.SlotPurchaseType {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func evaluationPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You check one jewelry product against a customer's stated preferences.",
		"",
		"Rules:",
		"1) Compare only the preferences listed. Ignore anything not listed.",
		"2) gender: compare with who the collection is designed for; unisex pieces match either.",
		"3) budget_range: the product matches if at least one size is priced inside the range, in US dollars.",
		"4) Every listed preference must match for the product to match.",
		"",
		"Output Contract:",
		`Return JSON only: {"result": "MATCH", "reason": ""} when every preference matches,`,
		`otherwise {"result": "NOT_FOUND", "reason": "<one short sentence naming the preference that differs>"}.`,
	}, "\n")
}

func evaluationInput(c domain.CandidateProduct, criteria []domain.SlotValue) string {
	lines := make([]string, 0, len(criteria)+3)
	lines = append(lines, "Customer preferences:")
	for _, kv := range criteria {
		lines = append(lines, fmt.Sprintf("- %s: %s", kv.Slot, kv.Value))
	}
	lines = append(lines, "", "Product:", c.Raw)
	return strings.Join(lines, "\n")
}
