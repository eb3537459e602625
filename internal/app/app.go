// Package app assembles the consultation pipeline from its collaborators.
// Both the Lambda entry point and the local CLI build the service here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"gem-concierge/internal/domain"
	"gem-concierge/internal/intent"
	"gem-concierge/internal/matcher"
	"gem-concierge/internal/preference"
	"gem-concierge/internal/usecase"
)

// Model is a language model that answers both structured and streamed
// requests.
type Model interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (string, error)
	Stream(ctx context.Context, p domain.Prompt, onChunk func(chunk string) error) error
}

// Settings are the tunables read from the environment.
type Settings struct {
	MaxHistoryPairs     int
	MaxMessageLength    int
	SearchK             int
	MatchConcurrency    int
	MatchCancelSiblings bool
}

// LoadSettings reads Settings through getenv. Unset or malformed values
// fall back to zero, which each component replaces with its default.
func LoadSettings(getenv func(string) string) Settings {
	return Settings{
		MaxHistoryPairs:     envInt(getenv, "MAX_HISTORY_PAIRS"),
		MaxMessageLength:    envInt(getenv, "MAX_MESSAGE_LENGTH"),
		SearchK:             envInt(getenv, "SEARCH_K"),
		MatchConcurrency:    envInt(getenv, "MATCH_CONCURRENCY"),
		MatchCancelSiblings: envBool(getenv, "MATCH_CANCEL_SIBLINGS"),
	}
}

func NewConsultService(model Model, searcher usecase.ContextSearcher, sessions usecase.SessionStore, s Settings, logger *slog.Logger) (*usecase.ConsultService, error) {
	if model == nil {
		return nil, errors.New("app: model must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	classifier, err := intent.NewClassifier(model, logger)
	if err != nil {
		return nil, fmt.Errorf("app: classifier: %w", err)
	}
	extractor, err := preference.NewExtractor(model, logger)
	if err != nil {
		return nil, fmt.Errorf("app: extractor: %w", err)
	}
	m, err := matcher.New(model,
		matcher.WithConcurrency(s.MatchConcurrency),
		matcher.WithCancelSiblings(s.MatchCancelSiblings),
		matcher.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("app: matcher: %w", err)
	}

	return usecase.NewConsultService(usecase.Dependencies{
		Classifier: classifier,
		Extractor:  extractor,
		Searcher:   searcher,
		Matcher:    m,
		Streamer:   model,
		Sessions:   sessions,
	}, usecase.Config{
		MaxHistoryPairs:  s.MaxHistoryPairs,
		MaxMessageLength: s.MaxMessageLength,
		SearchK:          s.SearchK,
		Logger:           logger,
	})
}

func envInt(getenv func(string) string, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(getenv(key)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func envBool(getenv func(string) string, key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(getenv(key)))
	return err == nil && b
}
