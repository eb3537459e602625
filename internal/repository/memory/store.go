// Package memory is an in-process session store for local runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"gem-concierge/internal/domain"
	"gem-concierge/internal/repository"
)

type Store struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func New() *Store {
	return &Store{sessions: make(map[string]*domain.Session)}
}

// Get returns a copy of the session, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	out := *sess
	out.Turns = slices.Clone(sess.Turns)
	return &out, nil
}

// AppendTurn stores the turn and preferences, failing with
// repository.ErrTurnConflict when the ordinal is already taken.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn domain.Turn, prefs domain.PreferenceSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("memory: AppendTurn: session id is required")
	}
	if turn.Index < 0 {
		return errors.New("memory: AppendTurn: turn index must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &domain.Session{ID: sessionID}
		s.sessions[sessionID] = sess
	}
	if slices.ContainsFunc(sess.Turns, func(t domain.Turn) bool { return t.Index == turn.Index }) {
		return fmt.Errorf("memory: AppendTurn %d: %w", turn.Index, repository.ErrTurnConflict)
	}
	sess.Turns = append(sess.Turns, turn)
	slices.SortFunc(sess.Turns, func(a, b domain.Turn) int { return a.Index - b.Index })
	sess.TurnCount = max(sess.TurnCount, turn.Index+1)
	sess.Preferences = prefs
	return nil
}
