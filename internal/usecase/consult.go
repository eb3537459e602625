package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"gem-concierge/internal/catalog"
	"gem-concierge/internal/compose"
	"gem-concierge/internal/domain"
	"gem-concierge/internal/preference"
	"gem-concierge/internal/transcript"
)

const (
	defaultMaxMessage = 1000
	defaultSearchK    = 5

	// GenericErrorMessage is the only failure text a customer ever sees.
	GenericErrorMessage = "Something went wrong. Please try again."
)

type IntentClassifier interface {
	Classify(ctx context.Context, transcript string) (domain.Intent, error)
}

type PreferenceExtractor interface {
	ExtractAll(ctx context.Context, transcript string) (domain.PreferenceSet, error)
}

type ContextSearcher interface {
	Search(ctx context.Context, query string, k int) ([]string, error)
}

type ProductMatcher interface {
	Match(ctx context.Context, candidates []domain.CandidateProduct, prefs domain.PreferenceSet) domain.MatchResult
}

type ReplyStreamer interface {
	Stream(ctx context.Context, p domain.Prompt, onChunk func(chunk string) error) error
}

type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	AppendTurn(ctx context.Context, sessionID string, turn domain.Turn, prefs domain.PreferenceSet) error
}

// EventWriter receives the outbound frames of one turn.
type EventWriter interface {
	SessionID(id string) error
	Chunk(text string) error
	Error(msg string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Dependencies are the collaborators of ConsultService. All are required.
type Dependencies struct {
	Classifier IntentClassifier
	Extractor  PreferenceExtractor
	Searcher   ContextSearcher
	Matcher    ProductMatcher
	Streamer   ReplyStreamer
	Sessions   SessionStore
}

type Config struct {
	MaxHistoryPairs  int
	MaxMessageLength int
	SearchK          int
	Logger           *slog.Logger
}

// ConsultService runs one consultation turn per call. It keeps no
// per-session state between calls.
type ConsultService struct {
	deps            Dependencies
	maxHistoryPairs int
	maxMessageLen   int
	searchK         int
	logger          *slog.Logger
}

type ConsultInput struct {
	Message   string
	SessionID string
}

// turnState is the per-turn context. Each step takes a copy and returns it
// with one more field filled.
type turnState struct {
	sessionID  string
	utterance  string
	session    *domain.Session
	transcript string
	intent     domain.Intent
	prefs      domain.PreferenceSet
	context    string
	candidates []domain.CandidateProduct
	match      domain.MatchResult
	prompt     domain.Prompt
	reply      string
}

func NewConsultService(deps Dependencies, cfg Config) (*ConsultService, error) {
	switch {
	case deps.Classifier == nil:
		return nil, errors.New("usecase: intent classifier must not be nil")
	case deps.Extractor == nil:
		return nil, errors.New("usecase: preference extractor must not be nil")
	case deps.Searcher == nil:
		return nil, errors.New("usecase: context searcher must not be nil")
	case deps.Matcher == nil:
		return nil, errors.New("usecase: product matcher must not be nil")
	case deps.Streamer == nil:
		return nil, errors.New("usecase: reply streamer must not be nil")
	case deps.Sessions == nil:
		return nil, errors.New("usecase: session store must not be nil")
	}
	if cfg.MaxHistoryPairs <= 0 {
		cfg.MaxHistoryPairs = transcript.DefaultMaxPairs
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMessage
	}
	if cfg.SearchK <= 0 {
		cfg.SearchK = defaultSearchK
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ConsultService{
		deps:            deps,
		maxHistoryPairs: cfg.MaxHistoryPairs,
		maxMessageLen:   cfg.MaxMessageLength,
		searchK:         cfg.SearchK,
		logger:          cfg.Logger,
	}, nil
}

// Validate checks the request before any frame is written.
func (s *ConsultService) Validate(in ConsultInput) error {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(message) > s.maxMessageLen {
		return newError(ErrorInvalidInput, "message_too_long", nil)
	}
	return nil
}

// Consult runs one turn and writes its frames to out: the session id first,
// then the reply chunks, or a terminal error frame on any failure. Invalid
// input returns an error before anything is written. The turn is stored
// only when the reply was fully delivered.
func (s *ConsultService) Consult(ctx context.Context, in ConsultInput, out EventWriter) error {
	if err := s.Validate(in); err != nil {
		return err
	}
	st := turnState{
		sessionID: strings.TrimSpace(in.SessionID),
		utterance: strings.TrimSpace(in.Message),
	}
	if st.sessionID == "" {
		st.sessionID = newUUID()
	}
	if err := out.SessionID(st.sessionID); err != nil {
		return newError(ErrorInternal, "stream_write_error", err)
	}

	st, err := s.runTurn(ctx, st, out)
	if err != nil {
		s.fail(ctx, st.sessionID, out, err)
		return err
	}
	s.persist(ctx, st)
	return nil
}

func (s *ConsultService) runTurn(ctx context.Context, st turnState, out EventWriter) (turnState, error) {
	st, err := s.loadSession(ctx, st)
	if err != nil {
		return st, err
	}
	if st, err = s.classifyIntent(ctx, st); err != nil {
		return st, err
	}

	switch st.intent {
	case domain.IntentGeneral:
		st = s.composeGeneralInfo(st)
	case domain.IntentJewelryConsultation:
		if st, err = s.extractPreferences(ctx, st); err != nil {
			return st, err
		}
		if st, err = s.retrieveContext(ctx, st); err != nil {
			return st, err
		}
		st = s.matchProducts(ctx, st)
		st = s.composeConsultation(st)
	default:
		return st, newError(ErrorInternal, "unknown_intent", fmt.Errorf("usecase: intent %d", st.intent))
	}

	return s.streamResponse(ctx, st, out)
}

func (s *ConsultService) loadSession(ctx context.Context, st turnState) (turnState, error) {
	session, err := s.deps.Sessions.Get(ctx, st.sessionID)
	if err != nil {
		return st, newError(ErrorInternal, "session_load_error", err)
	}
	if session == nil {
		session = &domain.Session{ID: st.sessionID}
	}
	st.session = session
	st.prefs = session.Preferences
	st.transcript = transcript.Build(session.Turns, st.utterance, s.maxHistoryPairs)
	return st, nil
}

func (s *ConsultService) classifyIntent(ctx context.Context, st turnState) (turnState, error) {
	intent, err := s.deps.Classifier.Classify(ctx, st.transcript)
	if err != nil {
		return st, upstreamError("intent_classification", err)
	}
	st.intent = intent
	return st, nil
}

// extractPreferences merges freshly stated values over the stored ones, so
// a slot set in a turn that has scrolled out of the history stays set.
func (s *ConsultService) extractPreferences(ctx context.Context, st turnState) (turnState, error) {
	fresh, err := s.deps.Extractor.ExtractAll(ctx, st.transcript)
	if err != nil {
		return st, upstreamError("preference_extraction", err)
	}
	st.prefs = st.prefs.Merge(fresh)
	return st, nil
}

func (s *ConsultService) retrieveContext(ctx context.Context, st turnState) (turnState, error) {
	query := st.utterance
	for _, kv := range st.prefs.Known() {
		query += " " + kv.Value
	}
	records, err := s.deps.Searcher.Search(ctx, query, s.searchK)
	if err != nil {
		return st, upstreamError("context_retrieval", err)
	}
	st.context = strings.TrimSpace(strings.Join(records, "\n"))
	st.candidates = catalog.ParseCandidates(st.context)
	return st, nil
}

func (s *ConsultService) matchProducts(ctx context.Context, st turnState) turnState {
	st.match = s.deps.Matcher.Match(ctx, st.candidates, st.prefs)
	return st
}

func (s *ConsultService) composeGeneralInfo(st turnState) turnState {
	st.prompt = compose.GeneralInfo(st.transcript)
	return st
}

func (s *ConsultService) composeConsultation(st turnState) turnState {
	if !st.match.Found {
		st.prompt = compose.NavigateOptions(st.match.Reason, st.prefs, st.transcript)
		return st
	}
	if slot, missing := preference.NextQuestionSlot(st.prefs); missing {
		st.prompt = compose.Discovery(st.transcript, st.prefs, slot)
		return st
	}
	st.prompt = compose.Recommendation(st.match.Product, st.prefs, st.transcript)
	return st
}

func (s *ConsultService) streamResponse(ctx context.Context, st turnState, out EventWriter) (turnState, error) {
	var reply strings.Builder
	err := s.deps.Streamer.Stream(ctx, st.prompt, func(chunk string) error {
		reply.WriteString(chunk)
		return out.Chunk(chunk)
	})
	if err != nil {
		return st, upstreamError("response_stream", err)
	}
	st.reply = reply.String()
	return st, nil
}

func (s *ConsultService) fail(ctx context.Context, sessionID string, out EventWriter, err error) {
	attrs := []any{"session_id", sessionID, "err", err}
	var ucErr *Error
	if errors.As(err, &ucErr) {
		attrs = append(attrs, "code", ucErr.Code, "reason", ucErr.Reason)
	}
	s.logger.ErrorContext(ctx, "consult turn failed", attrs...)
	if werr := out.Error(GenericErrorMessage); werr != nil {
		s.logger.WarnContext(ctx, "write error frame", "session_id", sessionID, "err", werr)
	}
}

// persist stores the delivered turn. The reply has already reached the
// customer, so a failed write is logged and not surfaced.
func (s *ConsultService) persist(ctx context.Context, st turnState) {
	if strings.TrimSpace(st.reply) == "" {
		s.logger.WarnContext(ctx, "empty reply not stored", "session_id", st.sessionID)
		return
	}
	turn := domain.Turn{
		Index:     st.session.TurnCount,
		Utterance: st.utterance,
		Reply:     st.reply,
	}
	if err := s.deps.Sessions.AppendTurn(ctx, st.sessionID, turn, st.prefs); err != nil {
		s.logger.ErrorContext(ctx, "store turn failed",
			"session_id", st.sessionID, "turn", turn.Index, "code", ErrorInternal, "reason", "session_write_error", "err", err)
	}
}

// upstreamError classifies a failed collaborator call, surfacing upstream
// throttling as RATE_LIMITED.
func upstreamError(step string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, step+"_rate_limited", err)
	}
	return newError(ErrorUpstream, step+"_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
