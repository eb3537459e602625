package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gem-concierge/internal/catalog"
	"gem-concierge/internal/domain"
	"gem-concierge/internal/integrations/openai"
	"gem-concierge/internal/intent"
	"gem-concierge/internal/matcher"
	"gem-concierge/internal/preference"
	"gem-concierge/internal/repository"
	"gem-concierge/internal/repository/memory"
	"gem-concierge/internal/sse"
)

var productIDPattern = regexp.MustCompile(`Product ID: (\d+);`)

// scriptedGenerator answers classification, extraction, and match calls by
// the schema name on each request.
type scriptedGenerator struct {
	intent    string
	intentErr error
	slots     map[domain.Slot]string
	verdicts  map[int]string

	mu       sync.Mutex
	requests []domain.GenerateRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req domain.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	switch {
	case req.SchemaName == "intent_classification":
		if g.intentErr != nil {
			return "", g.intentErr
		}
		return `{"intent":"` + g.intent + `"}`, nil
	case strings.HasPrefix(req.SchemaName, "extract_"):
		slot := domain.Slot(strings.TrimPrefix(req.SchemaName, "extract_"))
		return `{"value":"` + g.slots[slot] + `"}`, nil
	case req.SchemaName == "product_match":
		m := productIDPattern.FindStringSubmatch(req.Prompt.Human)
		if m == nil {
			return "", errors.New("no product id in prompt")
		}
		id, _ := strconv.Atoi(m[1])
		if v, ok := g.verdicts[id]; ok {
			return v, nil
		}
		return `{"result":"NOT_FOUND","reason":"not a fit"}`, nil
	}
	return "", fmt.Errorf("unexpected schema %q", req.SchemaName)
}

func (g *scriptedGenerator) calls(prefix string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, r := range g.requests {
		if strings.HasPrefix(r.SchemaName, prefix) {
			n++
		}
	}
	return n
}

func (g *scriptedGenerator) classifiedTranscripts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, r := range g.requests {
		if r.SchemaName == "intent_classification" {
			out = append(out, strings.TrimPrefix(r.Prompt.Human, "Conversation:\n"))
		}
	}
	return out
}

type fakeStreamer struct {
	chunks  []string
	err     error
	prompts []domain.Prompt
}

func (s *fakeStreamer) Stream(_ context.Context, p domain.Prompt, onChunk func(string) error) error {
	s.prompts = append(s.prompts, p)
	for _, c := range s.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return s.err
}

// faultyStore wraps the in-memory store with injectable failures.
type faultyStore struct {
	*memory.Store
	getErr    error
	appendErr error
	appends   int
}

func (s *faultyStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.Get(ctx, id)
}

func (s *faultyStore) AppendTurn(ctx context.Context, id string, turn domain.Turn, prefs domain.PreferenceSet) error {
	s.appends++
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.Store.AppendTurn(ctx, id, turn, prefs)
}

func testProducts() []catalog.Product {
	return []catalog.Product{
		{ID: 1, Collection: "Daisy", Category: "earrings", Stone: "diamond", Metal: "white gold", ImageURL: "https://img.example.com/daisy.jpg", Rating: 4.7, Sizes: []catalog.Size{{Name: "Small", Price: 1250}}},
		{ID: 2, Collection: "Forget-Me-Not", Category: "necklaces", Stone: "sapphire", Metal: "platinum", ImageURL: "https://img.example.com/fmn.jpg", Rating: 4.9, Sizes: []catalog.Size{{Name: "16 in", Price: 3200}}},
		{ID: 3, Collection: "Gerbera", Category: "rings", Stone: "ruby", Metal: "rose gold", ImageURL: "https://img.example.com/gerbera.jpg", Rating: 4.8, Sizes: []catalog.Size{{Name: "6", Price: 1890}, {Name: "7", Price: 1950}}},
	}
}

func fullSlots() map[domain.Slot]string {
	return map[domain.Slot]string{
		domain.SlotPurchaseType: "gift",
		domain.SlotGender:       "female",
		domain.SlotCategory:     "rings",
		domain.SlotMetalType:    "rose gold",
		domain.SlotStoneType:    "ruby",
		domain.SlotBudgetRange:  "1000 to 2500",
	}
}

type harness struct {
	gen      *scriptedGenerator
	streamer *fakeStreamer
	store    *faultyStore
	svc      *ConsultService
}

func newHarness(t *testing.T, gen *scriptedGenerator) *harness {
	t.Helper()
	classifier, err := intent.NewClassifier(gen, nil)
	require.NoError(t, err)
	extractor, err := preference.NewExtractor(gen, nil)
	require.NoError(t, err)
	m, err := matcher.New(gen)
	require.NoError(t, err)
	index, err := catalog.NewIndex(testProducts())
	require.NoError(t, err)

	h := &harness{
		gen:      gen,
		streamer: &fakeStreamer{chunks: []string{"Hello", ", lovely to meet you."}},
		store:    &faultyStore{Store: memory.New()},
	}
	h.svc, err = NewConsultService(Dependencies{
		Classifier: classifier,
		Extractor:  extractor,
		Searcher:   index,
		Matcher:    m,
		Streamer:   h.streamer,
		Sessions:   h.store,
	}, Config{})
	require.NoError(t, err)
	return h
}

func (h *harness) consult(t *testing.T, in ConsultInput) ([]sse.Frame, error) {
	t.Helper()
	var buf bytes.Buffer
	err := h.svc.Consult(context.Background(), in, sse.NewWriter(&buf))
	frames, rerr := sse.ReadFrames(&buf)
	require.NoError(t, rerr)
	return frames, err
}

func (h *harness) lastPrompt(t *testing.T) domain.Prompt {
	t.Helper()
	require.NotEmpty(t, h.streamer.prompts)
	return h.streamer.prompts[len(h.streamer.prompts)-1]
}

func expectConsultError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewConsultService_ValidatesDependencies(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{})
	full := h.svc.deps

	for _, drop := range []func(*Dependencies){
		func(d *Dependencies) { d.Classifier = nil },
		func(d *Dependencies) { d.Extractor = nil },
		func(d *Dependencies) { d.Searcher = nil },
		func(d *Dependencies) { d.Matcher = nil },
		func(d *Dependencies) { d.Streamer = nil },
		func(d *Dependencies) { d.Sessions = nil },
	} {
		deps := full
		drop(&deps)
		_, err := NewConsultService(deps, Config{})
		require.Error(t, err)
	}
}

func TestConsult_ScenarioA_OnlyGiftAsksForGender(t *testing.T) {
	gen := &scriptedGenerator{
		intent: "jewelry_consultation",
		slots:  map[domain.Slot]string{domain.SlotPurchaseType: "gift"},
	}
	h := newHarness(t, gen)

	frames, err := h.consult(t, ConsultInput{Message: "I want a gift", SessionID: "s-a"})
	require.NoError(t, err)
	require.Equal(t, []sse.Frame{
		{SessionID: "s-a"},
		{Chunk: "Hello"},
		{Chunk: ", lovely to meet you."},
	}, frames)

	p := h.lastPrompt(t)
	require.Contains(t, p.System, "who will wear the piece")
	require.Contains(t, p.Human, "- purchase_type: gift")
	require.Zero(t, gen.calls("product_match"), "nothing to compare beyond purchase type")

	s, err := h.store.Get(context.Background(), "s-a")
	require.NoError(t, err)
	require.Equal(t, 1, s.TurnCount)
	require.Equal(t, domain.PreferenceSet{PurchaseType: "gift"}, s.Preferences)
	require.Equal(t, "Hello, lovely to meet you.", s.Turns[0].Reply)
}

func TestConsult_ScenarioB_AllSlotsAndMatchRecommends(t *testing.T) {
	gen := &scriptedGenerator{
		intent:   "jewelry_consultation",
		slots:    fullSlots(),
		verdicts: map[int]string{3: `{"result":"MATCH","reason":""}`},
	}
	h := newHarness(t, gen)

	frames, err := h.consult(t, ConsultInput{Message: "a ruby ring in rose gold for my wife, around 2000", SessionID: "s-b"})
	require.NoError(t, err)
	require.Equal(t, sse.Frame{SessionID: "s-b"}, frames[0])

	p := h.lastPrompt(t)
	require.Contains(t, p.System, "Recommend the product below")
	require.Contains(t, p.System, "Product ID: 3")
	require.Contains(t, p.System, "https://img.example.com/gerbera.jpg")
	require.NotContains(t, p.System, "Ask the customer one friendly question")
	require.Equal(t, len(domain.DiscoveryOrder), gen.calls("extract_"))
}

func TestConsult_ScenarioC_NoMatchNavigatesOptions(t *testing.T) {
	gen := &scriptedGenerator{
		intent: "jewelry_consultation",
		slots:  fullSlots(),
		verdicts: map[int]string{
			1: `{"result":"NOT_FOUND","reason":"none of our ruby rings fit that budget"}`,
			2: `{"result":"NOT_FOUND","reason":"none of our ruby rings fit that budget"}`,
			3: `{"result":"NOT_FOUND","reason":"none of our ruby rings fit that budget"}`,
		},
	}
	h := newHarness(t, gen)

	_, err := h.consult(t, ConsultInput{Message: "ruby ring please", SessionID: "s-c"})
	require.NoError(t, err)

	p := h.lastPrompt(t)
	require.Contains(t, p.System, "No product in the collection matches")
	require.Contains(t, p.System, "none of our ruby rings fit that budget")
	require.NotContains(t, p.System, "Ask the customer one friendly question")
	require.Equal(t, len(testProducts()), gen.calls("product_match"))
}

func TestConsult_ScenarioD_GeneralSkipsExtractionAndMatching(t *testing.T) {
	gen := &scriptedGenerator{intent: "general_information", slots: fullSlots()}
	h := newHarness(t, gen)

	_, err := h.consult(t, ConsultInput{Message: "How do I clean silver?", SessionID: "s-d"})
	require.NoError(t, err)

	require.Zero(t, gen.calls("extract_"))
	require.Zero(t, gen.calls("product_match"))
	require.Contains(t, h.lastPrompt(t).System, "general question")
}

func TestConsult_UnreadableIntentIsGeneral(t *testing.T) {
	gen := &scriptedGenerator{intent: "shopping", slots: fullSlots()}
	h := newHarness(t, gen)

	_, err := h.consult(t, ConsultInput{Message: "hm", SessionID: "s"})
	require.NoError(t, err)
	require.Zero(t, gen.calls("extract_"))
}

func TestConsult_FoundButMissingSlotsAsksNext(t *testing.T) {
	slots := fullSlots()
	delete(slots, domain.SlotStoneType)
	delete(slots, domain.SlotBudgetRange)
	gen := &scriptedGenerator{
		intent:   "jewelry_consultation",
		slots:    slots,
		verdicts: map[int]string{3: `{"result":"MATCH","reason":""}`},
	}
	h := newHarness(t, gen)

	_, err := h.consult(t, ConsultInput{Message: "a rose gold ring", SessionID: "s"})
	require.NoError(t, err)
	require.Contains(t, h.lastPrompt(t).System, "which gemstone they prefer")
}

func TestConsult_StoredPreferencesSurvive(t *testing.T) {
	gen := &scriptedGenerator{
		intent:   "jewelry_consultation",
		slots:    map[domain.Slot]string{domain.SlotCategory: "rings"},
		verdicts: map[int]string{3: `{"result":"MATCH","reason":""}`},
	}
	h := newHarness(t, gen)
	seeded := domain.PreferenceSet{PurchaseType: "gift", Gender: "female"}
	require.NoError(t, h.store.Store.AppendTurn(context.Background(), "s", domain.Turn{Index: 0, Utterance: "gift for her", Reply: "Lovely."}, seeded))

	_, err := h.consult(t, ConsultInput{Message: "rings", SessionID: "s"})
	require.NoError(t, err)
	require.Contains(t, h.lastPrompt(t).System, "which metal they prefer")

	s, err := h.store.Get(context.Background(), "s")
	require.NoError(t, err)
	require.Equal(t, 2, s.TurnCount)
	require.Equal(t, domain.PreferenceSet{PurchaseType: "gift", Gender: "female", Category: "rings"}, s.Preferences)
}

func TestConsult_HistoryFeedsNextTurn(t *testing.T) {
	gen := &scriptedGenerator{intent: "general_information"}
	h := newHarness(t, gen)

	_, err := h.consult(t, ConsultInput{Message: "hi", SessionID: "s"})
	require.NoError(t, err)
	_, err = h.consult(t, ConsultInput{Message: "do you ship abroad?", SessionID: "s"})
	require.NoError(t, err)

	transcripts := gen.classifiedTranscripts()
	require.Len(t, transcripts, 2)
	require.Equal(t, "1. customer: hi;", transcripts[0])
	require.Equal(t, "1. customer: hi, assistant: Hello, lovely to meet you.;\n2. customer: do you ship abroad?;", transcripts[1])
}

func TestConsult_GeneratesSessionID(t *testing.T) {
	orig := newUUID
	newUUID = func() string { return "generated-id" }
	t.Cleanup(func() { newUUID = orig })

	h := newHarness(t, &scriptedGenerator{intent: "general_information"})
	frames, err := h.consult(t, ConsultInput{Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, sse.Frame{SessionID: "generated-id"}, frames[0])
}

func TestConsult_ValidationWritesNothing(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{intent: "general_information"})

	frames, err := h.consult(t, ConsultInput{Message: "   "})
	expectConsultError(t, err, ErrorInvalidInput, "empty_message")
	require.Empty(t, frames)

	frames, err = h.consult(t, ConsultInput{Message: strings.Repeat("a", defaultMaxMessage+1)})
	expectConsultError(t, err, ErrorInvalidInput, "message_too_long")
	require.Empty(t, frames)
}

func TestConsult_ClassificationFailureEmitsErrorFrame(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   ErrorCode
		reason string
	}{
		{name: "upstream", err: &openai.HTTPStatusError{StatusCode: http.StatusInternalServerError}, code: ErrorUpstream, reason: "intent_classification_error"},
		{name: "rate limited", err: &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}, code: ErrorRateLimited, reason: "intent_classification_rate_limited"},
		{name: "network", err: errors.New("connection reset"), code: ErrorUpstream, reason: "intent_classification_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, &scriptedGenerator{intentErr: tc.err})

			frames, err := h.consult(t, ConsultInput{Message: "hi", SessionID: "s"})
			expectConsultError(t, err, tc.code, tc.reason)
			require.Equal(t, []sse.Frame{{SessionID: "s"}, {Error: GenericErrorMessage}}, frames)
			require.Empty(t, h.streamer.prompts)
			require.Zero(t, h.store.appends)
		})
	}
}

func TestConsult_MidStreamFailureEndsWithErrorFrame(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{intent: "general_information"})
	h.streamer.chunks = []string{"Our store"}
	h.streamer.err = errors.New("stream reset")

	frames, err := h.consult(t, ConsultInput{Message: "opening hours?", SessionID: "s"})
	expectConsultError(t, err, ErrorUpstream, "response_stream_error")
	require.Equal(t, []sse.Frame{{SessionID: "s"}, {Chunk: "Our store"}, {Error: GenericErrorMessage}}, frames)
	require.Zero(t, h.store.appends)
}

func TestConsult_SessionLoadFailure(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{intent: "general_information"})
	h.store.getErr = errors.New("dynamodb down")

	frames, err := h.consult(t, ConsultInput{Message: "hi", SessionID: "s"})
	expectConsultError(t, err, ErrorInternal, "session_load_error")
	require.Equal(t, GenericErrorMessage, frames[len(frames)-1].Error)
}

func TestConsult_StoreConflictIsNotATurnFailure(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{intent: "general_information"})
	h.store.appendErr = fmt.Errorf("wrap: %w", repository.ErrTurnConflict)

	frames, err := h.consult(t, ConsultInput{Message: "hi", SessionID: "s"})
	require.NoError(t, err)
	require.Equal(t, 1, h.store.appends)
	for _, f := range frames {
		require.Empty(t, f.Error)
	}
}

func TestConsult_EmptyReplyNotStored(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{intent: "general_information"})
	h.streamer.chunks = nil

	frames, err := h.consult(t, ConsultInput{Message: "hi", SessionID: "s"})
	require.NoError(t, err)
	require.Equal(t, []sse.Frame{{SessionID: "s"}}, frames)
	require.Zero(t, h.store.appends)
}

func TestConsult_RetrievalQueryCarriesKnownValues(t *testing.T) {
	searcher := &recordingSearcher{}
	gen := &scriptedGenerator{intent: "jewelry_consultation", slots: map[domain.Slot]string{domain.SlotMetalType: "platinum"}}
	h := newHarness(t, gen)
	h.svc.deps.Searcher = searcher

	_, err := h.consult(t, ConsultInput{Message: "something sparkly", SessionID: "s"})
	require.NoError(t, err)
	require.Equal(t, []string{"something sparkly platinum"}, searcher.queries)
	require.Equal(t, defaultSearchK, searcher.k)
	require.Contains(t, h.lastPrompt(t).System, "No product in the collection matches")
	require.Contains(t, h.lastPrompt(t).System, matcher.ReasonNoProducts)
}

type recordingSearcher struct {
	queries []string
	k       int
}

func (s *recordingSearcher) Search(_ context.Context, query string, k int) ([]string, error) {
	s.queries = append(s.queries, query)
	s.k = k
	return []string{"  ", "Collection: broken record without terminator"}, nil
}
