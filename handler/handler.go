package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"gem-concierge/internal/sse"
	"gem-concierge/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 64 << 10
)

// Consulter runs consultation turns.
type Consulter interface {
	Validate(in usecase.ConsultInput) error
	Consult(ctx context.Context, in usecase.ConsultInput, out usecase.EventWriter) error
}

type Handler struct {
	consulter Consulter
	logger    *slog.Logger
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(consulter Consulter, logger *slog.Logger) (*Handler, error) {
	if consulter == nil {
		return nil, errors.New("handler: consulter must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{consulter: consulter, logger: logger}, nil
}

// Handle serves a Lambda Function URL invocation in response streaming mode.
// Request errors are answered with a JSON body before any stream is opened;
// otherwise the body is an event stream fed while the turn runs.
func (h *Handler) Handle(ctx context.Context, event events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	correlationID := correlationIDFrom(event.Headers)
	logger := h.logger.With("correlation_id", correlationID)

	body := event.Body
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			logger.WarnContext(ctx, "invalid base64 body", "err", err)
			return jsonError(http.StatusBadRequest, usecase.ErrorInvalidInput, correlationID), nil
		}
		body = string(decoded)
	}

	in, err := decodeRequest(strings.NewReader(body))
	if err != nil {
		logger.WarnContext(ctx, "invalid request body", "err", err)
		return jsonError(http.StatusBadRequest, usecase.ErrorInvalidInput, correlationID), nil
	}
	if err := h.consulter.Validate(in); err != nil {
		status, code := mapError(err)
		logger.WarnContext(ctx, "request rejected", "code", code, "err", err)
		return jsonError(status, code, correlationID), nil
	}

	pr, pw := io.Pipe()
	go func() {
		err := h.consulter.Consult(ctx, in, sse.NewWriter(pw))
		if err != nil {
			logger.ErrorContext(ctx, "consult turn ended with error", "err", err)
		}
		_ = pw.Close()
	}()

	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: http.StatusOK,
		Headers:    streamHeaders(correlationID),
		Body:       pr,
	}, nil
}

// ServeHTTP exposes the same chat endpoint over plain HTTP.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimSpace(r.Header.Get(correlationHeader))
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, usecase.ErrorInvalidInput, correlationID)
		return
	}
	in, err := decodeRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.WarnContext(r.Context(), "invalid request body", "err", err)
		writeJSONError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, correlationID)
		return
	}
	if err := h.consulter.Validate(in); err != nil {
		status, code := mapError(err)
		logger.WarnContext(r.Context(), "request rejected", "code", code, "err", err)
		writeJSONError(w, status, code, correlationID)
		return
	}

	for k, v := range streamHeaders(correlationID) {
		w.Header().Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
	if err := h.consulter.Consult(r.Context(), in, sse.NewWriter(w)); err != nil {
		logger.ErrorContext(r.Context(), "consult turn ended with error", "err", err)
	}
}

func decodeRequest(r io.Reader) (usecase.ConsultInput, error) {
	var req chatRequest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return usecase.ConsultInput{}, err
	}
	return usecase.ConsultInput{Message: req.Message, SessionID: req.SessionID}, nil
}

func mapError(err error) (int, usecase.ErrorCode) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, usecase.ErrorInternal
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, ucErr.Code
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, ucErr.Code
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, ucErr.Code
	default:
		return http.StatusInternalServerError, usecase.ErrorInternal
	}
}

func streamHeaders(correlationID string) map[string]string {
	return map[string]string{
		"Content-Type":    sse.ContentType,
		"Cache-Control":   "no-cache",
		correlationHeader: correlationID,
	}
}

func jsonError(status int, code usecase.ErrorCode, correlationID string) *events.LambdaFunctionURLStreamingResponse {
	b, _ := json.Marshal(errorResponse{Error: string(code)})
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: strings.NewReader(string(b)),
	}
}

func writeJSONError(w http.ResponseWriter, status int, code usecase.ErrorCode, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(correlationHeader, correlationID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: string(code)})
}

// correlationIDFrom reads the correlation header regardless of case, since
// Function URLs lowercase header names.
func correlationIDFrom(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}
