package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"gem-concierge/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client generates structured and streamed completions. The API key and the
// model name live in SSM and are fetched on first use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	mu    sync.Mutex
	api   *openai.Client
	model string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for
// API key and model retrieval.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolve builds the SDK client on the first successful call. A failed SSM
// read is not cached so the next turn tries again.
func (c *Client) resolve(ctx context.Context) (*openai.Client, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, c.model, nil
	}

	apiKey, err := fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	if err != nil {
		return nil, "", err
	}
	model, err := c.getter.GetParameter(ctx, c.modelParameterName())
	if err != nil {
		return nil, "", fmt.Errorf("openai: fetch model from paramstore: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, "", errors.New("openai: model must not be empty")
	}

	api := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(apiBaseURL(c.baseURL)),
		option.WithHTTPClient(c.resolvedHTTPClient()),
		option.WithMaxRetries(0),
	)
	c.api = &api
	c.model = model
	return c.api, c.model, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

func (c *Client) modelParameterName() string {
	return c.paramPrefix + "/config/openai_model"
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 60s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// apiBaseURL normalizes a base URL so the SDK joins paths under /v1/.
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/"
}

// Generate runs one Responses API call. With a schema the output is
// constrained to strict JSON; without one it is free text.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	api, model, err := c.resolve(ctx)
	if err != nil {
		return "", err
	}

	params := responses.ResponseNewParams{
		Model:        model,
		Instructions: openai.String(req.Prompt.System),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.Prompt.Human, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if req.Schema != nil {
		if strings.TrimSpace(req.SchemaName) == "" {
			return "", errors.New("openai: schema name must not be empty")
		}
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   req.SchemaName,
					Schema: req.Schema,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		}
	}

	resp, err := api.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", statusError(err))
	}
	return resp.OutputText(), nil
}

// Stream runs a streamed chat completion and hands each content delta to
// onChunk in arrival order. An error from onChunk stops the stream.
func (c *Client) Stream(ctx context.Context, p domain.Prompt, onChunk func(chunk string) error) error {
	api, model, err := c.resolve(ctx)
	if err != nil {
		return err
	}

	stream := api.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(p.Human),
		},
	})
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := onChunk(delta); err != nil {
			return fmt.Errorf("openai: deliver chunk: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai: stream failed: %w", statusError(err))
	}
	return nil
}

// statusError converts SDK API errors into HTTPStatusError so callers can
// branch on the status code without importing the SDK.
func statusError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	url := ""
	if apiErr.Request != nil && apiErr.Request.URL != nil {
		url = apiErr.Request.URL.String()
	}
	return &HTTPStatusError{
		StatusCode: apiErr.StatusCode,
		URL:        url,
		Body:       apiErr.Message,
	}
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
