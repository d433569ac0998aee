package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BaseConfig is the per-provider adapter configuration. BaseURL is the
// full endpoint URL.
type BaseConfig struct {
	Provider  string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
	StatePath StatePath
}

// AuthProvider adds provider-specific authentication to a request.
type AuthProvider interface {
	AddAuth(req *http.Request, apiKey string)
}

// RequestConverter builds the provider wire body, plus any headers the
// body shape implies. Converters apply Options.ExtraBody themselves, since
// how overrides combine with the body is provider-specific.
type RequestConverter interface {
	ConvertRequest(req *Request, cfg *BaseConfig) (map[string]any, http.Header, error)
}

// endpointResolver lets a converter derive the request URL when the
// provider encodes the model in the path.
type endpointResolver interface {
	Endpoint(req *Request, cfg *BaseConfig) string
}

// ResponseConverter decodes the provider wire response into the canonical
// result.
type ResponseConverter interface {
	ConvertResponse(data []byte, req *Request, cfg *BaseConfig) (*Result, error)
}

// BaseClient implements the shared HTTP plumbing; each adapter supplies
// its converters and auth.
type BaseClient struct {
	config     BaseConfig
	httpClient *http.Client
	auth       AuthProvider
	reqConv    RequestConverter
	respConv   ResponseConverter
}

// NewBaseClient wires a provider adapter out of its converters.
func NewBaseClient(config BaseConfig, auth AuthProvider, reqConv RequestConverter, respConv ResponseConverter) *BaseClient {
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	return &BaseClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		auth:       auth,
		reqConv:    reqConv,
		respConv:   respConv,
	}
}

// Provider returns the provider name.
func (b *BaseClient) Provider() string {
	return b.config.Provider
}

// Send converts, posts and decodes one request.
func (b *BaseClient) Send(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	body, headers, err := b.reqConv.ConvertRequest(req, &b.config)
	if err != nil {
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}

	url := b.config.BaseURL
	if resolver, ok := b.reqConv.(endpointResolver); ok {
		url = resolver.Endpoint(req, &b.config)
	}

	data, err := b.post(ctx, url, body, headers, req.Options.ExtraHeaders)
	if err != nil {
		return nil, err
	}

	result, err := b.respConv.ConvertResponse(data, req, &b.config)
	if err != nil {
		return nil, fmt.Errorf("failed to convert response: %w", err)
	}
	b.stampLimit(req, result)
	return result, nil
}

func (b *BaseClient) post(ctx context.Context, url string, body map[string]any, headers http.Header, extraHeaders map[string]string) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, values := range headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	for key, value := range extraHeaders {
		httpReq.Header.Set(key, value)
	}
	b.auth.AddAuth(httpReq, b.config.APIKey)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAdapterError(b.config.Provider, resp.StatusCode, respBody)
	}
	return respBody, nil
}

// stampLimit records the output budget the request was subject to, so the
// usage summary can compute remaining tokens.
func (b *BaseClient) stampLimit(req *Request, result *Result) {
	if result.Usage == nil || result.Usage.Limit > 0 {
		return
	}
	switch {
	case req.Options.MaxTokens > 0:
		result.Usage.Limit = req.Options.MaxTokens
		result.Usage.LimitBasis = "request"
	case b.config.MaxTokens > 0:
		result.Usage.Limit = b.config.MaxTokens
		result.Usage.LimitBasis = "config_default"
	}
}
