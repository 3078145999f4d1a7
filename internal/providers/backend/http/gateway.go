package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/convergekit/converge/backend"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	mediaTypeJSON      = "application/json"
	maxResponseBytes   = 16 << 20
)

var _ backend.Client = (*Gateway)(nil)
var _ backend.Verifier = (*Gateway)(nil)

// Gateway speaks the backend's JSON bulk CRUD contract:
//
//	POST   {base}/{collection}/retrieve   {"ids": [...]}    -> {"items": [...]}
//	POST   {base}/{collection}            {"items": [...]}  -> {"items": [...]}
//	PUT    {base}/{collection}            {"items": [...]}  -> {"items": [...]}
//	POST   {base}/{collection}/delete     {"ids": [...]}    -> {"deleted": n}
//	GET    {base}/{collection}?namespace=&dataset=&page_token=
//
// Unknown identifiers in retrieve and delete are ignored by the backend.
type Gateway struct {
	baseURL *url.URL
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

type Option func(*Gateway)

// WithRequestRate caps outgoing requests per second. Zero or negative
// disables the limiter.
func WithRequestRate(perSecond float64) Option {
	return func(g *Gateway) {
		if perSecond <= 0 {
			return
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.client.Timeout = timeout
		}
	}
}

func NewGateway(baseURL string, token string, opts ...Option) (*Gateway, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, internalError("invalid backend base URL", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, internalError("backend base URL requires scheme and host", nil)
	}

	gateway := &Gateway{
		baseURL: parsed,
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gateway)
		}
	}
	return gateway, nil
}

func (g *Gateway) Retrieve(ctx context.Context, collection string, ids []string) ([]map[string]any, error) {
	var response struct {
		Items []map[string]any `json:"items"`
	}
	err := g.call(ctx, http.MethodPost, collection+"/retrieve", nil,
		map[string]any{"ids": ids}, &response)
	if err != nil {
		return nil, err
	}
	return response.Items, nil
}

func (g *Gateway) Create(ctx context.Context, collection string, items []map[string]any) ([]map[string]any, error) {
	var response struct {
		Items []map[string]any `json:"items"`
	}
	err := g.call(ctx, http.MethodPost, collection, nil,
		map[string]any{"items": items}, &response)
	if err != nil {
		return nil, err
	}
	return response.Items, nil
}

func (g *Gateway) Update(ctx context.Context, collection string, items []map[string]any) ([]map[string]any, error) {
	var response struct {
		Items []map[string]any `json:"items"`
	}
	err := g.call(ctx, http.MethodPut, collection, nil,
		map[string]any{"items": items}, &response)
	if err != nil {
		return nil, err
	}
	return response.Items, nil
}

func (g *Gateway) Delete(ctx context.Context, collection string, ids []string) (int, error) {
	var response struct {
		Deleted int `json:"deleted"`
	}
	err := g.call(ctx, http.MethodPost, collection+"/delete", nil,
		map[string]any{"ids": ids}, &response)
	if err != nil {
		return 0, err
	}
	return response.Deleted, nil
}

func (g *Gateway) Iterate(ctx context.Context, collection string, scope backend.Scope, pageToken string) (backend.Page, error) {
	query := url.Values{}
	if scope.Namespace != "" {
		query.Set("namespace", scope.Namespace)
	}
	if scope.Dataset != "" {
		query.Set("dataset", scope.Dataset)
	}
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}

	var response struct {
		Items     []map[string]any `json:"items"`
		NextToken string           `json:"next_token"`
	}
	if err := g.call(ctx, http.MethodGet, collection, query, nil, &response); err != nil {
		return backend.Page{}, err
	}
	return backend.Page{Items: response.Items, NextToken: response.NextToken}, nil
}

// Verify implements backend.Verifier against the backend's capability
// endpoint; an empty missing list means authorized.
func (g *Gateway) Verify(ctx context.Context, required []backend.Capability) ([]backend.Capability, error) {
	capabilities := make([]string, len(required))
	for idx, capability := range required {
		capabilities[idx] = string(capability)
	}

	var response struct {
		Missing []string `json:"missing"`
	}
	err := g.call(ctx, http.MethodPost, "capabilities/verify", nil,
		map[string]any{"capabilities": capabilities}, &response)
	if err != nil {
		return nil, err
	}

	missing := make([]backend.Capability, len(response.Missing))
	for idx, capability := range response.Missing {
		missing[idx] = backend.Capability(capability)
	}
	return missing, nil
}

func (g *Gateway) call(
	ctx context.Context,
	method string,
	collectionPath string,
	query url.Values,
	requestBody any,
	out any,
) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	target := g.baseURL.JoinPath(collectionPath)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return internalError("encoding request body", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return internalError("building backend request", err)
	}
	request.Header.Set("Accept", mediaTypeJSON)
	if bodyReader != nil {
		request.Header.Set("Content-Type", mediaTypeJSON)
	}
	if g.token != "" {
		request.Header.Set("Authorization", "Bearer "+g.token)
	}

	response, err := g.client.Do(request)
	if err != nil {
		return transportError("backend request failed", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return transportError("reading backend response", err)
	}
	if response.StatusCode >= http.StatusBadRequest {
		return classifyStatusError(response.StatusCode, body)
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return internalError("decoding backend response", err)
	}
	return nil
}
