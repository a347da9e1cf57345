package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonwraymond/querysync/observe"
	"github.com/jonwraymond/querysync/resilience"
)

const (
	restPath = "/rest/v1/"
	rpcPath  = "/rest/v1/rpc/"

	maxErrorBody = 64 << 10
)

// Config configures a Client.
type Config struct {
	// BaseURL is the project URL, e.g. https://xyz.supabase.co.
	BaseURL string
	// APIKey is sent as the apikey header on every request.
	APIKey string
	// Token supplies the bearer token. Default: the APIKey.
	Token TokenSource
	// HTTPClient performs requests. Default: a client with Timeout.
	HTTPClient *http.Client
	// Timeout bounds each HTTP round trip when HTTPClient is nil.
	// Default: 30 seconds
	Timeout time.Duration
	// Resilience configures rate limiting, the circuit breaker, concurrency
	// and per-call timeouts.
	Resilience resilience.Config
}

// Client talks to the backend.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: non-2xx responses return *APIError; invalid queries are rejected
//   with ErrInvalidQuery before any request is sent.
type Client struct {
	base   *url.URL
	apiKey string
	token  TokenSource
	http   *http.Client
	exec   *resilience.Executor
	mw     *observe.Middleware
	logger observe.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMiddleware instruments every call.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(c *Client) {
		if mw != nil {
			c.mw = mw
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithExecutor replaces the executor built from Config.Resilience.
func WithExecutor(e *resilience.Executor) Option {
	return func(c *Client) {
		if e != nil {
			c.exec = e
		}
	}
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	token := cfg.Token
	if token == nil {
		token = StaticToken(cfg.APIKey)
	}

	c := &Client{
		base:   base,
		apiKey: cfg.APIKey,
		token:  token,
		http:   httpClient,
		mw:     observe.NopMiddleware(),
		logger: observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exec == nil {
		breaker := resilience.CircuitBreakerConfig{
			Name:      "backend",
			IsFailure: countsAgainstBreaker,
			OnStateChange: func(name string, from, to resilience.State) {
				c.logger.Warn(context.Background(), "circuit breaker state change",
					observe.F("breaker", name), observe.F("from", from.String()), observe.F("to", to.String()))
			},
		}
		exec, err := resilience.NewExecutorFromConfig(cfg.Resilience, breaker)
		if err != nil {
			return nil, err
		}
		c.exec = exec
	}
	return c, nil
}

// Executor returns the executor protecting the client.
func (c *Client) Executor() *resilience.Executor {
	return c.exec
}

// Select reads rows of table matching q and returns the JSON array.
func (c *Client) Select(ctx context.Context, table string, q Query) (json.RawMessage, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	meta := observe.OperationMeta{Kind: observe.KindQuery, Resource: table, Name: "select"}
	return c.call(ctx, meta, http.MethodGet, restPath+table, q.Values(), nil, nil)
}

// Single reads exactly one row. An empty result returns ErrNotFound.
func (c *Client) Single(ctx context.Context, table string, q Query) (json.RawMessage, error) {
	q.Limit = 1
	raw, err := c.Select(ctx, table, q)
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("backend: decode %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, table)
	}
	return rows[0], nil
}

// Insert writes rows (one object or an array) and returns the inserted rows.
func (c *Client) Insert(ctx context.Context, table string, rows any) (json.RawMessage, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("backend: encode %s rows: %w", table, err)
	}
	meta := observe.OperationMeta{Kind: observe.KindMutation, Resource: table, Name: "insert"}
	return c.call(ctx, meta, http.MethodPost, restPath+table, nil, body, returnRepresentation)
}

// Update patches rows matching filters. At least one filter is required.
func (c *Client) Update(ctx context.Context, table string, filters []Filter, patch any) (json.RawMessage, error) {
	params, err := writeFilters(table, filters)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("backend: encode %s patch: %w", table, err)
	}
	meta := observe.OperationMeta{Kind: observe.KindMutation, Resource: table, Name: "update"}
	return c.call(ctx, meta, http.MethodPatch, restPath+table, params, body, returnRepresentation)
}

// Delete removes rows matching filters. At least one filter is required.
func (c *Client) Delete(ctx context.Context, table string, filters []Filter) error {
	params, err := writeFilters(table, filters)
	if err != nil {
		return err
	}
	meta := observe.OperationMeta{Kind: observe.KindMutation, Resource: table, Name: "delete"}
	_, err = c.call(ctx, meta, http.MethodDelete, restPath+table, params, nil, nil)
	return err
}

// RPC calls a stored procedure with named args and returns its JSON result.
func (c *Client) RPC(ctx context.Context, fn string, args any) (json.RawMessage, error) {
	if !columnPattern.MatchString(fn) {
		return nil, fmt.Errorf("%w: bad function name %q", ErrInvalidQuery, fn)
	}
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("backend: encode %s args: %w", fn, err)
	}
	meta := observe.OperationMeta{Kind: observe.KindRPC, Resource: fn, Name: "call"}
	return c.call(ctx, meta, http.MethodPost, rpcPath+fn, nil, body, nil)
}

// Ping checks that the REST endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	meta := observe.OperationMeta{Kind: observe.KindQuery, Name: "ping"}
	_, err := c.call(ctx, meta, http.MethodHead, restPath, nil, nil, nil)
	return err
}

func validateTable(table string) error {
	if !columnPattern.MatchString(table) {
		return fmt.Errorf("%w: bad table %q", ErrInvalidQuery, table)
	}
	return nil
}

func writeFilters(table string, filters []Filter) (url.Values, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("%w: %s write without filters", ErrInvalidQuery, table)
	}
	params := url.Values{}
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}
	encodeFilters(params, filters)
	return params, nil
}

var returnRepresentation = map[string]string{"Prefer": "return=representation"}

func (c *Client) call(ctx context.Context, meta observe.OperationMeta, method, path string, params url.Values, body []byte, headers map[string]string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.mw.Run(ctx, meta, func(ctx context.Context) error {
		return c.exec.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = c.do(ctx, method, path, params, body, headers)
			return err
		})
	})
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte, headers map[string]string) (json.RawMessage, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}

	token, ok := TokenFromContext(ctx)
	if !ok {
		token, err = c.token.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("backend: token: %w", err)
		}
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseAPIError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

func parseAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		// Some gateways answer with {"error": "...", "msg": "..."} or plain text.
		var alt struct {
			Error string `json:"error"`
			Msg   string `json:"msg"`
		}
		if json.Unmarshal(data, &alt) == nil && (alt.Msg != "" || alt.Error != "") {
			apiErr.Message = alt.Msg
			if apiErr.Message == "" {
				apiErr.Message = alt.Error
			}
		} else if text := strings.TrimSpace(string(data)); text != "" && !strings.HasPrefix(text, "{") {
			apiErr.Message = text
		}
	}
	apiErr.Status = resp.StatusCode
	return apiErr
}
