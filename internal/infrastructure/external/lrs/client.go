package lrs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tincanhub/tincan-launch/internal/domain/activity"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
	"github.com/tincanhub/tincan-launch/internal/domain/xapi"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the LRS client.
type ClientConfig struct {
	// Settings is the resolved LRS connection for this client instance.
	Settings activity.LRSSettings

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiter paces requests. It may be shared between clients
	// talking to the same LRS; nil disables pacing.
	RateLimiter *RateLimiter

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults for the given settings.
func DefaultClientConfig(settings activity.LRSSettings) ClientConfig {
	return ClientConfig{
		Settings:    settings,
		Timeout:     30 * time.Second,
		RateLimiter: NewRateLimiter(DefaultRateLimiterConfig()),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client talks xAPI to one LRS under one set of credentials. It is
// cheap to construct; callers build a fresh client from freshly
// resolved settings for every operation.
type Client struct {
	config     ClientConfig
	base       *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *RateLimiter
}

// NewClient creates a new LRS client from resolved settings.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	endpoint := strings.TrimRight(config.Settings.Endpoint, "/") + "/"
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, shared.NewDomainError("lrs", "NewClient", shared.ErrInvalidInput,
			fmt.Sprintf("invalid endpoint %q", config.Settings.Endpoint))
	}

	return &Client{
		config:     config,
		base:       base,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     config.Logger,
		limiter:    config.RateLimiter,
	}, nil
}

// Endpoint returns the normalized endpoint base URL.
func (c *Client) Endpoint() string {
	return strings.TrimRight(c.base.String(), "/")
}

// BasicAuthorization returns the Authorization header value launched
// content uses to talk back to the LRS.
func (c *Client) BasicAuthorization() string {
	credentials := c.config.Settings.Username + ":" + c.config.Settings.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

// ══════════════════════════════════════════════════════════════════════════════
// STATEMENT OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// QueryStatements fetches one page of statements matching the query.
// An LRS answering 404 for the filter set is treated as an empty page.
func (c *Client) QueryStatements(ctx context.Context, q xapi.StatementQuery) (*StatementsResultDTO, error) {
	params := url.Values{}
	if q.ActivityIRI != "" {
		params.Set("activity", q.ActivityIRI)
	}
	if q.VerbIRI != "" {
		params.Set("verb", q.VerbIRI)
	}
	agentJSON, err := json.Marshal(q.Agent)
	if err != nil {
		return nil, fmt.Errorf("marshal agent: %w", err)
	}
	params.Set("agent", string(agentJSON))
	if q.Since != nil {
		params.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	params.Set("related_activities", "false")
	params.Set("format", "ids")

	return c.fetchStatementsPage(ctx, "QueryStatements", c.resolve("statements?"+params.Encode()))
}

// MoreStatements fetches the page behind a continuation URL returned in
// a previous result. The continuation is resolved against the endpoint
// host, since the LRS returns it relative to its own root.
func (c *Client) MoreStatements(ctx context.Context, more string) (*StatementsResultDTO, error) {
	moreURL, err := url.Parse(more)
	if err != nil {
		return nil, shared.NewDomainError("lrs", "MoreStatements", shared.ErrInvalidInput,
			fmt.Sprintf("invalid continuation %q", more))
	}
	return c.fetchStatementsPage(ctx, "MoreStatements", c.base.ResolveReference(moreURL).String())
}

func (c *Client) fetchStatementsPage(ctx context.Context, op, fullURL string) (*StatementsResultDTO, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, body, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var result StatementsResultDTO
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, shared.WrapError("lrs", op, shared.ErrLRSTransport,
				"malformed statements result", err)
		}
		return &result, nil
	case http.StatusNotFound:
		return &StatementsResultDTO{}, nil
	default:
		return nil, c.statusError(op, resp.StatusCode, body)
	}
}

// FetchAllStatements follows the continuation chain until exhausted and
// returns the concatenated statements. Any page failing fails the whole
// fetch; a partial set must never masquerade as the complete record.
func (c *Client) FetchAllStatements(ctx context.Context, q xapi.StatementQuery) ([]xapi.Statement, error) {
	page, err := c.QueryStatements(ctx, q)
	if err != nil {
		return nil, err
	}

	all := page.Statements
	for page.More != "" {
		page, err = c.MoreStatements(ctx, page.More)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Statements...)
	}
	return all, nil
}

// SaveStatement records a statement on the LRS.
func (c *Client) SaveStatement(ctx context.Context, st xapi.Statement) error {
	if err := c.doRequest(ctx, http.MethodPost, "statements", nil, st, nil); err != nil {
		return fmt.Errorf("save statement: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE API
// ══════════════════════════════════════════════════════════════════════════════

// GetState fetches a State API document. A missing document is not an
// error: the result is a nil body and empty ETag.
func (c *Client) GetState(ctx context.Context, activityIRI string, agent xapi.Agent, stateID string) ([]byte, string, error) {
	params, err := stateParams(activityIRI, agent, stateID)
	if err != nil {
		return nil, "", err
	}

	req, err := c.newRequest(ctx, http.MethodGet, "activities/state?"+params.Encode(), nil, nil)
	if err != nil {
		return nil, "", err
	}

	resp, body, err := c.execute(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("get state: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, resp.Header.Get("ETag"), nil
	case http.StatusNotFound:
		return nil, "", nil
	default:
		return nil, "", c.statusError("GetState", resp.StatusCode, body)
	}
}

// PutState writes a State API document guarded by optimistic
// concurrency. An empty etag asserts the document must not yet exist
// (If-None-Match: *); a non-empty etag asserts it is unchanged since
// the read (If-Match). A precondition failure surfaces as
// shared.ErrConcurrentModification; the caller aborts rather than
// retries, so exactly one concurrent writer wins.
func (c *Client) PutState(ctx context.Context, activityIRI string, agent xapi.Agent, stateID string, doc []byte, etag string) error {
	params, err := stateParams(activityIRI, agent, stateID)
	if err != nil {
		return err
	}

	headers := http.Header{}
	if etag == "" {
		headers.Set("If-None-Match", "*")
	} else {
		headers.Set("If-Match", etag)
	}

	req, err := c.newRequest(ctx, http.MethodPut, "activities/state?"+params.Encode(), headers, bytes.NewReader(doc))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, body, err := c.execute(ctx, req)
	if err != nil {
		return fmt.Errorf("put state: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusPreconditionFailed:
		return shared.NewDomainError("lrs", "PutState", shared.ErrConcurrentModification,
			"state document changed since read")
	default:
		return c.statusError("PutState", resp.StatusCode, body)
	}
}

func stateParams(activityIRI string, agent xapi.Agent, stateID string) (url.Values, error) {
	agentJSON, err := json.Marshal(agent)
	if err != nil {
		return nil, fmt.Errorf("marshal agent: %w", err)
	}
	params := url.Values{}
	params.Set("activityId", activityIRI)
	params.Set("agent", string(agentJSON))
	params.Set("stateId", stateID)
	return params, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AGENT PROFILE API
// ══════════════════════════════════════════════════════════════════════════════

// GetAgentProfile fetches an Agent Profile document. Missing documents
// return a nil body, matching GetState.
func (c *Client) GetAgentProfile(ctx context.Context, agent xapi.Agent, profileID string) ([]byte, string, error) {
	params, err := profileParams(agent, profileID)
	if err != nil {
		return nil, "", err
	}

	req, err := c.newRequest(ctx, http.MethodGet, "agents/profile?"+params.Encode(), nil, nil)
	if err != nil {
		return nil, "", err
	}

	resp, body, err := c.execute(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("get agent profile: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, resp.Header.Get("ETag"), nil
	case http.StatusNotFound:
		return nil, "", nil
	default:
		return nil, "", c.statusError("GetAgentProfile", resp.StatusCode, body)
	}
}

// PutAgentProfile writes an Agent Profile document under the same ETag
// discipline as PutState.
func (c *Client) PutAgentProfile(ctx context.Context, agent xapi.Agent, profileID string, doc any, etag string) error {
	params, err := profileParams(agent, profileID)
	if err != nil {
		return err
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	headers := http.Header{}
	if etag == "" {
		headers.Set("If-None-Match", "*")
	} else {
		headers.Set("If-Match", etag)
	}

	req, err := c.newRequest(ctx, http.MethodPut, "agents/profile?"+params.Encode(), headers, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, respBody, err := c.execute(ctx, req)
	if err != nil {
		return fmt.Errorf("put agent profile: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusPreconditionFailed:
		return shared.NewDomainError("lrs", "PutAgentProfile", shared.ErrConcurrentModification,
			"agent profile changed since read")
	default:
		return c.statusError("PutAgentProfile", resp.StatusCode, respBody)
	}
}

func profileParams(agent xapi.Agent, profileID string) (url.Values, error) {
	agentJSON, err := json.Marshal(agent)
	if err != nil {
		return nil, fmt.Errorf("marshal agent: %w", err)
	}
	params := url.Values{}
	params.Set("agent", string(agentJSON))
	params.Set("profileId", profileID)
	return params, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy checks whether the LRS answers its about resource.
func (c *Client) IsHealthy(ctx context.Context) bool {
	var about AboutDTO
	err := c.doRequest(ctx, http.MethodGet, "about", nil, nil, &about)
	return err == nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// resolve turns an endpoint-relative path into an absolute URL.
func (c *Client) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.base.String() + path
	}
	return c.base.ResolveReference(ref).String()
}

// doRequest performs a JSON request against an endpoint-relative path.
func (c *Client) doRequest(ctx context.Context, method, path string, headers http.Header, body any, result any) error {
	return c.doAbsolute(ctx, method, c.resolve(path), headers, body, result)
}

func (c *Client) doAbsolute(ctx context.Context, method, fullURL string, headers http.Header, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setCommonHeaders(req)
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, respBody, err := c.execute(ctx, req)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return c.statusError(method+" "+req.URL.Path, resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return shared.WrapError("lrs", "doRequest", shared.ErrLRSTransport,
				"malformed response body", err)
		}
	}
	return nil
}

// newRequest builds an endpoint-relative request without executing it.
// Used by operations that need raw status handling.
func (c *Client) newRequest(ctx context.Context, method, path string, headers http.Header, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, shared.NewDomainError("lrs", "newRequest", shared.ErrInvalidInput,
			fmt.Sprintf("invalid path %q", path))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setCommonHeaders(req)
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.SetBasicAuth(c.config.Settings.Username, c.config.Settings.Password)
	req.Header.Set("X-Experience-API-Version", c.config.Settings.Version)
	req.Header.Set("Accept", "application/json")
}

// execute runs the request through the rate limiter and reads the full
// body. Transport failures are wrapped as shared.ErrLRSTransport; the
// operation fails rather than retries, per the failure model.
func (c *Client) execute(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Allow(ctx); err != nil {
			return nil, nil, shared.WrapError("lrs", "execute", shared.ErrLRSTransport,
				"rate limiter wait", err)
		}
	}

	if c.config.Debug {
		c.logger.Debug("lrs request", "method", req.Method, "path", req.URL.Path)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, shared.WrapError("lrs", "execute", shared.ErrLRSTransport,
			"http request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, shared.WrapError("lrs", "execute", shared.ErrLRSTransport,
			"read response", err)
	}

	if c.config.Debug {
		c.logger.Debug("lrs response",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
			"latency", time.Since(start))
	}

	return resp, body, nil
}

// statusError maps an unexpected HTTP status to a transport error.
func (c *Client) statusError(op string, status int, body []byte) error {
	msg := fmt.Sprintf("unexpected status %d", status)
	if len(body) > 0 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		msg += ": " + snippet
	}
	return shared.NewDomainError("lrs", op, shared.ErrLRSTransport, msg)
}
