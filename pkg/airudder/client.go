// Package airudder is a client for the AI Rudder predictive dialer (PDS) API.
package airudder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/dialer-cli/internal/resilience"
)

const defaultBaseURL = "https://sg-pds-api.airudder.com"

// Client defines the AI Rudder PDS operations used by the dialer.
type Client interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (*CreateTaskResponse, error)
	ListTaskCalls(ctx context.Context, req ListCallsRequest) (*ListCallsResponse, error)
}

// APIError is returned when the vendor responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("airudder: HTTP %d: %s", e.StatusCode, e.Body)
}

// VendorError is returned when the vendor responds 200 with a non-zero code.
type VendorError struct {
	Code    int
	Message string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("airudder: code %d: %s", e.Code, e.Message)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Body    json.RawMessage `json:"body"`
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	appKey    string
	appSecret string
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	nowFunc     func() time.Time
}

// NewClient creates a new AI Rudder client.
func NewClient(appKey, appSecret string, opts ...Option) Client {
	c := &httpClient{
		appKey:    appKey,
		appSecret: appSecret,
		baseURL:   defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) CreateTask(ctx context.Context, req CreateTaskRequest) (*CreateTaskResponse, error) {
	if len(req.ContactList) == 0 {
		return nil, eris.New("airudder: create task with no contacts")
	}
	var resp CreateTaskResponse
	if err := c.call(ctx, http.MethodPost, "/service/pds/task/create", nil, req, &resp); err != nil {
		return nil, eris.Wrapf(err, "airudder: create task %s", req.TaskName)
	}
	if resp.TaskID == "" {
		return nil, eris.Errorf("airudder: create task %s: empty task id", req.TaskName)
	}
	return &resp, nil
}

func (c *httpClient) ListTaskCalls(ctx context.Context, req ListCallsRequest) (*ListCallsResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Set("taskId", req.TaskID)
	q.Set("startTime", req.Start.UTC().Format(time.RFC3339))
	q.Set("endTime", req.End.UTC().Format(time.RFC3339))
	q.Set("offset", strconv.Itoa(req.Offset))
	q.Set("limit", strconv.Itoa(limit))

	var resp ListCallsResponse
	if err := c.call(ctx, http.MethodGet, "/service/pds/task/calls", q, nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "airudder: list calls for task %s", req.TaskID)
	}
	return &resp, nil
}

// call performs an authenticated request, refreshing the token once on 401.
func (c *httpClient) call(ctx context.Context, method, path string, q url.Values, body, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.accessToken(ctx, attempt > 0)
		if err != nil {
			return err
		}
		err = c.send(ctx, method, path, q, body, token, out)
		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			continue
		}
		return err
	}
	return nil
}

func (c *httpClient) accessToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.token != "" && c.nowFunc().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}
	reqBody := map[string]string{"appKey": c.appKey, "appSecret": c.appSecret}
	if err := c.send(ctx, http.MethodPost, "/service/auth/token", nil, reqBody, "", &resp); err != nil {
		return "", eris.Wrap(err, "airudder: fetch token")
	}
	if resp.Token == "" {
		return "", eris.New("airudder: empty token")
	}
	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.token = resp.Token
	c.tokenExpiry = c.nowFunc().Add(ttl - refreshMargin(ttl))
	return c.token, nil
}

// refreshMargin is how early a token is renewed so in-flight calls never
// carry an expired one: a minute, or half the lifetime of short tokens.
func refreshMargin(ttl time.Duration) time.Duration {
	return min(time.Minute, ttl/2)
}

func (c *httpClient) send(ctx context.Context, method, path string, q url.Values, body any, token string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limit wait")
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return eris.Wrap(err, "decode response")
	}
	if env.Code != 0 {
		return &VendorError{Code: env.Code, Message: env.Message}
	}
	if out != nil && len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, out); err != nil {
			return eris.Wrap(err, "decode response body")
		}
	}
	return nil
}
