// Package cloud is the authenticated transport to the vendor device API: it
// fetches the account's device graph, reads attribute snapshots, and writes
// single attributes.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the vendor API root.
const DefaultBaseURL = "https://api2.afero.net/v1"

// DefaultTimeout bounds every request made with the default HTTP client.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// TokenSource supplies bearer tokens. Invalidate is called with a token the
// API rejected so the next Token call obtains a fresh one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(token string)
}

// Client talks to the vendor API on behalf of one account.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	accountID string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithAccountID skips the /users/me lookup.
func WithAccountID(id string) Option {
	return func(c *Client) { c.accountID = id }
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "cloud")
	return c
}

// AccountID returns the account the credentials belong to, fetching it once.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.accountID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	data, err := c.do(ctx, "get account", http.MethodGet, "/users/me", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		AccountAccess []struct {
			Account struct {
				AccountID string `json:"accountId"`
			} `json:"account"`
		} `json:"accountAccess"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parsing account: %w", err)
	}
	if len(resp.AccountAccess) == 0 || resp.AccountAccess[0].Account.AccountID == "" {
		return "", fmt.Errorf("get account: no account access for user")
	}

	id = resp.AccountAccess[0].Account.AccountID
	c.mu.Lock()
	c.accountID = id
	c.mu.Unlock()
	c.logger.Info("account resolved", "account", id)
	return id, nil
}

// do performs an authenticated request and returns the response body of a
// 2xx response. A 401 invalidates the token and is retried once.
func (c *Client) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding body: %w", op, err)
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		status, header, data, err := c.send(ctx, method, path, payload, token)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
		}

		if status == http.StatusUnauthorized && attempt == 0 {
			c.logger.Debug("token rejected, retrying once", "op", op)
			c.tokens.Invalidate(token)
			continue
		}
		if status >= 200 && status < 300 {
			return data, nil
		}
		return nil, newAPIError(op, status, header, data)
	}
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (int, http.Header, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reader = io.LimitReader(resp.Body, maxErrorBody)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, resp.Header, data, nil
}

func newAPIError(op string, status int, header http.Header, data []byte) *APIError {
	apiErr := &APIError{Op: op, StatusCode: status}

	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Description = body.ErrorDescription
		if apiErr.Description == "" {
			apiErr.Description = body.Error
		}
	}
	if status == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(header.Get("Retry-After")); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}
