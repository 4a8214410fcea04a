package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const defaultUserAgent = "graphfiles/0.1"

// maxErrorBody caps how much of an error response is kept for diagnostics.
const maxErrorBody = 64 * 1024

// TokenSource provides a bearer token for one request. The auth package
// provides the real implementation. Token errors are wrapped, not replaced,
// so callers can still match the token layer's error types.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is an HTTP client for the signed-in user's drive.
// It handles request construction, authentication and error
// classification. It holds no per-request state and is safe for
// concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string
}

// NewClient creates a Graph API client.
// baseURL is typically DefaultBaseURL; tests point it at a fake server.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  defaultUserAgent,
	}
}

// requestOption customizes an outgoing request before it is sent.
type requestOption func(*http.Request)

func withHeader(key, value string) requestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

func withContentLength(n int64) requestOption {
	return func(r *http.Request) {
		switch {
		case n == 0:
			// An empty body with ContentLength 0 would be sent chunked.
			r.Body = http.NoBody
			r.GetBody = nil
			r.ContentLength = 0
		case n > 0:
			r.ContentLength = n
		}
	}
}

// Do executes one authenticated request against the Graph API.
// The path is appended to the client's base URL. Non-2xx responses are
// returned as *GraphError. The caller closes the response body on success.
func (c *Client) Do(
	ctx context.Context, method, path string, body io.Reader, opts ...requestOption,
) (*http.Response, error) {
	tok, err := c.token.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: obtaining token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("graph: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)

	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Caller cancellation is not a network failure.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("graph: %s %s canceled: %w", method, path, ctx.Err())
		}

		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransient, method, path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	return nil, c.errorFromResponse(method, path, resp)
}

// errorFromResponse drains and closes resp and builds a *GraphError.
func (c *Client) errorFromResponse(method, path string, resp *http.Response) error {
	defer resp.Body.Close()

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	graphErr := &GraphError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("request-id"),
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}

	level := slog.LevelWarn
	if errors.Is(graphErr, ErrTransient) {
		level = slog.LevelError
	}

	c.logger.Log(context.Background(), level, "request rejected",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", graphErr.RequestID),
	)

	return graphErr
}

// drain discards the rest of a response body so the connection can be reused.
func drain(resp *http.Response) error {
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("graph: draining response body: %w", err)
	}

	return nil
}
