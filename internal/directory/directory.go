// Package directory is the HTTP client for the user directory that sits
// next to the relay. The call flow uses it to resolve a caller's display
// name and to announce started and accepted calls.
//
// Endpoints:
//
//	GET  {base}/users/{id}    -> {"id": "...", "first_name": "..."}
//	POST {base}/call/start    <- {"caller_id": "...", "recipient_id": "..."}
//	POST {base}/call/accept   <- {"caller_id": "...", "recipient_id": "..."}
//
// Every request runs through a circuit breaker so an unreachable directory
// fails fast with [resilience.ErrCircuitOpen].
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxcall/internal/observe"
	"github.com/MrWong99/voxcall/internal/resilience"
)

const defaultTimeout = 5 * time.Second

// ErrNotFound is returned when the directory has no such user.
var ErrNotFound = errors.New("directory: not found")

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("directory: %s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

// Option is a functional option for [New].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// Client talks to the directory API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("directory: base url must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("directory: parse base url: %w", err)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.Config{
			Name:      "directory",
			IsFailure: isBreakerFailure,
		})
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// isBreakerFailure ignores answers that prove the directory is up.
func isBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.Code < 500 {
		return false
	}
	return true
}

type userResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
}

type callRequest struct {
	CallerID    string `json:"caller_id"`
	RecipientID string `json:"recipient_id"`
}

// UserName returns the display name of user id.
func (c *Client) UserName(ctx context.Context, id string) (string, error) {
	var resp userResponse
	err := c.do(ctx, "user", http.MethodGet, "/users/"+url.PathEscape(id), nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.FirstName, nil
}

// StartCall announces an outgoing call from callerID to recipientID.
func (c *Client) StartCall(ctx context.Context, callerID, recipientID string) error {
	return c.do(ctx, "call_start", http.MethodPost, "/call/start",
		callRequest{CallerID: callerID, RecipientID: recipientID}, nil)
}

// AcceptCall announces that recipientID answered callerID.
func (c *Client) AcceptCall(ctx context.Context, callerID, recipientID string) error {
	return c.do(ctx, "call_accept", http.MethodPost, "/call/accept",
		callRequest{CallerID: callerID, RecipientID: recipientID}, nil)
}

// do performs one JSON request through the breaker. out may be nil.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, span := observe.StartSpan(ctx, "directory."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method), attribute.String("url.path", path)),
	)
	defer span.End()

	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, op, method, path, in, out)
	})

	status := "ok"
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "circuit_open"
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	c.metrics.RecordDirectoryRequest(ctx, op, status)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return fmt.Errorf("directory: %s: %w", op, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
