// Package calls talks to the plain HTTP side of the voice backend: placing
// outbound phone calls and checking backend health.
package calls

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrUnhealthy      = errors.New("backend unhealthy")
	ErrMissingPhone   = errors.New("phone number is required")
	ErrMissingSession = errors.New("session id is required")
)

const (
	callPath   = "/call"
	healthPath = "/health"

	defaultTimeout     = 10 * time.Second
	maxErrorBodyLength = 512
)

type CallRequest struct {
	PhoneNumber string            `json:"phone_number"`
	SessionID   string            `json:"session_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Call struct {
	ID        string `json:"call_id"`
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

type ClientOption func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.http = client }
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid calls base url %q: %w", baseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid calls base url %q: unsupported scheme %q", baseURL, parsed.Scheme)
	}

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
					return operationName + " " + request.URL.Path
				}),
			),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// InitiateCall asks the backend to place an outbound call bound to the given
// session. The conversation of the call can then be monitored on the relay
// connection of the same session.
func (c *Client) InitiateCall(ctx context.Context, request CallRequest) (Call, error) {
	ctx, span := tracer.Start(ctx, "initiate call")
	defer span.End()

	if request.PhoneNumber == "" {
		return Call{}, ErrMissingPhone
	}
	if request.SessionID == "" {
		return Call{}, ErrMissingSession
	}

	body, err := json.Marshal(request)
	if err != nil {
		return Call{}, fmt.Errorf("error marshalling call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+callPath, bytes.NewReader(body))
	if err != nil {
		return Call{}, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending call request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Call{}, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := statusError(resp)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Call{}, err
	}

	var call Call
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("error decoding call response: %w", err)
		span.RecordError(err)
		return Call{}, err
	}
	if call.SessionID == "" {
		call.SessionID = request.SessionID
	}

	span.SetAttributes(attribute.String("call.id", call.ID))
	logger.Info("call initiated", "call_id", call.ID, "status", call.Status, "session_id", call.SessionID)
	return call, nil
}

// Health returns nil when the backend answers its health endpoint with a
// success status.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s", ErrUnhealthy, resp.Status)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
	if message := strings.TrimSpace(string(body)); message != "" {
		return fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, message)
	}
	return fmt.Errorf("non-OK HTTP status: %s", resp.Status)
}
