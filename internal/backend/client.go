// Package backend talks to the remote ticketing API that owns routes,
// tickets, payments and users.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/observability"
	"github.com/robertarktes/busticket/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// StatusError is returned for any non-2xx answer.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return "backend " + e.Endpoint + " returned " + strconv.Itoa(e.Code) + ": " + e.Body
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  observability.Logger
	now     func() time.Time
}

func New(baseURL string, timeout time.Duration, logger observability.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: &authTransport{base: http.DefaultTransport},
		},
		logger: logger,
		now:    time.Now,
	}
}

// authTransport attaches the session's bearer token and the trace context to
// every outgoing request.
type authTransport struct {
	base http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if s, ok := session.FromContext(req.Context()); ok && s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	return t.base.RoundTrip(req)
}

func (c *Client) doJSON(ctx context.Context, endpoint, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "encode %s request", endpoint)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrapf(err, "build %s request", endpoint)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, endpoint, out)
}

func (c *Client) do(req *http.Request, endpoint string, out interface{}) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.BackendCallDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		return errors.Wrapf(err, "call %s", endpoint)
	}
	defer resp.Body.Close()
	observability.BackendCallDuration.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		c.logger.WithFields(map[string]interface{}{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
		}).Warn("backend call failed")
		switch resp.StatusCode {
		case http.StatusNotFound:
			return errors.Mark(serr, domain.ErrNotFound)
		case http.StatusUnauthorized:
			return errors.Mark(serr, domain.ErrUnauthorized)
		case http.StatusForbidden:
			return errors.Mark(serr, domain.ErrForbidden)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return errors.Mark(serr, domain.ErrInvalidInput)
		}
		return serr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", endpoint)
	}
	return nil
}
