package tracker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"craftshop/storefront/logging"
	"craftshop/storefront/models"
)

// Collector is the remote analytics collector. Only OpenPageView's returned
// id is read back; every other response body is ignored.
type Collector interface {
	UpsertSession(ctx context.Context, s models.SessionUpsert) error
	OpenPageView(ctx context.Context, pv models.PageViewOpen) (string, error)
	ClosePageView(ctx context.Context, id string, pv models.PageViewClose) error
	PostEvent(ctx context.Context, ev models.EventPayload) error
	PostFunnel(ctx context.Context, f models.FunnelPayload) error
	MarkOffline(ctx context.Context, s models.SessionOffline) error
}

// Collector API routes, relative to the base URL.
const (
	PathSessions  = "/api/analytics/sessions"
	PathPageViews = "/api/analytics/pageviews"
	PathEvents    = "/api/analytics/events"
	PathFunnel    = "/api/analytics/funnel"
)

// StatusError is returned when the collector answers outside 2xx.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector %s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
}

// HTTPCollector talks to the collector REST API. Calls go through a circuit
// breaker so a collector outage costs one fast failure per call instead of a
// timeout.
type HTTPCollector struct {
	baseURL string
	client  *http.Client
	headers http.Header
	cb      *gobreaker.CircuitBreaker[[]byte]
}

type HTTPOption func(*HTTPCollector)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPCollector) { h.client = c }
}

// WithHeader adds a header to every request, e.g. an Authorization token.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTPCollector) { h.headers.Set(key, value) }
}

// WithBreaker tunes the circuit breaker: it opens after failures consecutive
// failures and probes again after cooldown.
func WithBreaker(failures uint32, cooldown time.Duration) HTTPOption {
	return func(h *HTTPCollector) { h.cb = newBreaker(failures, cooldown) }
}

func NewHTTPCollector(baseURL string, opts ...HTTPOption) *HTTPCollector {
	h := &HTTPCollector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultSendTimeout},
		headers: make(http.Header),
		cb:      newBreaker(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func newBreaker(failures uint32, cooldown time.Duration) *gobreaker.CircuitBreaker[[]byte] {
	log := logging.Component("collector")
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "analytics-collector",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("collector circuit breaker state change")
		},
	})
}

// BreakerState reports the circuit breaker state, for diagnostics.
func (h *HTTPCollector) BreakerState() gobreaker.State {
	return h.cb.State()
}

func (h *HTTPCollector) UpsertSession(ctx context.Context, s models.SessionUpsert) error {
	_, err := h.do(ctx, http.MethodPost, PathSessions, s)
	return err
}

func (h *HTTPCollector) OpenPageView(ctx context.Context, pv models.PageViewOpen) (string, error) {
	body, err := h.do(ctx, http.MethodPost, PathPageViews, pv)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode page view response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("collector returned no page view id")
	}
	return resp.ID, nil
}

func (h *HTTPCollector) ClosePageView(ctx context.Context, id string, pv models.PageViewClose) error {
	_, err := h.do(ctx, http.MethodPatch, PathPageViews+"/"+url.PathEscape(id), pv)
	return err
}

func (h *HTTPCollector) PostEvent(ctx context.Context, ev models.EventPayload) error {
	_, err := h.do(ctx, http.MethodPost, PathEvents, ev)
	return err
}

func (h *HTTPCollector) PostFunnel(ctx context.Context, f models.FunnelPayload) error {
	_, err := h.do(ctx, http.MethodPost, PathFunnel, f)
	return err
}

func (h *HTTPCollector) MarkOffline(ctx context.Context, s models.SessionOffline) error {
	_, err := h.do(ctx, http.MethodPost, PathSessions+"/"+url.PathEscape(s.SessionID)+"/offline", s)
	return err
}

func (h *HTTPCollector) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", path, err)
	}

	return h.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, vs := range h.headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("collector %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read collector response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
		}
		return body, nil
	})
}
