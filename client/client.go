// Package client fetches the read-only data the cart prices with: the
// product catalog and the store settings.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"craftshop/storefront/logging"
)

// ErrNotFound is returned when the API answers 404.
var ErrNotFound = errors.New("not found")

const defaultTimeout = 10 * time.Second

// StatusError is returned for non-2xx answers other than 404.
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.Path, e.StatusCode)
}

type Option func(*restClient)

func WithHTTPClient(c *http.Client) Option {
	return func(r *restClient) { r.http = c }
}

// WithBreaker trips after failures consecutive errors and probes again after cooldown.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(r *restClient) { r.failures, r.cooldown = failures, cooldown }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *restClient) { r.logger = l }
}

type restClient struct {
	baseURL  string
	http     *http.Client
	failures uint32
	cooldown time.Duration
	logger   zerolog.Logger
	cb       *gobreaker.CircuitBreaker[[]byte]
}

func newRestClient(name, baseURL string, opts []Option) *restClient {
	r := &restClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: defaultTimeout},
		failures: 3,
		cooldown: 30 * time.Second,
		logger:   logging.Component(name),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.failures
		},
		// A missing product is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return r
}

func (r *restClient) getJSON(ctx context.Context, path string, out any) error {
	body, err := r.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := r.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", path, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("GET %s: %w", path, ErrNotFound)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return nil, &StatusError{Path: path, StatusCode: resp.StatusCode}
		}
		return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
