// Package transport is the outbound message layer every role sends
// protocol requests through. Every downstream call needs bounded
// retries with exponential backoff and jitter, so the "fire a
// message, tolerate loss" vocabulary is built on top of
// github.com/hashicorp/go-retryablehttp rather than a bare
// net/http.Client.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Config tunes the bounded-retry policy used for every outbound call.
type Config struct {
	RequestTimeout time.Duration
	RetryMax       int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestTimeout: time.Second,
		RetryMax:       3,
		RetryWaitMin:   50 * time.Millisecond,
		RetryWaitMax:   500 * time.Millisecond,
	}
}

// Sender performs retried JSON POSTs against peer HTTP endpoints.
type Sender struct {
	client *retryablehttp.Client
}

func NewSender(cfg Config, log *slog.Logger) *Sender {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	// Exponential backoff (doubling from RetryWaitMin up to
	// RetryWaitMax, honoring Retry-After) plus up to 50% random jitter.
	rc.Backoff = func(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
		wait := retryablehttp.DefaultBackoff(min, max, attempt, resp)
		if wait <= 0 {
			return wait
		}
		return wait + time.Duration(rand.Int63n(int64(wait)/2+1))
	}
	rc.Logger = slogAdapter{log}
	rc.HTTPClient.Timeout = cfg.RequestTimeout
	return &Sender{client: rc}
}

// ErrTimeout is returned when a peer never answers within the bounded
// retry budget — the caller should treat the peer as silent, not crash.
var ErrTimeout = fmt.Errorf("transport: peer unreachable after retries")

// PostJSON sends body as a JSON POST to url and decodes the response
// into out (if out is non-nil). Retries happen inside the client;
// a terminal failure surfaces as ErrTimeout wrapping the cause.
func (s *Sender) PostJSON(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("transport: read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: peer returned %d", ErrTimeout, resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("transport: decode response: %w", err)
		}
	}
	return nil
}

// Post sends body as a JSON POST and returns the response status code
// with the raw body bytes, for callers that dispatch on non-2xx
// statuses (the client gateway's not-leader redirect handling) instead
// of treating them as opaque failures.
func (s *Sender) Post(ctx context.Context, url string, body interface{}) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("transport: marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("transport: read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// GetJSON performs a retried GET against url and decodes the response
// into out.
func (s *Sender) GetJSON(ctx context.Context, url string, out interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("transport: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("transport: peer returned %d", resp.StatusCode)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("transport: decode response: %w", err)
		}
	}
	return nil
}

// BroadcastResult pairs a peer URL with the outcome of one PostJSON call.
type BroadcastResult struct {
	URL string
	Err error
}

// Broadcast fires body at every URL concurrently and waits for all of
// them to finish or fail; it never blocks on a single silent peer
// beyond that peer's own retry budget. decode, if non-nil, is invoked
// per-URL to give each target its own response destination.
func Broadcast(ctx context.Context, s *Sender, urls []string, body interface{}, decode func(url string) interface{}) []BroadcastResult {
	results := make([]BroadcastResult, len(urls))
	done := make(chan struct{}, len(urls))
	for i, url := range urls {
		i, url := i, url
		go func() {
			defer func() { done <- struct{}{} }()
			var out interface{}
			if decode != nil {
				out = decode(url)
			}
			err := s.PostJSON(ctx, url, body, out)
			results[i] = BroadcastResult{URL: url, Err: err}
		}()
	}
	for range urls {
		<-done
	}
	return results
}

// slogAdapter satisfies retryablehttp.LeveledLogger over slog, so
// retry diagnostics flow through the same structured logger as the
// rest of the process instead of the library's default log.Logger.
type slogAdapter struct{ log *slog.Logger }

func (a slogAdapter) Error(msg string, kv ...interface{}) { a.log.Error(msg, kv...) }
func (a slogAdapter) Info(msg string, kv ...interface{})  { a.log.Info(msg, kv...) }
func (a slogAdapter) Debug(msg string, kv ...interface{}) { a.log.Debug(msg, kv...) }
func (a slogAdapter) Warn(msg string, kv ...interface{})  { a.log.Warn(msg, kv...) }
