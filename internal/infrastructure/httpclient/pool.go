package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/net/ratelimit"
)

// maxBodyBytes caps collaborator responses
const maxBodyBytes = 4 << 20

type ClientConfig struct {
	Name           string // collaborator name used in logs and errors
	MaxConcurrency int
	RequestTimeout time.Duration
	MaxRetries     int // 0 for calls that must not be repeated
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	UserAgent      string
	Limiter        *ratelimit.Limiter // optional per-host limiter
}

// DefaultClientConfig returns settings suited to idempotent reads
func DefaultClientConfig(name string) ClientConfig {
	return ClientConfig{
		Name:           name,
		MaxConcurrency: 16,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     2,
		BackoffBase:    200 * time.Millisecond,
		BackoffMax:     2 * time.Second,
		UserAgent:      "postlaunch/1.0",
	}
}

// ClientPool is a bounded HTTP client with retries and per-host rate limiting
type ClientPool struct {
	config    ClientConfig
	semaphore chan struct{}
	client    *http.Client
	mu        sync.RWMutex
	stats     ClientStats
}

type ClientStats struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	RetriedRequests int64
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Collaborator string
	URL          string
	StatusCode   int
	Body         string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d from %s: %s", e.Collaborator, e.StatusCode, e.URL, e.Body)
}

// IsStatus reports whether err is a StatusError with one of the given codes
func IsStatus(err error, codes ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.StatusCode == c {
			return true
		}
	}
	return false
}

func NewClientPool(config ClientConfig) *ClientPool {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	return &ClientPool{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrency),
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}
}

// WithTransport swaps the underlying transport, mostly for tests
func (cp *ClientPool) WithTransport(rt http.RoundTripper) *ClientPool {
	cp.client.Transport = rt
	return cp
}

// Do executes req with retries on transient failures. Requests with a body
// are only retried when the body can be replayed (req.GetBody set).
func (cp *ClientPool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case cp.semaphore <- struct{}{}:
		defer func() { <-cp.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if cp.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", cp.config.UserAgent)
	}

	retries := cp.config.MaxRetries
	if req.Body != nil && req.GetBody == nil {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			cp.incrementStat("retried")
			backoff := cp.calculateBackoff(attempt)
			log.Debug().
				Str("collaborator", cp.config.Name).
				Dur("backoff", backoff).
				Int("attempt", attempt).
				Str("url", req.URL.String()).
				Msg("Retrying HTTP request")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("%s: replay request body: %w", cp.config.Name, err)
				}
				req.Body = body
			}
		}

		if cp.config.Limiter != nil {
			if err := cp.config.Limiter.Wait(ctx, req.URL.Host); err != nil {
				return nil, fmt.Errorf("%s: rate limit wait: %w", cp.config.Name, err)
			}
		}

		resp, err := cp.client.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", cp.config.Name, err)
			if ctx.Err() == nil && isRetryableError(err) {
				continue
			}
			break
		}

		if isRetryableStatus(resp.StatusCode) && attempt < retries {
			drain(resp)
			lastErr = &StatusError{Collaborator: cp.config.Name, URL: req.URL.String(), StatusCode: resp.StatusCode}
			continue
		}

		cp.incrementStat("success")
		return resp, nil
	}

	cp.incrementStat("failed")
	return nil, lastErr
}

// DoJSON sends in as a JSON body (nil for none) and decodes a 2xx response into out
func (cp *ClientPool) DoJSON(ctx context.Context, method, url string, header http.Header, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", cp.config.Name, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", cp.config.Name, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cp.Do(ctx, req)
	if err != nil {
		return err
	}
	return cp.Decode(resp, out)
}

// Decode checks the status of resp and decodes its JSON body into out. The
// body is always closed.
func (cp *ClientPool) Decode(resp *http.Response, out interface{}) error {
	return cp.decode(resp, out, false)
}

// DecodeStrict is Decode that rejects unknown fields and trailing data
func (cp *ClientPool) DecodeStrict(resp *http.Response, out interface{}) error {
	return cp.decode(resp, out, true)
}

func (cp *ClientPool) decode(resp *http.Response, out interface{}, strict bool) error {
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxBodyBytes)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(limited, 512))
		url := ""
		if resp.Request != nil {
			url = resp.Request.URL.String()
		}
		return &StatusError{
			Collaborator: cp.config.Name,
			URL:          url,
			StatusCode:   resp.StatusCode,
			Body:         string(bytes.TrimSpace(snippet)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, limited)
		return nil
	}
	dec := json.NewDecoder(limited)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", cp.config.Name, err)
	}
	if strict {
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: unexpected data after response body", cp.config.Name)
		}
	}
	return nil
}

func (cp *ClientPool) GetStats() ClientStats {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.stats
}

func (cp *ClientPool) calculateBackoff(attempt int) time.Duration {
	backoff := cp.config.BackoffBase * time.Duration(1<<uint(attempt-1))
	if cp.config.BackoffMax > 0 && backoff > cp.config.BackoffMax {
		backoff = cp.config.BackoffMax
	}

	// Add up to 10% jitter to backoff
	jitter := time.Duration(rand.Float64() * 0.1 * float64(backoff))
	return backoff + jitter
}

func (cp *ClientPool) incrementStat(statType string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	switch statType {
	case "success":
		cp.stats.TotalRequests++
		cp.stats.SuccessRequests++
	case "failed":
		cp.stats.TotalRequests++
		cp.stats.FailedRequests++
	case "retried":
		cp.stats.RetriedRequests++
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()
}

func isRetryableError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
