package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/kapu/chess-importer/internal/domain"
)

// Client is the capability every platform client provides to the pipeline.
type Client interface {
	Platform() domain.Platform
	// ValidateUsername never fails; network errors collapse to false.
	ValidateUsername(ctx context.Context, username string) bool
	// FetchGames returns at most count games, most recent first.
	FetchGames(ctx context.Context, username string, count int) ([]domain.RawGame, error)
}

type doer struct {
	http *fasthttp.Client

	timeout       time.Duration
	retryAttempts int
	retryDelay    time.Duration
}

type Option func(*doer)

func WithTimeout(d time.Duration) Option {
	return func(c *doer) { c.timeout = d }
}

func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *doer) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

func newDoer(opts ...Option) *doer {
	d := &doer{
		http:          &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second, MaxConnsPerHost: 16},
		timeout:       15 * time.Second,
		retryAttempts: 3,
		retryDelay:    time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// getJSON issues a GET with a fixed-delay retry budget. The final failed
// attempt surfaces its error verbatim instead of retrying further.
func (d *doer) getJSON(ctx context.Context, url string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(url)
	req.Header.Set("Accept", "application/json")

	attempts := d.retryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := d.http.DoDeadline(req, resp, d.computeDeadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				if out != nil {
					if derr := json.Unmarshal(resp.Body(), out); derr != nil {
						return fmt.Errorf("decode response: %w", derr)
					}
				}
				return nil
			}
			err = fmt.Errorf("http error: status=%d body=%s", status, truncate(string(resp.Body()), 256))
		}
		if attempt >= attempts {
			return err
		}
		if sleepErr := sleepWithContext(ctx, d.retryDelay); sleepErr != nil {
			return err
		}
	}
}

func (d *doer) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
