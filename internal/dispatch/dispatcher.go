// Package dispatch wraps venue transport calls with the cross-cutting
// concerns every adapter needs: rate-limiter admission, signing attachment,
// bounded retry with exponential backoff, and mapping of every outcome into
// a canonical model value or canonical error. No venue-specific error type
// crosses this boundary.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 250 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second
	defaultTimeout     = 30 * time.Second
)

// Request describes one venue call. Body is the already-marshaled JSON
// payload (nil for GET/DELETE); Class selects the rate-limit bucket;
// Timeout, when set, bounds each individual attempt.
type Request struct {
	Method  string
	Path    string
	Body    []byte
	Class   domain.EndpointClass
	Timeout time.Duration
}

// RawResponse is the venue's reply, handed to the adapter for JSON mapping.
type RawResponse struct {
	StatusCode int
	Body       []byte
}

// SignFunc attaches the venue's credentials or signatures to an outgoing
// request. The adapter supplies it; body is the exact payload bytes so
// HMAC-over-body schemes sign what is sent.
type SignFunc func(ctx context.Context, req *http.Request, body []byte) error

// ReauthFunc discards any cached credential and derives a fresh one. The
// dispatcher invokes it at most once per Dispatch call, after an auth
// rejection.
type ReauthFunc func(ctx context.Context) error

// RetryPolicy bounds the retry schedule shared by a venue's dispatchers.
// Zero values fall back to the package defaults.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Options configures optional dispatcher behavior.
type Options struct {
	Sign        SignFunc
	Reauth      ReauthFunc
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Dispatcher issues rate-limited, signed, retried requests against one
// venue's REST API.
type Dispatcher struct {
	venue   string
	baseURL string
	client  *http.Client
	limiter domain.RateLimiter
	opts    Options
	logger  *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	// sleep is swapped out in tests to count backoff delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Dispatcher for the venue rooted at baseURL. limiter is the
// venue's admission controller; the zero Options gives an unsigned
// dispatcher with default retry policy.
func New(venue, baseURL string, limiter domain.RateLimiter, opts Options) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		venue:   venue,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		limiter: limiter,
		opts:    opts,
		logger:  logger.With(slog.String("component", "dispatch"), slog.String("venue", venue)),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   sleepCtx,
	}
}

// Dispatch executes req with admission control, signing, and bounded retry.
// Transient failures (network, timeout, 5xx, explicit rate-limit responses)
// are retried with exponential backoff up to the attempt cap; validation
// errors and exchange rejections are never retried; an auth rejection
// triggers exactly one re-authentication before surfacing. The returned
// error always wraps a canonical kind.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (RawResponse, error) {
	var (
		lastErr    error
		reauthUsed bool
	)

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		if err := d.limiter.Acquire(ctx, req.Class); err != nil {
			return RawResponse{}, fmt.Errorf("dispatch %s: %w", d.venue, err)
		}

		resp, err := d.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, domain.ErrAuth) && d.opts.Reauth != nil && !reauthUsed:
			reauthUsed = true
			d.logger.Warn("auth rejected, re-authenticating",
				slog.String("path", req.Path),
				slog.String("error", err.Error()),
			)
			if reauthErr := d.opts.Reauth(ctx); reauthErr != nil {
				return RawResponse{}, fmt.Errorf("dispatch %s: re-authentication: %w", d.venue, reauthErr)
			}
			// Retry immediately with the fresh credential; the failed
			// attempt still counts against the cap.
			continue

		case domain.Transient(err) && attempt < d.opts.MaxAttempts:
			d.rngMu.Lock()
			delay := backoffDelay(attempt, d.opts.BaseBackoff, d.opts.MaxBackoff, d.rng)
			d.rngMu.Unlock()

			d.logger.Debug("transient failure, backing off",
				slog.String("path", req.Path),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			if sleepErr := d.sleep(ctx, delay); sleepErr != nil {
				return RawResponse{}, fmt.Errorf("dispatch %s: %w", d.venue, sleepErr)
			}
			continue

		default:
			return RawResponse{}, fmt.Errorf("dispatch %s %s %s: %w", d.venue, req.Method, req.Path, err)
		}
	}

	return RawResponse{}, fmt.Errorf("dispatch %s %s %s: attempts exhausted: %w", d.venue, req.Method, req.Path, lastErr)
}

// attempt performs a single signed HTTP exchange and classifies the outcome.
func (d *Dispatcher) attempt(ctx context.Context, req Request) (RawResponse, error) {
	attemptCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, d.baseURL+req.Path, bodyReader)
	if err != nil {
		return RawResponse{}, fmt.Errorf("%w: build request: %v", domain.ErrValidation, err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	if d.opts.Sign != nil {
		if err := d.opts.Sign(attemptCtx, httpReq, req.Body); err != nil {
			return RawResponse{}, err
		}
	}

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		// A caller- or per-request-timeout abandon is classified transient.
		if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded {
			return RawResponse{}, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		if ctx.Err() != nil {
			return RawResponse{}, ctx.Err()
		}
		return RawResponse{}, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return RawResponse{}, fmt.Errorf("%w: read response: %v", domain.ErrNetwork, err)
	}

	if err := classifyStatus(httpResp.StatusCode, respBody); err != nil {
		return RawResponse{}, err
	}

	return RawResponse{StatusCode: httpResp.StatusCode, Body: respBody}, nil
}

// classifyStatus maps HTTP status codes onto canonical error kinds.
func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrAuth, status, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrRateLimited, status, msg)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrNotFound, status, msg)
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrExchangeRejected, status, msg)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrValidation, status, msg)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrNetwork, status, msg)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
