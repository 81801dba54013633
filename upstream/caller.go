// Package upstream issues the gateway's outbound calls to vendor HTTP
// APIs: SSRF-guarded, circuit-broken per host, with failover across an
// ordered candidate list and bandit state updates after every attempt.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/nodeforge/gatewayflow/internal/tlsutil"
	"github.com/nodeforge/gatewayflow/routing"
)

// Request is one rendered vendor-wire HTTP call, produced by the
// template_render step.
type Request struct {
	ArmID   string
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is a completed non-streaming upstream response.
type Response struct {
	ArmID      string
	StatusCode int
	Headers    map[string]string
	Body       []byte
	LatencyMs  float64
}

// Timeouts bounds how long the caller waits at each phase of a call.
type Timeouts struct {
	Connect  time.Duration
	FirstByte time.Duration
	Idle     time.Duration
}

// ErrStreamBroken marks a streaming call that failed after bytes had
// already been forwarded to the client; per spec this is never retried.
var ErrStreamBroken = errors.New("upstream: UPSTREAM_STREAM_BROKEN")

// Caller issues non-streaming and streaming upstream HTTP calls, walking a
// failover list of requests (one per candidate arm) on retryable failure.
type Caller struct {
	client   *http.Client
	ssrf     *SSRFGuard
	breakers *HostBreakers
	updater  *routing.ArmUpdater
	logger   *zap.Logger
	timeouts Timeouts
}

// NewCaller constructs a Caller.
func NewCaller(ssrf *SSRFGuard, breakers *HostBreakers, updater *routing.ArmUpdater, timeouts Timeouts, logger *zap.Logger) *Caller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeouts.Connect <= 0 {
		timeouts.Connect = 5 * time.Second
	}
	if timeouts.FirstByte <= 0 {
		timeouts.FirstByte = 30 * time.Second
	}
	if timeouts.Idle <= 0 {
		timeouts.Idle = 30 * time.Second
	}

	transport := tlsutil.SecureTransport()
	transport.DialContext = (&net.Dialer{Timeout: timeouts.Connect}).DialContext
	transport.ResponseHeaderTimeout = timeouts.FirstByte

	return &Caller{
		client:   &http.Client{Transport: transport},
		ssrf:     ssrf,
		breakers: breakers,
		updater:  updater,
		logger:   logger.With(zap.String("component", "upstream")),
		timeouts: timeouts,
	}
}

// Call attempts each request in order (the routing selector's ordered
// failover list) until one succeeds or the list is exhausted. Each attempt
// updates bandit state for its arm.
func (c *Caller) Call(ctx context.Context, requests []Request) (Response, error) {
	var lastErr error
	failoverDelay := backoff.NewExponentialBackOff()
	failoverDelay.InitialInterval = 100 * time.Millisecond
	failoverDelay.MaxInterval = 2 * time.Second

	for i, req := range requests {
		if i > 0 {
			if err := sleepCtx(ctx, failoverDelay.NextBackOff()); err != nil {
				return Response{}, err
			}
		}

		resp, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.logger.Warn("upstream attempt failed",
			zap.String("arm_id", req.ArmID),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		if !isRetryable(err) {
			return Response{}, err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("upstream: empty candidate list")
	}
	return Response{}, fmt.Errorf("upstream: all candidates exhausted: %w", lastErr)
}

// sleepCtx waits for d or ctx cancellation, whichever comes first, so a
// failover backoff never outlives a client disconnect.
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

func (c *Caller) attempt(ctx context.Context, req Request) (Response, error) {
	host, err := hostOf(req.URL)
	if err != nil {
		return Response{}, err
	}

	if c.ssrf != nil {
		if err := c.ssrf.Check(ctx, req.URL); err != nil {
			return Response{}, err
		}
	}

	done, err := c.breakers.Allow(host)
	if err != nil {
		return Response{}, err
	}

	start := time.Now()
	resp, callErr := c.doNonStreaming(ctx, req)
	latency := time.Since(start)

	success := callErr == nil && resp.StatusCode < 500 && resp.StatusCode != 429
	done(success)

	if c.updater != nil {
		trialErr := c.updater.Record(ctx, routing.Trial{
			ArmID:     req.ArmID,
			Success:   success,
			LatencyMs: float64(latency.Milliseconds()),
		})
		if trialErr != nil {
			c.logger.Error("failed to record bandit trial", zap.Error(trialErr))
		}
	}

	if callErr != nil {
		return Response{}, callErr
	}
	resp.LatencyMs = float64(latency.Milliseconds())

	if resp.StatusCode >= 500 || resp.StatusCode == 429 {
		return resp, fmt.Errorf("%w: upstream returned status %d", errRetryable, resp.StatusCode)
	}
	return resp, nil
}

func (c *Caller) doNonStreaming(ctx context.Context, req Request) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: building request: %v", errRetryable, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: reading body: %v", errRetryable, err)
	}

	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}

	return Response{
		ArmID:      req.ArmID,
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}

// errRetryable wraps an underlying cause to mark a failure as eligible for
// failover to the next candidate.
var errRetryable = errors.New("retryable")

func isRetryable(err error) bool {
	return errors.Is(err, errRetryable)
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("upstream: invalid url %q: %w", rawURL, err)
	}
	return u.Hostname(), nil
}
