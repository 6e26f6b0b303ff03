package resiliency

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// EnhancedClient wraps http.Client with the resilience patterns a
// provider's own API imposes: exponential backoff with jitter on 5xx and
// transport errors, Retry-After-aware backoff on 429 (every fitness
// provider Pierre talks to paginates and rate-limits activity history),
// a per-provider circuit breaker so one provider's outage can't burn
// every retry budget against it, and a W3C traceparent header on each
// request. The traceparent carries a freshly generated trace id and a
// fixed span id; it is not derived from the caller's context.
type EnhancedClient struct {
	client     *http.Client
	maxRetries int
	breaker    *CircuitBreaker
}

// NewEnhancedClient builds a client whose circuit breaker is scoped to
// name — ordinarily a provider's descriptor name ("strava", "garmin"),
// so independent providers trip independently.
func NewEnhancedClient(name string) *EnhancedClient {
	return &EnhancedClient{
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		breaker:    NewCircuitBreaker(name, 5, 10*time.Second),
	}
}

// Do executes an HTTP request with resiliency patterns. It honors
// req.Context(): a canceled context aborts the retry loop immediately
// instead of sleeping out the remaining backoff.
func (c *EnhancedClient) Do(req *http.Request) (*http.Response, error) {
	var traceBytes [16]byte
	traceID := ""
	if _, err := rand.Read(traceBytes[:]); err == nil {
		traceID = hex.EncodeToString(traceBytes[:])
	} else {
		traceID = fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	req.Header.Set("traceparent", fmt.Sprintf("00-%s-0000000000000001-01", traceID))

	if !c.breaker.Allow() {
		return nil, fmt.Errorf("resiliency: circuit breaker open for %s", c.breaker.name)
	}

	var resp *http.Response
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.client.Do(req)

		if err == nil && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			c.breaker.Success()
			return resp, nil
		}

		if i == c.maxRetries {
			break
		}

		wait := backoffWithJitter(i)
		if resp != nil {
			if ra, ok := retryAfter(resp); ok && ra > wait {
				wait = ra
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		select {
		case <-req.Context().Done():
			c.breaker.Failure()
			return nil, req.Context().Err()
		case <-time.After(wait):
		}
	}

	c.breaker.Failure()
	return resp, err
}

// backoffWithJitter is base * 2^attempt plus up to 50ms of jitter, so
// concurrent retries against the same provider don't all land in the
// same instant.
func backoffWithJitter(attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
	jitter := time.Duration(0)
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		jitter = time.Duration(n.Int64()) * time.Millisecond
	}
	return backoff + jitter
}

// retryAfter parses a 429 response's Retry-After header, seconds form
// only (every provider Pierre integrates with sends the seconds form,
// not the HTTP-date form).
func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// CircuitBreaker implements a simple state machine for failure detection.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string // "CLOSED", "OPEN", "HALF_OPEN"
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        "CLOSED",
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == "OPEN" {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = "HALF_OPEN"
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = "CLOSED"
	cb.failureCount = 0
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = "OPEN"
	}
}
