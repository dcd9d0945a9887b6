// Package retry decides whether an HTTP attempt should be
// retried, how long to wait, and whether to penalize the rate limiter.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/connectorrt/runtime/internal/connector"
)

// Kind classifies the failure driving a retry decision.
type Kind string

const (
	KindNone    Kind = ""
	KindTimeout Kind = "timeout"
	KindNetwork Kind = "network"
	KindAbort   Kind = "abort"
)

var retryableStatus = map[int]bool{
	408: true, 425: true, 429: true,
	500: true, 502: true, 503: true, 504: true,
}

// Input is the decide() contract's request.
type Input struct {
	Attempt      int
	MaxAttempts  int
	StatusCode   int // 0 when no HTTP response was received
	RetryAfterMs int64
	ErrKind      Kind // empty when StatusCode is set and no transport error occurred
	Connector    string
	Connection   string
	Org          string
}

// Decision is the decide() contract's response.
type Decision struct {
	ShouldRetry  bool
	WaitMs       int64
	Reason       string
	PenaltyMs    int64
	PenaltyScope connector.ConcurrencyScope
}

// DefaultMaxAttempts is the default cap on attempts (i.e. 2 retries).
const DefaultMaxAttempts = 3

const baseDelay = 500 * time.Millisecond
const capDelay = 4000 * time.Millisecond

// Policy decides retries using cenkalti/backoff/v4's exponential generator
// for the non-Retry-After jitter path, configured to match the spec's
// base*2^(attempt-1) with +/-20% jitter.
type Policy struct {
	rand *rand.Rand
}

// New returns a Policy. It takes no random source; jitter comes from the
// backoff generator's own randomization.
func New() *Policy {
	return &Policy{}
}

// Decide implements the decide() contract.
func (p *Policy) Decide(in Input) Decision {
	if in.MaxAttempts <= 0 {
		in.MaxAttempts = DefaultMaxAttempts
	}

	if in.StatusCode == 0 {
		switch in.ErrKind {
		case KindTimeout, KindNetwork, KindAbort:
			// retryable network-shaped error
		default:
			return Decision{ShouldRetry: false, Reason: "non_retryable_error"}
		}
	} else if !retryableStatus[in.StatusCode] {
		return Decision{ShouldRetry: false, Reason: reasonForStatus(in.StatusCode)}
	}

	if in.Attempt >= in.MaxAttempts {
		return Decision{ShouldRetry: false, Reason: "max_attempts_exceeded"}
	}

	wait := p.computeWait(in)
	reason := reasonFor(in)

	d := Decision{ShouldRetry: true, WaitMs: wait, Reason: reason}
	if in.StatusCode == 429 || in.StatusCode == 503 {
		penalty := wait
		if penalty < 1000 {
			penalty = 1000
		}
		d.PenaltyMs = penalty
		d.PenaltyScope = connector.ScopeConnection
	}
	return d
}

func (p *Policy) computeWait(in Input) int64 {
	if in.RetryAfterMs > 0 {
		return in.RetryAfterMs
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.Multiplier = 2
	b.MaxInterval = capDelay
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0

	// Advance the generator to the current attempt's interval; cenkalti's
	// generator yields the *next* interval on each call, and attempt counts
	// from 1, so attempt N needs N-1 warm-up calls plus the one we keep.
	var interval time.Duration
	for i := 0; i < in.Attempt; i++ {
		d := b.NextBackOff()
		if d == backoff.Stop {
			d = capDelay
		}
		interval = d
	}
	if interval > capDelay {
		interval = capDelay
	}
	return interval.Milliseconds()
}

func reasonForStatus(status int) string {
	switch {
	case status >= 400 && status < 500:
		return "terminal_client_error"
	case status == 0:
		return "non_retryable_error"
	default:
		return "terminal_error"
	}
}

func reasonFor(in Input) string {
	// A 429 keeps its status reason even when the vendor sent a retry hint;
	// other responses carrying a hint report retry_after.
	if in.StatusCode == 429 {
		return httpReason(in.StatusCode)
	}
	if in.RetryAfterMs > 0 {
		return "retry_after"
	}
	if in.StatusCode != 0 {
		return httpReason(in.StatusCode)
	}
	switch in.ErrKind {
	case KindTimeout:
		return "timeout_error"
	case KindNetwork:
		return "network_error"
	case KindAbort:
		return "abort_error"
	default:
		return "unknown_error"
	}
}

func httpReason(status int) string {
	switch status {
	case 429:
		return "http_429"
	case 408:
		return "http_408"
	case 425:
		return "http_425"
	default:
		if status >= 500 {
			return "http_5xx"
		}
		return "http_error"
	}
}

// ClassifyErrKind maps a transport-level Go error into a retry Kind.
func ClassifyErrKind(err error) Kind {
	if err == nil {
		return KindNone
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindAbort
	}
	return KindNetwork
}
