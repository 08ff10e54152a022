package resilience

import (
	"strings"
	"time"
)

// Policy is one backend's retry and breaker profile.
type Policy struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// Config maps operation names to policies. Resolution tries the exact
// operation name, then the backend prefix before the first dot ("llm" for
// "llm.complete"), then Default.
type Config struct {
	Default    Policy
	Operations map[string]Policy
}

// DefaultConfig carries one profile per backend this service calls.
//
// The llm gateway signals rate pressure with 429s that clear on the order
// of seconds, so its retries back off far enough for the quota window to
// move. The scorer sits inside the rerank stage timeout and the reranker
// degrades to judge ranking without it, so it gets one quick retry and a
// breaker that trips early and re-closes on a single half-open probe.
func DefaultConfig() Config {
	return Config{
		Default: Policy{
			RetryMaxAttempts:    3,
			RetryInitialBackoff: 100 * time.Millisecond,
			RetryMaxBackoff:     400 * time.Millisecond,
			RetryMultiplier:     2.0,

			BreakerEnabled:          true,
			BreakerMinRequests:      10,
			BreakerFailureRatio:     0.5,
			BreakerOpenTimeout:      30 * time.Second,
			BreakerHalfOpenMaxCalls: 2,
		},
		Operations: map[string]Policy{
			"llm": {
				RetryMaxAttempts:    3,
				RetryInitialBackoff: 500 * time.Millisecond,
				RetryMaxBackoff:     4 * time.Second,
				RetryMultiplier:     3.0,

				BreakerEnabled:          true,
				BreakerMinRequests:      8,
				BreakerFailureRatio:     0.6,
				BreakerOpenTimeout:      45 * time.Second,
				BreakerHalfOpenMaxCalls: 2,
			},
			"scorer": {
				RetryMaxAttempts:    2,
				RetryInitialBackoff: 50 * time.Millisecond,
				RetryMaxBackoff:     200 * time.Millisecond,
				RetryMultiplier:     2.0,

				BreakerEnabled:          true,
				BreakerMinRequests:      6,
				BreakerFailureRatio:     0.6,
				BreakerOpenTimeout:      20 * time.Second,
				BreakerHalfOpenMaxCalls: 1,
			},
		},
	}
}

func (c Config) policyFor(operation string) Policy {
	if p, ok := c.Operations[operation]; ok {
		return p.normalize()
	}
	if dot := strings.IndexByte(operation, '.'); dot > 0 {
		if p, ok := c.Operations[operation[:dot]]; ok {
			return p.normalize()
		}
	}
	return c.Default.normalize()
}

func (p Policy) normalize() Policy {
	out := p

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = 1
	}
	if out.RetryInitialBackoff < 0 {
		out.RetryInitialBackoff = 0
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = 1.0
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = 1
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = 0.5
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = 30 * time.Second
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = 1
	}

	return out
}
