package client

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	helixRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	helixRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helix_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	helixRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryPolicy decides how often and how quickly server and network failures
// are retried. The zero value retries forever without delay.
type RetryPolicy struct {
	// MaxRetries caps the number of retries after the first attempt.
	// Zero means unlimited.
	MaxRetries int

	// InitialBackoff is the delay before the first retry. Zero retries
	// immediately.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth. Zero means no cap.
	MaxBackoff time.Duration

	// BackoffMultiplier is the growth factor between retries (default 2).
	BackoffMultiplier float64
}

// exhausted reports whether retry number n (starting at 1) exceeds the cap.
func (p RetryPolicy) exhausted(n int) bool {
	return p.MaxRetries > 0 && n > p.MaxRetries
}

// backoff returns the jittered delay before retry number n (starting at 1).
func (p RetryPolicy) backoff(n int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}

	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 2
	}

	d := float64(p.InitialBackoff) * math.Pow(mult, float64(n-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}

	// ±20% jitter
	return time.Duration(d * (0.8 + rand.Float64()*0.4))
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
