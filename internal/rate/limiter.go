package rate

import (
	"context"
	"fmt"
	"time"
)

// Config holds sliding-window tuning parameters.
type Config struct {
	// Requests is the steady number of requests allowed per Window.
	Requests int
	Window   time.Duration
	// Burst is allowed on top of Requests inside one window.
	Burst int
	// Buckets is the ring size; Window/Buckets is the sliding granularity.
	Buckets int
}

// Capacity is the hard per-window ceiling.
func (c Config) Capacity() int {
	return c.Requests + c.Burst
}

// Validate reports unusable settings.
func (c Config) Validate() error {
	if c.Requests < 1 {
		return fmt.Errorf("rate: requests must be >= 1")
	}
	if c.Burst < 0 {
		return fmt.Errorf("rate: burst must be >= 0")
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate: window must be > 0")
	}
	if c.Buckets < 1 {
		return fmt.Errorf("rate: buckets must be >= 1")
	}
	if c.Window/time.Duration(c.Buckets) <= 0 {
		return fmt.Errorf("rate: window too small for %d buckets", c.Buckets)
	}
	return nil
}

func (c Config) bucketWidth() time.Duration {
	return c.Window / time.Duration(c.Buckets)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is positive when Allowed is false: the time until enough of
	// the window slides out to admit one more request.
	RetryAfter time.Duration
}

// Limiter counts requests per key over a sliding window. Allow performs the
// increment and the comparison as one atomic step per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
	Reset(ctx context.Context, key string) error
}

// retryAfter walks active buckets oldest first and returns how long until
// enough of them expire for count to drop below capacity.
func retryAfter(cfg Config, epochs []int64, counts []int, current int64, total int, now time.Time) time.Duration {
	width := cfg.bucketWidth()
	need := total - cfg.Capacity() + 1
	oldestFirst := current - int64(cfg.Buckets) + 1

	freed := 0
	for e := oldestFirst; e <= current; e++ {
		for i, be := range epochs {
			if be == e {
				freed += counts[i]
			}
		}
		if freed >= need {
			expiry := time.Unix(0, (e+int64(cfg.Buckets))*int64(width))
			if d := expiry.Sub(now); d > 0 {
				return d
			}
			return width
		}
	}
	return cfg.Window
}
