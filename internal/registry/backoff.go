package registry

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy computes how long a failing source waits before it is
// eligible for another scheduled scan.
type BackoffPolicy struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	// Jitter adds up to Jitter*delay on top of the computed delay. Zero
	// disables it.
	Jitter float64
}

// DefaultBackoff is base 5m, factor 2, cap 24h, no jitter.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:   5 * time.Minute,
		Factor: 2,
		Cap:    24 * time.Hour,
	}
}

// Delay returns the wait after the given number of consecutive failures.
// It is zero for failures <= 0 and never exceeds Cap.
func (p BackoffPolicy) Delay(failures int) time.Duration {
	if failures <= 0 || p.Base <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(p.Base) * math.Pow(factor, float64(failures-1))
	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}
	if p.Cap > 0 && d > float64(p.Cap) {
		return p.Cap
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
