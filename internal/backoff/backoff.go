// Package backoff computes retry delays for run completion webhooks.
package backoff

import (
	"math/rand"
	"time"
)

const (
	Fixed          = "fixed"
	Linear         = "linear"
	Exponential    = "exponential"
	ExpEqualJitter = "exp_equal_jitter"
	ExpFullJitter  = "exp_full_jitter"
)

var Policies = []string{Fixed, Linear, Exponential, ExpEqualJitter, ExpFullJitter}

// Valid reports whether name is a known policy. Delay treats unknown names
// as exp_full_jitter.
func Valid(name string) bool {
	for _, p := range Policies {
		if p == name {
			return true
		}
	}
	return false
}

// Policy is a retry schedule. Base defaults to one second and Max to Base.
type Policy struct {
	Name string
	Base time.Duration
	Max  time.Duration
}

func (p Policy) bounds() (base, max time.Duration) {
	base, max = p.Base, p.Max
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = base
	}
	return base, max
}

// ceiling is base*2^attempt capped at max, computed without overflow.
func ceiling(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Delay returns the wait before retry number attempt (0-based). A nil rng
// uses a fixed seed.
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	base, max := p.bounds()

	switch p.Name {
	case Fixed:
		return min(base, max)
	case Linear:
		return min(base*time.Duration(max1(attempt)), max)
	case Exponential:
		return ceiling(base, max, attempt)
	case ExpEqualJitter:
		c := ceiling(base, max, attempt)
		half := c / 2
		return half + time.Duration(rng.Int63n(int64(c-half)+1))
	default:
		c := ceiling(base, max, attempt)
		return time.Duration(rng.Int63n(int64(c) + 1))
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
