// The rate package limits how fast a single client can call the dashboard API.
// It wraps [github.com/pippellia-btc/rate] with one token bucket per client IP.
package rate

import (
	"time"

	"github.com/pippellia-btc/rate"
)

// Request costs in tokens. Authentication is expensive to slow down password guessing.
const (
	CostRead = 1.0
	CostAuth = 10.0
)

// Limiter is a per-IP token bucket limiter. A disabled limiter allows everything.
type Limiter struct {
	limiter *rate.Limiter[string]
	config  Config
}

// NewLimiter creates a new rate limiter with a [rate.FlatRefiller] from the given config.
func NewLimiter(c Config) Limiter {
	refiller := rate.FlatRefiller[string]{
		InitialTokens:     float64(c.InitialTokens),
		MaxTokens:         float64(c.MaxTokens),
		TokensPerInterval: float64(c.TokensPerInterval),
		Interval:          c.Interval,
	}

	return Limiter{
		limiter: rate.NewLimiter(refiller),
		config:  c,
	}
}

// Allow reports whether the ip has enough tokens to pay cost, consuming them if so.
func (l Limiter) Allow(ip string, cost float64) bool {
	if !l.config.Enabled {
		return true
	}
	return l.limiter.Allow(ip, cost)
}

func (l Limiter) Enabled() bool           { return l.config.Enabled }
func (l Limiter) MaxTokens() float64      { return float64(l.config.MaxTokens) }
func (l Limiter) Interval() time.Duration { return l.config.Interval }
