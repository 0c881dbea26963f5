package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// Fallback limits for deployments that leave rate config empty.
const (
	defaultRPS   = 5
	defaultBurst = 10
)

// limiterPool hands out one token bucket per caller: the API key when one
// was presented, otherwise the remote address. Buckets are created on first
// sight and live for the process lifetime.
type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg SecConfig
}

// Allow reports whether the caller may proceed with one more request.
func (p *limiterPool) Allow(caller string) bool {
	return p.bucket(caller).Allow()
}

func (p *limiterPool) bucket(caller string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[caller]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[caller] = l
	return l
}
