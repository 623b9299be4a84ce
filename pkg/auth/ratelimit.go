package auth

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/organiq/eve-core/pkg/api/problem"
)

// Limiter hands out one token bucket per actor.
type Limiter struct {
	mu     sync.Mutex
	actors map[string]*rate.Limiter
	rps    rate.Limit
	burst  int
}

// NewLimiter allows rps requests per second with the given burst per actor.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		actors: make(map[string]*rate.Limiter),
		rps:    rate.Limit(rps),
		burst:  burst,
	}
}

func (l *Limiter) limiterFor(actorID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.actors[actorID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.actors[actorID] = lim
	}
	return lim
}

// Allow reports whether the actor may proceed.
func (l *Limiter) Allow(actorID string) bool {
	return l.limiterFor(actorID).Allow()
}

// RateLimitMiddleware enforces per-actor rate limiting. The actor id comes
// from the authenticated principal, falling back to the remote address. A
// nil limiter disables limiting (dev mode).
func RateLimitMiddleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.RemoteAddr
			if p, err := GetPrincipal(r.Context()); err == nil {
				actorID = p.GetID()
			}

			if !limiter.Allow(actorID) {
				retryAfter := int(1 / float64(limiter.rps))
				if retryAfter < 1 {
					retryAfter = 1
				}
				problem.WriteTooManyRequests(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
