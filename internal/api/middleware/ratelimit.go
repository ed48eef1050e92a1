package middleware

import (
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ignite-health/funnel/internal/api/problem"
	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/metrics"
)

type RateLimitTier string

const (
	TierGeneral     RateLimitTier = "general"
	TierNewsletter  RateLimitTier = "newsletter"
	TierForms       RateLimitTier = "forms"
	TierStats       RateLimitTier = "stats"
	TierUnsubscribe RateLimitTier = "unsubscribe"
)

// RateLimiter keeps one token bucket per tier and client. A tier allows
// Limit requests per Window with a burst of Limit, so the (Limit+1)-th
// immediate request is rejected.
type RateLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	tiers       map[RateLimitTier]config.RateTier
	trusted     []netip.Prefix
	env         string
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	tier     RateLimitTier
	lastSeen time.Time
}

func NewRateLimiter(cfg config.RateLimitConfig, env string) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		tiers: map[RateLimitTier]config.RateTier{
			TierGeneral:     cfg.General,
			TierNewsletter:  cfg.Newsletter,
			TierForms:       cfg.Forms,
			TierStats:       cfg.Stats,
			TierUnsubscribe: cfg.Unsubscribe,
		},
		trusted:     parseProxyPrefixes(cfg.TrustedProxyCIDRs),
		env:         env,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Limit applies tier to next. Liveness probes are never limited.
func (rl *RateLimiter) Limit(tier RateLimitTier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			limiter, window := rl.limiter(tier, clientIP(r, rl.trusted))
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.AllowN(rl.now(), 1) {
				metrics.RateLimitedTotal.WithLabelValues(string(tier)).Inc()
				retry := retryAfterSeconds(limiter, window)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				problem.Write(w, r, http.StatusTooManyRequests, "Rate limit exceeded", nil, rl.env,
					problem.WithMessage("Too many requests. Please try again in "+strconv.Itoa(retry)+" seconds."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) limiter(tier RateLimitTier, key string) (*rate.Limiter, time.Duration) {
	cfg, ok := rl.tiers[tier]
	if !ok || cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil, 0
	}

	lookup := string(tier) + ":" + key
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[lookup]; ok {
		entry.lastSeen = now
		return entry.limiter, cfg.Window
	}
	limiter := rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.Limit)), cfg.Limit)
	rl.limiters[lookup] = &limiterEntry{limiter: limiter, tier: tier, lastSeen: now}
	return limiter, cfg.Window
}

func retryAfterSeconds(l *rate.Limiter, window time.Duration) int {
	every := time.Duration(float64(time.Second) / float64(l.Limit()))
	if l.Limit() == rate.Inf || every <= 0 {
		every = window
	}
	return int(math.Max(1, math.Ceil(every.Seconds())))
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup evicts entries idle for more than twice their tier's window.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > 2*rl.tiers[entry.tier].Window {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
