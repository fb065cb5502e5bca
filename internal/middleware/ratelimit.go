package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"ms-events/internal/logger"
	"ms-events/internal/utils"

	"golang.org/x/time/rate"
)

const limiterTTL = 15 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per client IP token bucket refilled perMinute times a minute.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	perMinute int
	log       *logger.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewRateLimiter starts a limiter with a background sweep of idle clients.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute int, log *logger.Logger) *RateLimiter {
	rl := &RateLimiter{
		limiters:  make(map[string]*limiterEntry),
		perMinute: perMinute,
		log:       log,
		stop:      make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.perMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if !rl.limiter(ip).Allow() {
			rl.log.LogSecurity("RATE_LIMITED", ip+" "+r.Method+" "+r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			utils.WriteJSON(w, http.StatusTooManyRequests, utils.ErrorBody{
				Success: false,
				Code:    "TooManyRequests",
				Message: "Too many requests, please try again later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[key]; ok {
		entry.lastSeen = time.Now()
		return entry.limiter
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.perMinute)), rl.perMinute)
	rl.limiters[key] = &limiterEntry{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep(time.Now().Add(-limiterTTL))
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) sweep(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// clientIP is the peer address. RealIP replaces it only for trusted proxies.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
