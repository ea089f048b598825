package security

import (
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/fluxorio/callcenter/pkg/web"
)

// RateLimitConfig configures rate limiting
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client
	RequestsPerSecond float64

	// RequestsPerMinute is used when RequestsPerSecond is zero
	RequestsPerMinute int

	// Burst is the number of requests a client may make at once (default: 1)
	Burst int

	// KeyFunc identifies the client (default: remote IP)
	KeyFunc func(ctx *web.FastRequestContext) string

	// IdleTTL drops limiters of clients unseen for this long (default: 10m)
	IdleTTL time.Duration

	// OnLimitReached is called when the limit is exceeded; default is 429
	OnLimitReached func(ctx *web.FastRequestContext) error
}

// DefaultRateLimitConfig returns a per-IP limit of 100 requests per minute
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 100,
		Burst:             10,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per client key
type limiterSet struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	swept   time.Time
}

func (s *limiterSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	if now.Sub(s.swept) > s.ttl {
		for k, c := range s.clients {
			if now.Sub(c.lastSeen) > s.ttl {
				delete(s.clients, k)
			}
		}
		s.swept = now
	}
	c, ok := s.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[key] = c
	}
	c.lastSeen = now
	s.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// RateLimit middleware enforces a per-client token bucket. Each call
// creates an independent set of limiters, so it can be used per route.
func RateLimit(config RateLimitConfig) web.FastMiddleware {
	limit := rate.Limit(config.RequestsPerSecond)
	if limit <= 0 {
		perMinute := config.RequestsPerMinute
		if perMinute <= 0 {
			perMinute = 100
		}
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	ttl := config.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = func(ctx *web.FastRequestContext) string {
			return ctx.RequestCtx.RemoteIP().String()
		}
	}

	set := &limiterSet{
		clients: make(map[string]*client),
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		swept:   time.Now(),
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			if set.allow(keyFunc(ctx), time.Now()) {
				return next(ctx)
			}
			if config.OnLimitReached != nil {
				return config.OnLimitReached(ctx)
			}
			ctx.RequestCtx.SetStatusCode(fasthttp.StatusTooManyRequests)
			ctx.RequestCtx.SetContentType("application/json")
			_, _ = ctx.RequestCtx.WriteString(`{"error":"rate_limit_exceeded","message":"Too many requests"}`)
			return nil
		}
	}
}
