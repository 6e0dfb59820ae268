package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"meetjoin/pkg/config"
	"meetjoin/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the per-client limiter table. Past it, clients
// whose bucket has refilled are forgotten.
const maxTrackedClients = 1024

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type clientLimiters struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

func newClientLimiters(limit rate.Limit, burst int) *clientLimiters {
	return &clientLimiters{
		clients: make(map[string]*clientLimiter),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

func (s *clientLimiters) allow(client string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.clients[client]
	if !ok {
		if len(s.clients) >= maxTrackedClients {
			s.evictIdleLocked(now)
		}
		entry = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (s *clientLimiters) evictIdleLocked(now time.Time) {
	for client, entry := range s.clients {
		if entry.limiter.TokensAt(now) >= float64(s.burst) {
			delete(s.clients, client)
		}
	}
}

func (s *clientLimiters) retryAfter() string {
	return strconv.Itoa(int(math.Ceil(1 / float64(s.limit))))
}

// NewHTTPRateLimitMiddleware limits control API requests per client IP.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	rl := cfg.Control.RateLimiting
	if !rl.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	clients := newClientLimiters(rate.Limit(rl.RequestsPerSecond), rl.Burst)

	return func(c *gin.Context) {
		if !clients.allow(c.ClientIP()) {
			c.Header("Retry-After", clients.retryAfter())
			_ = c.Error(errors.NewRateLimitError())
			c.Abort()
			return
		}
		c.Next()
	}
}
