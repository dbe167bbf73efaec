package service

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const redisChatAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

// ChatRateLimiter limita la cantidad de preguntas por usuario.
type ChatRateLimiter interface {
	Allow(key string) bool
}

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// redisChatRateLimiter usa una ventana fija compartida entre réplicas.
type redisChatRateLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
}

func NewRedisChatRateLimiter(client *redis.Client, window time.Duration, max int) ChatRateLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &redisChatRateLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "chat:rl:",
	}
}

func (l *redisChatRateLimiter) Allow(key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	normalizedKey := strings.ToLower(strings.TrimSpace(key))
	if normalizedKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	redisKey := l.prefix + normalizedKey
	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 60
	}
	count, err := l.client.Eval(ctx, redisChatAllowScript, []string{redisKey}, seconds).Int()
	if err != nil {
		return true
	}
	return count <= l.max
}

// memoryChatRateLimiter mantiene un token bucket por clave; los buckets
// inactivos expiran de la caché.
type memoryChatRateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *cache.Cache
}

// NewMemoryChatRateLimiter permite max preguntas por window, con ráfagas de hasta max.
func NewMemoryChatRateLimiter(window time.Duration, max int) ChatRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &memoryChatRateLimiter{
		limit:    rate.Every(window / time.Duration(max)),
		burst:    max,
		limiters: cache.New(2*window, 4*window),
	}
}

func (l *memoryChatRateLimiter) Allow(key string) bool {
	normalizedKey := strings.ToLower(strings.TrimSpace(key))
	if normalizedKey == "" {
		return false
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	if err := l.limiters.Add(normalizedKey, limiter, cache.DefaultExpiration); err != nil {
		if existing, ok := l.limiters.Get(normalizedKey); ok {
			limiter = existing.(*rate.Limiter)
		}
	}
	// Renueva la expiración mientras la clave siga activa.
	l.limiters.SetDefault(normalizedKey, limiter)
	return limiter.Allow()
}
