package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dentaliq/api/internal/platform/auth"
)

// ChatLimitMessage is returned with 429 when a caller sends chat messages
// too quickly.
const ChatLimitMessage = "Too many messages, please slow down."

// NewChatMemoryStore limits each caller with a token bucket held in process
// memory: perMinute messages back to back, then one every 60/perMinute
// seconds. A full bucket plus a minute of refill admits up to 2*perMinute
// messages in the first 60 seconds; RedisStore's fixed window admits
// perMinute per clock minute, but also up to 2*perMinute across a window
// boundary. Both hold the sustained rate to perMinute.
func NewChatMemoryStore(perMinute int) echomw.RateLimiterStore {
	return echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(perMinute) / 60),
		Burst:     perMinute,
		ExpiresIn: 3 * time.Minute,
	})
}

// ChatRateLimit limits chat messages per authenticated staff member, or per
// client IP when the request carries no identity. It must run after the
// auth middleware.
func ChatRateLimit(store echomw.RateLimiterStore) echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return chatCallerKey(c), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "unable to identify caller")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, ChatLimitMessage)
		},
	})
}

func chatCallerKey(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.RealIP()
}

// RedisStore is a fixed-window limiter shared by every server instance that
// points at the same Redis. Each identifier gets Limit hits per Window.
type RedisStore struct {
	client  redis.UniversalClient
	limit   int64
	window  time.Duration
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRedisStore returns a store counting hits under keys "<prefix>:<id>:<window>".
func NewRedisStore(client redis.UniversalClient, prefix string, limit int, window time.Duration, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client:  client,
		limit:   int64(limit),
		window:  window,
		prefix:  prefix,
		timeout: 500 * time.Millisecond,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *RedisStore) key(identifier string, at time.Time) string {
	bucket := at.UnixNano() / int64(s.window)
	return fmt.Sprintf("%s:%s:%d", s.prefix, identifier, bucket)
}

// Allow implements echo's RateLimiterStore. Redis failures let the request
// through and are logged.
func (s *RedisStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	key := s.key(identifier, s.now())
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("chat rate limit store unavailable, allowing request")
		return true, nil
	}
	return incr.Val() <= s.limit, nil
}

// NewRedisClient parses a redis:// URL and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
