// Package dashboard serves the read-only parent and teacher dashboards,
// optionally through a Redis read-through cache.
package dashboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bosla-edu/desk/internal/model"
)

// DefaultTTL is how long a cached dashboard is served.
const DefaultTTL = time.Minute

// Gateway fetches the dashboards from the API.
type Gateway interface {
	ParentDashboard(ctx context.Context) (model.ParentDashboard, error)
	TeacherDashboard(ctx context.Context) (model.TeacherDashboard, error)
}

// TokenSource identifies the signed-in user so cache entries are not shared.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Service fetches dashboards. A nil cache disables caching.
type Service struct {
	gw     Gateway
	cache  *redis.Client
	ttl    time.Duration
	tokens TokenSource
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the Redis cache. Entries are keyed by the signed-in
// user's token, so tokens is required.
func WithCache(c *redis.Client, ttl time.Duration, tokens TokenSource) Option {
	return func(s *Service) {
		s.cache = c
		s.tokens = tokens
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New returns a dashboard service.
func New(gw Gateway, opts ...Option) *Service {
	s := &Service{gw: gw, ttl: DefaultTTL}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ConnectRedis configures a Redis client from a URL or a host:port address.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address must not be empty")
	}
	options, err := redis.ParseURL(addr)
	if err != nil {
		options = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}
	return client, nil
}

// Parent returns the signed-in parent's dashboard.
func (s *Service) Parent(ctx context.Context) (model.ParentDashboard, error) {
	var d model.ParentDashboard
	err := s.cached(ctx, "parent", &d, func() (any, error) {
		return s.gw.ParentDashboard(ctx)
	})
	if d.Children == nil {
		d.Children = []model.ChildSummary{}
	}
	return d, err
}

// Teacher returns the signed-in teacher's dashboard.
func (s *Service) Teacher(ctx context.Context) (model.TeacherDashboard, error) {
	var d model.TeacherDashboard
	err := s.cached(ctx, "teacher", &d, func() (any, error) {
		return s.gw.TeacherDashboard(ctx)
	})
	return d, err
}

// Invalidate drops the cached dashboards of the signed-in user.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	keys := make([]string, 0, 2)
	for _, kind := range []string{"parent", "teacher"} {
		k, err := s.key(ctx, kind)
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}
	return s.cache.Del(ctx, keys...).Err()
}

func (s *Service) key(ctx context.Context, kind string) (string, error) {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(tok))
	return fmt.Sprintf("bosla:dashboard:%s:%s", kind, hex.EncodeToString(sum[:8])), nil
}

// cached decodes the cached value of kind into out, or calls fetch and
// stores its result. Cache failures only cost a fetch.
func (s *Service) cached(ctx context.Context, kind string, out any, fetch func() (any, error)) error {
	var cacheKey string
	if s.cache != nil {
		k, err := s.key(ctx, kind)
		if err != nil {
			return fmt.Errorf("%s dashboard: %w", kind, err)
		}
		cacheKey = k
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			if json.Unmarshal([]byte(cached), out) == nil {
				slog.Debug("dashboard cache hit", "kind", kind)
				return nil
			}
		} else if !errors.Is(err, redis.Nil) {
			slog.Warn("failed to read dashboard cache", "kind", kind, "error", err)
		}
	}

	v, err := fetch()
	if err != nil {
		return fmt.Errorf("%s dashboard: %w", kind, err)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s dashboard: %w", kind, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s dashboard: %w", kind, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, payload, s.ttl).Err(); err != nil {
			slog.Warn("failed to store dashboard cache", "kind", kind, "error", err)
		}
	}
	return nil
}
