package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ringi/internal/metrics"
	"ringi/internal/repo"
)

// Resolver maps user ids to display names within a tenant. Unknown ids are
// absent from the result.
type Resolver interface {
	ResolveNames(ctx context.Context, tenantID string, ids []string) (map[string]string, error)
}

// SQL resolves names from the users table.
type SQL struct {
	Repo repo.Repo
}

func (s SQL) ResolveNames(ctx context.Context, tenantID string, ids []string) (map[string]string, error) {
	scoped, err := s.Repo.Tenant(tenantID)
	if err != nil {
		return nil, err
	}
	users, err := scoped.UsersByIDs(ctx, unique(ids))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(users))
	for _, u := range users {
		out[u.ID] = u.Name
	}
	return out, nil
}

// Cache keeps resolved names in one redis hash per tenant. Redis failures
// degrade to the next resolver.
type Cache struct {
	Redis   *redis.Client
	Next    Resolver
	TTL     time.Duration
	Prefix  string
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func NewCache(client *redis.Client, next Resolver, ttl time.Duration) *Cache {
	return &Cache{Redis: client, Next: next, TTL: ttl, Prefix: "ringi:user_names"}
}

func (c *Cache) hashKey(tenantID string) string {
	return fmt.Sprintf("%s:{%s}", c.Prefix, tenantID)
}

func (c *Cache) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Cache) ResolveNames(ctx context.Context, tenantID string, ids []string) (map[string]string, error) {
	ids = unique(ids)
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	key := c.hashKey(tenantID)
	out := make(map[string]string, len(ids))
	missing := ids
	values, err := c.Redis.HMGet(ctx, key, ids...).Result()
	if err != nil {
		c.logger().Warn("name cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
		c.Metrics.NameCache("error")
	} else {
		missing = missing[:0:0]
		for i, v := range values {
			name, ok := v.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			out[ids[i]] = name
		}
		c.Metrics.NameCache("hit")
	}
	if len(missing) == 0 {
		return out, nil
	}
	c.Metrics.NameCache("miss")
	fetched, err := c.Next.ResolveNames(ctx, tenantID, missing)
	if err != nil {
		return nil, err
	}
	if len(fetched) > 0 {
		fields := make(map[string]any, len(fetched))
		for id, name := range fetched {
			out[id] = name
			fields[id] = name
		}
		pipe := c.Redis.TxPipeline()
		pipe.HSet(ctx, key, fields)
		if c.TTL > 0 {
			pipe.Expire(ctx, key, c.TTL)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger().Warn("name cache write failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}
	return out, nil
}

// Forget drops a cached name after the user record changed.
func (c *Cache) Forget(ctx context.Context, tenantID, userID string) error {
	return c.Redis.HDel(ctx, c.hashKey(tenantID), userID).Err()
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
