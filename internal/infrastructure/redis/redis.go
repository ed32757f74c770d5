package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/untold/layout-service/internal/domain"
)

type Cache struct {
	Client *redis.Client
}

func New(addr, pass string, db int) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return &Cache{Client: rdb}
}

func (c *Cache) GetProfile(ctx context.Context, userID uuid.UUID) (domain.UserProfile, error) {
	raw, err := c.Client.Get(ctx, "profile:"+userID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.UserProfile{}, domain.ErrCacheMiss
		}
		return domain.UserProfile{}, err
	}

	var p domain.UserProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		// treat a corrupt entry as a miss so the store stays authoritative
		return domain.UserProfile{}, domain.ErrCacheMiss
	}
	return p, nil
}

func (c *Cache) SetProfile(ctx context.Context, profile domain.UserProfile, ttl time.Duration) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, "profile:"+profile.ID.String(), raw, ttl).Err()
}

// AllowRequest: Simple Fixed Window Rate Limit
func (c *Cache) AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	key := "ratelimit:" + ip
	count, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return true, nil // fail open
	}
	if count == 1 {
		_ = c.Client.Expire(ctx, key, window).Err()
	}
	return count <= int64(limit), nil
}
