package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// HeaderIdempotencyKey lets clients retry a create without duplicating it.
const HeaderIdempotencyKey = "Idempotency-Key"

// RedisDeduper stores seen idempotency keys in Redis so all instances
// agree on which creates were already processed.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key so the caller may retry.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}

// idempotent rejects a replayed Idempotency-Key with 409. Keys of requests
// that end in an error are released again. A Redis outage lets the request
// through.
func idempotent(deduper Deduper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(HeaderIdempotencyKey)
			if deduper == nil || key == "" {
				return next(c)
			}
			ctx := c.Request().Context()
			user := userID(c)
			scoped := c.Request().Method + " " + c.Request().URL.Path + " " + key

			added, err := deduper.Add(ctx, user, scoped)
			if err != nil {
				log.WithError(err).Warn("idempotency check failed; processing request")
				return next(c)
			}
			if !added {
				return c.JSON(http.StatusConflict, messageResponse{Message: "Duplicate request"})
			}

			err = next(c)
			if err != nil || c.Response().Status >= http.StatusBadRequest {
				if rerr := deduper.Remove(context.WithoutCancel(ctx), user, scoped); rerr != nil {
					log.WithError(rerr).Warn("release idempotency key")
				}
			}
			return err
		}
	}
}
