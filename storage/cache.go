package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// Cache wraps a store with Redis-backed caching of board and todo listings.
// Every write evicts the listings it can affect.
type Cache struct {
	base  domain.Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base domain.Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	key := boardsCacheKey(ownerID)
	var boards []domain.Board
	if c.load(ctx, key, &boards) {
		return boards, nil
	}
	boards, err := c.base.ListBoards(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, boards)
	return boards, nil
}

func (c *Cache) GetBoard(ctx context.Context, ownerID, boardID string) (*domain.Board, error) {
	return c.base.GetBoard(ctx, ownerID, boardID)
}

func (c *Cache) InsertBoard(ctx context.Context, b domain.Board) error {
	if err := c.base.InsertBoard(ctx, b); err != nil {
		return err
	}
	c.evict(ctx, boardsCacheKey(b.OwnerID))
	return nil
}

func (c *Cache) UpdateBoard(ctx context.Context, b domain.Board) error {
	if err := c.base.UpdateBoard(ctx, b); err != nil {
		return err
	}
	c.evict(ctx, boardsCacheKey(b.OwnerID))
	return nil
}

func (c *Cache) DeleteBoard(ctx context.Context, ownerID, boardID string) (int, error) {
	removed, err := c.base.DeleteBoard(ctx, ownerID, boardID)
	if err != nil {
		return removed, err
	}
	c.evict(ctx, boardsCacheKey(ownerID), todosCacheKey(ownerID, boardID))
	return removed, nil
}

func (c *Cache) ListTodos(ctx context.Context, ownerID, boardID string) ([]domain.Todo, error) {
	key := todosCacheKey(ownerID, boardID)
	var todos []domain.Todo
	if c.load(ctx, key, &todos) {
		return todos, nil
	}
	todos, err := c.base.ListTodos(ctx, ownerID, boardID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, todos)
	return todos, nil
}

func (c *Cache) GetTodo(ctx context.Context, ownerID, todoID string) (*domain.Todo, error) {
	return c.base.GetTodo(ctx, ownerID, todoID)
}

func (c *Cache) CreateTodo(ctx context.Context, t domain.Todo) (domain.Todo, error) {
	created, err := c.base.CreateTodo(ctx, t)
	if err != nil {
		return created, err
	}
	c.evict(ctx, todosCacheKey(t.OwnerID, t.BoardID))
	return created, nil
}

func (c *Cache) UpdateTodo(ctx context.Context, t domain.Todo) error {
	if err := c.base.UpdateTodo(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, todosCacheKey(t.OwnerID, t.BoardID))
	return nil
}

func (c *Cache) DeleteTodo(ctx context.Context, ownerID, boardID, todoID string) error {
	if err := c.base.DeleteTodo(ctx, ownerID, boardID, todoID); err != nil {
		return err
	}
	c.evict(ctx, todosCacheKey(ownerID, boardID))
	return nil
}

// Ping checks Redis and, when supported, the wrapped store.
func (c *Cache) Ping(ctx context.Context) error {
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	if p, ok := c.base.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			log.WithError(err).WithField("key", key).Warn("cache read failed")
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		log.WithError(err).WithField("keys", keys).Warn("cache eviction failed")
	}
}

func boardsCacheKey(ownerID string) string {
	return "boards:" + ownerID
}

func todosCacheKey(ownerID, boardID string) string {
	return "todos:" + ownerID + ":" + boardID
}
