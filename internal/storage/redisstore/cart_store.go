package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	cartKeyPrefix = "pos:cart:"
	cartIndexKey  = "pos:carts"
)

// CartStore хранит корзины кассовых сессий в Redis: JSON по ключу pos:cart:{id}
// и множество идентификаторов pos:carts.
type CartStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Entry
}

// NewCartStore создаёт хранилище. ttl <= 0 отключает истечение корзин.
func NewCartStore(client *redis.Client, ttl time.Duration) *CartStore {
	return &CartStore{
		client: client,
		ttl:    ttl,
		logger: log.WithField("component", "redis-cart-store"),
	}
}

// Save сериализует корзину и обновляет индекс в одной транзакции.
func (s *CartStore) Save(ctx context.Context, cart domain.Cart) error {
	if cart.ID == "" {
		return domain.ErrCartIDRequired
	}

	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ttl := s.ttl
		if ttl < 0 {
			ttl = 0
		}
		pipe.Set(ctx, cartKey(cart.ID), data, ttl)
		pipe.SAdd(ctx, cartIndexKey, cart.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save cart failed: %w", err)
	}
	return nil
}

// Delete удаляет корзину и её идентификатор из индекса.
func (s *CartStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cartKey(id))
		pipe.SRem(ctx, cartIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete cart failed: %w", err)
	}
	return nil
}

// List возвращает все корзины в порядке создания. Истёкшие ключи вычищаются из индекса.
func (s *CartStore) List(ctx context.Context) ([]domain.Cart, error) {
	ids, err := s.client.SMembers(ctx, cartIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list carts failed: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Cart{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cartKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis mget carts failed: %w", err)
	}

	carts := make([]domain.Cart, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var cart domain.Cart
		if err := json.Unmarshal([]byte(raw), &cart); err != nil {
			s.logger.WithError(err).WithField("cart_id", ids[i]).Warn("skip corrupted cart")
			continue
		}
		carts = append(carts, cart)
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, cartIndexKey, stale...).Err(); err != nil {
			s.logger.WithError(err).Warn("failed to prune expired carts from index")
		}
	}

	sort.Slice(carts, func(i, j int) bool {
		if !carts[i].CreatedAt.Equal(carts[j].CreatedAt) {
			return carts[i].CreatedAt.Before(carts[j].CreatedAt)
		}
		return carts[i].ID < carts[j].ID
	})
	return carts, nil
}

// Ping проверяет доступность Redis.
func (s *CartStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func cartKey(id string) string {
	return cartKeyPrefix + id
}

var _ domain.CartStore = (*CartStore)(nil)
