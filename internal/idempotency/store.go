// Package idempotency guards stock mutations against duplicate delivery.
//
// The persisted markers on the transaction document are the single source of
// truth. Redis is a read-through cache in front of them so duplicate change
// notifications can be dropped without a store round trip; every redis failure
// degrades to the authoritative read and is never fatal.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/kemiade/salon-stock-engine/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "stock:marker"

// Path selects which of the two one-way markers is consulted.
type Path string

const (
	PathDeduct Path = "deduct"
	PathReturn Path = "return"
)

// TransactionReader is the authoritative marker source.
type TransactionReader interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
}

type Store struct {
	redis redis.Cmdable
	txs   TransactionReader
	ttl   time.Duration
}

func NewStore(redis redis.Cmdable, txs TransactionReader, ttl time.Duration) *Store {
	return &Store{redis: redis, txs: txs, ttl: ttl}
}

// IsApplied reports whether the given path already ran for the transaction,
// consulting the cache tier first and the persisted markers second.
func (s *Store) IsApplied(ctx context.Context, txID string, path Path) (bool, error) {
	if s.CachedApplied(ctx, txID, path) {
		return true, nil
	}

	tx, err := s.txs.GetTransaction(ctx, txID)
	if err != nil {
		return false, fmt.Errorf("load markers for %s: %w", txID, err)
	}

	applied := s.appliedOn(tx, path)
	if applied {
		s.CacheApplied(ctx, txID, path)
	}
	return applied, nil
}

// CachedApplied consults only the redis tier. A miss or an unavailable redis
// both read as "not applied"; the caller falls through to the store.
func (s *Store) CachedApplied(ctx context.Context, txID string, path Path) bool {
	if s.redis == nil {
		return false
	}
	err := s.redis.Get(ctx, redisKey(txID, path)).Err()
	if err == nil {
		return true
	}
	if err != redis.Nil {
		zap.L().Warn("redis marker lookup failed", zap.String("transaction_id", txID), zap.Error(err))
	}
	return false
}

// CacheApplied records a successfully applied path in the cache tier.
func (s *Store) CacheApplied(ctx context.Context, txID string, path Path) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, redisKey(txID, path), "1", s.ttl).Err(); err != nil {
		zap.L().Warn("redis marker cache set failed", zap.String("transaction_id", txID), zap.Error(err))
	}
}

func (s *Store) appliedOn(tx *models.Transaction, path Path) bool {
	switch path {
	case PathDeduct:
		return tx.StockDeducted
	case PathReturn:
		return tx.StockReturned
	}
	return false
}

func redisKey(txID string, path Path) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, path, txID)
}
