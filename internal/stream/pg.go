package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// waitTimeout bounds each WaitForNotification call so shutdown is never stuck
// behind a silent connection.
const waitTimeout = 30 * time.Second

// PGSource subscribes to a Postgres NOTIFY channel on a dedicated pooled
// connection. A trigger on the transactions table emits one JSON payload per
// status change.
type PGSource struct {
	pool    *pgxpool.Pool
	channel string
}

func NewPGSource(pool *pgxpool.Pool, channel string) *PGSource {
	return &PGSource{pool: pool, channel: channel}
}

// Subscribe listens on the configured channel and decodes payloads into out.
// Connection loss is retried with exponential backoff; malformed payloads are
// logged and dropped.
func (s *PGSource) Subscribe(ctx context.Context, out chan<- Event) error {
	retry := backoff.NewExponentialBackOff()
	retry.MaxInterval = 30 * time.Second
	retry.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := s.listenOnce(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := retry.NextBackOff()
		zap.L().Warn("change stream connection lost, reconnecting",
			zap.String("channel", s.channel),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// listenOnce holds one dedicated connection and pumps notifications until the
// connection fails or ctx is canceled.
func (s *PGSource) listenOnce(ctx context.Context, out chan<- Event) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen on %s: %w", s.channel, err)
	}
	zap.L().Info("listening for transaction change notifications", zap.String("channel", s.channel))

	for {
		waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
		notification, err := conn.Conn().WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if waitCtx.Err() == context.DeadlineExceeded {
				continue
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		var ev Event
		if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
			zap.L().Warn("dropping malformed change notification",
				zap.String("channel", notification.Channel),
				zap.String("payload", notification.Payload),
				zap.Error(err),
			)
			continue
		}
		if ev.TransactionID == "" {
			zap.L().Warn("dropping change notification without transaction id",
				zap.String("payload", notification.Payload),
			)
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
