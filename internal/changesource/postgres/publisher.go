package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contentsync/internal/changesource/codec"
	"contentsync/internal/trigger"
	txcontext "contentsync/pkg/platform/tx"
)

// maxPayload is the NOTIFY payload limit of a default PostgreSQL build.
const maxPayload = 8000

var ErrPayloadTooLarge = errors.New("change batch exceeds notification payload limit")

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Publisher emits change batches with pg_notify. When ctx carries a
// transaction the notification joins it and is only delivered on commit.
type Publisher struct {
	db      *sql.DB
	channel string
}

func NewPublisher(db *sql.DB, channel string) *Publisher {
	return &Publisher{db: db, channel: channel}
}

func (p *Publisher) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return p.db
}

// Publish sends events as one notification.
func (p *Publisher) Publish(ctx context.Context, events ...trigger.Event) error {
	data, err := codec.Encode(events...)
	if err != nil {
		return err
	}
	if len(data) >= maxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}
	if _, err := p.execer(ctx).ExecContext(ctx, `SELECT pg_notify($1, $2)`, p.channel, string(data)); err != nil {
		return fmt.Errorf("notify %s: %w", p.channel, err)
	}
	return nil
}
