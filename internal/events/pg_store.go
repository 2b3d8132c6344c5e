package events

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"

	"trade_engine/pkg/db"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS bot_events (
	id         BIGSERIAL PRIMARY KEY,
	bot_id     TEXT        NOT NULL,
	bot        TEXT        NOT NULL,
	symbol     TEXT        NOT NULL,
	type       TEXT        NOT NULL,
	message    TEXT        NOT NULL,
	details    JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS bot_events_bot_created_idx ON bot_events (bot_id, created_at);
`

const pgInsert = `INSERT INTO bot_events (bot_id, bot, symbol, type, message, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// PgStore пишет события в Postgres, details: jsonb.
type PgStore struct {
	tx db.TxManager
}

func NewPgStore(tx db.TxManager) *PgStore { return &PgStore{tx: tx} }

func (s *PgStore) EnsureSchema(ctx context.Context) error {
	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctx, pgSchema)
		return err
	})
}

func (s *PgStore) Insert(ctx context.Context, batch []Event) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("events.PgStore.Insert: %w", err)
		}
	}()

	b := &pgx.Batch{}
	for _, e := range batch {
		details, err := marshalDetails(e.Details)
		if err != nil {
			return err
		}
		b.Queue(pgInsert, e.BotID, e.Bot, e.Symbol, string(e.Type), e.Message, details, e.At)
	}

	return s.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		return tx.SendBatch(ctx, b).Close()
	})
}

func marshalDetails(d map[string]any) ([]byte, error) {
	if len(d) == 0 {
		return nil, nil
	}
	raw, err := sonic.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal details: %w", err)
	}
	return raw, nil
}
