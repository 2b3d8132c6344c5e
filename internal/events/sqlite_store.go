package events

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bot_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	bot_id     TEXT NOT NULL,
	bot        TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	type       TEXT NOT NULL,
	message    TEXT NOT NULL,
	details    TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bot_events_bot ON bot_events (bot_id, created_at);
`

// SQLiteStore: локальный журнал для paper-режима и разработки.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// sqlite не любит параллельных писателей
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, batch []Event) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("events.SQLiteStore.Insert: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("events.SQLiteStore.Insert: %w", err)
			return
		}
		err = tx.Commit()
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO bot_events (bot_id, bot, symbol, type, message, details, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		details, err := marshalDetails(e.Details)
		if err != nil {
			return err
		}
		var d any
		if details != nil {
			d = string(details)
		}
		if _, err := stmt.ExecContext(ctx, e.BotID, e.Bot, e.Symbol, string(e.Type), e.Message, d, e.At); err != nil {
			return err
		}
	}
	return nil
}

// Count: число событий бота заданного типа.
func (s *SQLiteStore) Count(ctx context.Context, botID string, t Type) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bot_events WHERE bot_id = ? AND type = ?`, botID, string(t)).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
