package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"wisdombot/internal/transport"
	logx "wisdombot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSubscribers(ctx context.Context) (Subscribers, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM subscribers`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	subs := Subscribers{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		subs[transport.ChatID(id)] = struct{}{}
	}
	return subs, rows.Err()
}

func (s *sqliteStore) SaveSubscribers(ctx context.Context, subs Subscribers) error {
	return s.replace(ctx, `DELETE FROM subscribers`, `INSERT INTO subscribers(chat_id) VALUES(?)`, func(stmt *sql.Stmt) error {
		for id := range subs {
			if _, err := stmt.ExecContext(ctx, int64(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadPending(ctx context.Context) (PendingTable, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, group_id, issued_at_ms, token FROM pending`)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	table := PendingTable{}
	for rows.Next() {
		var (
			user, group, ms int64
			token           string
		)
		if err := rows.Scan(&user, &group, &ms, &token); err != nil {
			return nil, err
		}
		table[transport.ChatID(user)] = Pending{
			GroupID:  transport.ChatID(group),
			IssuedAt: time.UnixMilli(ms),
			Token:    token,
		}
	}
	return table, rows.Err()
}

func (s *sqliteStore) SavePending(ctx context.Context, table PendingTable) error {
	return s.replace(ctx, `DELETE FROM pending`,
		`INSERT INTO pending(user_id, group_id, issued_at_ms, token) VALUES(?,?,?,?)`,
		func(stmt *sql.Stmt) error {
			for user, p := range table {
				if _, err := stmt.ExecContext(ctx, int64(user), int64(p.GroupID), p.IssuedAt.UnixMilli(), p.Token); err != nil {
					return err
				}
			}
			return nil
		})
}

// replace clears a table and refills it in one transaction.
func (s *sqliteStore) replace(ctx context.Context, clear, insert string, fill func(stmt *sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, clear); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return err
	}
	defer stmt.Close()

	if err := fill(stmt); err != nil {
		return err
	}
	return tx.Commit()
}
