package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS outbox_items (
	queue     TEXT NOT NULL,
	position  INTEGER NOT NULL,
	id        TEXT NOT NULL,
	body      TEXT NOT NULL,
	PRIMARY KEY (queue, position)
);
`

// SQLiteStore keeps a named queue in an embedded database. Several queues
// (pending items, dead letters) can share one file.
type SQLiteStore struct {
	db   *sql.DB
	name string
}

// NewSQLiteStore creates the table when missing.
func NewSQLiteStore(ctx context.Context, db *sql.DB, name string) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("migrate outbox: %w", err)
	}
	return &SQLiteStore{db: db, name: name}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM outbox_items WHERE queue = ? ORDER BY position`, s.name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.name, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.name, err)
		}
		var item Item
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			return nil, fmt.Errorf("decode %s item: %w", s.name, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Save rewrites the queue in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, items []Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", s.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox_items WHERE queue = ?`, s.name); err != nil {
		return fmt.Errorf("clear %s: %w", s.name, err)
	}
	for pos, item := range items {
		body, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode %s: %w", item.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO outbox_items (queue, position, id, body) VALUES (?, ?, ?, ?)`,
			s.name, pos, item.ID, string(body)); err != nil {
			return fmt.Errorf("insert %s: %w", item.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", s.name, err)
	}
	return nil
}
