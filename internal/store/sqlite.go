package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	sqliteBusyTimeoutMS = 5000
	sqliteOpenTimeout   = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS accessories (
	id         TEXT PRIMARY KEY,
	device_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	context    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, sqliteBusyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpenTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	_ = os.Chmod(path, 0600)

	return &SQLiteStore{db: db}, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertAccessory(e execer, acc *Accessory) error {
	ctxJSON, err := json.Marshal(acc.Context)
	if err != nil {
		return err
	}
	_, err = e.Exec(`INSERT INTO accessories (id, device_id, name, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			name = excluded.name,
			context = excluded.context,
			updated_at = excluded.updated_at`,
		acc.ID, acc.DeviceID, acc.Name, string(ctxJSON),
		acc.CreatedAt.UnixNano(), acc.UpdatedAt.UnixNano())
	return err
}

func (s *SQLiteStore) SaveAccessory(acc *Accessory) error {
	if err := upsertAccessory(s.db, acc); err != nil {
		return fmt.Errorf("save accessory %s: %w", acc.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccessory(row scanner) (*Accessory, error) {
	var (
		acc              Accessory
		ctxJSON          string
		created, updated int64
	)
	if err := row.Scan(&acc.ID, &acc.DeviceID, &acc.Name, &ctxJSON, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ctxJSON), &acc.Context); err != nil {
		return nil, fmt.Errorf("accessory %s context: %w", acc.ID, err)
	}
	acc.CreatedAt = time.Unix(0, created)
	acc.UpdatedAt = time.Unix(0, updated)
	return &acc, nil
}

func (s *SQLiteStore) GetAccessory(id string) (*Accessory, error) {
	row := s.db.QueryRow(`SELECT id, device_id, name, context, created_at, updated_at
		FROM accessories WHERE id = ?`, id)
	acc, err := scanAccessory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("accessory %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *SQLiteStore) DeleteAccessory(id string) error {
	if _, err := s.db.Exec(`DELETE FROM accessories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete accessory %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListAccessories() ([]*Accessory, error) {
	rows, err := s.db.Query(`SELECT id, device_id, name, context, created_at, updated_at
		FROM accessories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accessories: %w", err)
	}
	defer rows.Close()

	var accessories []*Accessory
	for rows.Next() {
		acc, err := scanAccessory(rows)
		if err != nil {
			return nil, err
		}
		accessories = append(accessories, acc)
	}
	return accessories, rows.Err()
}

func (s *SQLiteStore) Apply(save []*Accessory, remove []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, acc := range save {
		if err := upsertAccessory(tx, acc); err != nil {
			tx.Rollback()
			return fmt.Errorf("save %s: %w", acc.ID, err)
		}
	}
	for _, id := range remove {
		if _, err := tx.Exec(`DELETE FROM accessories WHERE id = ?`, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
