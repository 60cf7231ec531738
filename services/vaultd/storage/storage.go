package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	_ "github.com/glebarez/sqlite"

	"stablevault/native/vault"
)

// Storage is the sqlite-backed persistence layer for the vault ledger. It
// implements the ledger's key-value contract: point values plus append-only
// logs keyed by name, with grouped writes applied in a single transaction.
type Storage struct {
	db *sql.DB
}

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("vaultd storage path must be configured")

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key   TEXT PRIMARY KEY,
    value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS kv_log (
    id    INTEGER PRIMARY KEY AUTOINCREMENT,
    key   TEXT NOT NULL,
    value BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS kv_log_key ON kv_log(key, id);
`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// FileDSN converts a filesystem path into a sqlite DSN with sane defaults.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return "file:" + url.PathEscape(abs) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
}

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// KVPut stores an rlp-encoded value under key, replacing any prior value.
func (s *Storage) KVPut(key []byte, value interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not initialised")
	}
	return kvPut(s.db, key, value)
}

// KVGet loads the value stored under key into out, reporting presence.
func (s *Storage) KVGet(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("storage not initialised")
	}
	return kvGet(s.db, key, out)
}

// KVAppend appends a raw entry to the log stored under key.
func (s *Storage) KVAppend(key []byte, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not initialised")
	}
	return kvAppend(s.db, key, value)
}

// KVGetList loads every log entry stored under key, in append order.
func (s *Storage) KVGetList(key []byte, out interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not initialised")
	}
	return kvGetList(s.db, key, out)
}

// Transact runs fn inside a single sqlite transaction. Any error rolls every
// write back.
func (s *Storage) Transact(fn func(vault.Storage) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not initialised")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&txStorage{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// txStorage exposes the key-value contract over an open transaction.
type txStorage struct {
	tx *sql.Tx
}

func (t *txStorage) KVPut(key []byte, value interface{}) error {
	return kvPut(t.tx, key, value)
}

func (t *txStorage) KVGet(key []byte, out interface{}) (bool, error) {
	return kvGet(t.tx, key, out)
}

func (t *txStorage) KVAppend(key []byte, value []byte) error {
	return kvAppend(t.tx, key, value)
}

func (t *txStorage) KVGetList(key []byte, out interface{}) error {
	return kvGetList(t.tx, key, out)
}

// Transact on an open transaction joins it; sqlite has no nested transactions.
func (t *txStorage) Transact(fn func(vault.Storage) error) error {
	return fn(t)
}

func kvPut(q querier, key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	_, err = q.Exec(`INSERT INTO kv(key, value) VALUES(?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value`, string(key), encoded)
	return err
}

func kvGet(q querier, key []byte, out interface{}) (bool, error) {
	var encoded []byte
	err := q.QueryRow(`SELECT value FROM kv WHERE key = ?`, string(key)).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, fmt.Errorf("decode value: %w", err)
	}
	return true, nil
}

func kvAppend(q querier, key []byte, value []byte) error {
	_, err := q.Exec(`INSERT INTO kv_log(key, value) VALUES(?, ?)`, string(key), value)
	return err
}

func kvGetList(q querier, key []byte, out interface{}) error {
	rows, err := q.Query(`SELECT value FROM kv_log WHERE key = ? ORDER BY id`, string(key))
	if err != nil {
		return err
	}
	defer rows.Close()
	var entries [][]byte
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return err
		}
		entries = append(entries, append([]byte(nil), value...))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(entries)
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(encoded, out)
}
