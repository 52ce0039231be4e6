package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// sqliteStore is the default ordered-store backend: a single table in a
// SQLite database opened in WAL mode. The driver choice (modernc.org/sqlite,
// a driverless CGo-free build) follows
// other_examples/aladin2907-overhuman__storage.go's own package doc
// comment, which names it as the pure-Go SQLite implementation behind its
// Store interface; the pragma sequencing and upsert statements below are
// plain database/sql usage against the schema this store needs, not
// adapted from that file (see DESIGN.md).
type sqliteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key_hash     TEXT PRIMARY KEY,
	value        BLOB NOT NULL,
	versionstamp TEXT NOT NULL,
	expires_at   INTEGER
);
CREATE INDEX IF NOT EXISTS kv_store_expires_at_idx ON kv_store (expires_at) WHERE expires_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS kv_store_versionstamp_idx ON kv_store (versionstamp);
`

func openSQLiteStore(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapErr(ConstructorMisuse, err, "opening sqlite database %q", path)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY churn

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, wrapErr(ConstructorMisuse, err, "applying %s", pragma)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, wrapErr(ConstructorMisuse, err, "creating kv_store schema")
	}
	return &sqliteStore{db: db}, nil
}

var _ orderedStore = (*sqliteStore)(nil)

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, keyHash string, now int64) (*storedEntry, error) {
	return sqliteGet(ctx, s.db, keyHash, now)
}

func sqliteGet(ctx context.Context, q queryable, keyHash string, now int64) (*storedEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT value, versionstamp, expires_at FROM kv_store WHERE key_hash = ? AND (expires_at IS NULL OR expires_at > ?)`, keyHash, now)
	e := storedEntry{KeyHash: keyHash}
	var expiresAt sql.NullInt64
	if err := row.Scan(&e.Value, &e.Versionstamp, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr(SerializationFailure, err, "reading key %s", keyHash)
	}
	if expiresAt.Valid {
		e.ExpiresAt = &expiresAt.Int64
	}
	return &e, nil
}

func (s *sqliteStore) Put(ctx context.Context, keyHash string, value []byte, versionstamp string, expiresAt *int64) error {
	return sqlitePut(ctx, s.db, keyHash, value, versionstamp, expiresAt)
}

func sqlitePut(ctx context.Context, e execer, keyHash string, value []byte, versionstamp string, expiresAt *int64) error {
	_, err := e.ExecContext(ctx, `INSERT INTO kv_store (key_hash, value, versionstamp, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key_hash) DO UPDATE SET value = excluded.value, versionstamp = excluded.versionstamp, expires_at = excluded.expires_at`,
		keyHash, value, versionstamp, expiresAt)
	if err != nil {
		return wrapErr(SerializationFailure, err, "writing key %s", keyHash)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, keyHash string) error {
	return sqliteDelete(ctx, s.db, keyHash)
}

func sqliteDelete(ctx context.Context, e execer, keyHash string) error {
	if _, err := e.ExecContext(ctx, `DELETE FROM kv_store WHERE key_hash = ?`, keyHash); err != nil {
		return wrapErr(SerializationFailure, err, "deleting key %s", keyHash)
	}
	return nil
}

func (s *sqliteStore) Range(ctx context.Context, startHash, endHash, prefixHash string, now int64, limit int, reverse bool) ([]storedEntry, error) {
	order := "ASC"
	if reverse {
		order = "DESC"
	}
	query := fmt.Sprintf(`SELECT key_hash, value, versionstamp, expires_at FROM kv_store
		WHERE key_hash >= ? AND key_hash < ? AND key_hash != ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key_hash %s LIMIT ?`, order)
	rows, err := s.db.QueryContext(ctx, query, startHash, endHash, prefixHash, now, limit)
	if err != nil {
		return nil, wrapErr(SerializationFailure, err, "ranging [%s, %s)", startHash, endHash)
	}
	defer rows.Close()

	var out []storedEntry
	for rows.Next() {
		var e storedEntry
		var expiresAt sql.NullInt64
		if err := rows.Scan(&e.KeyHash, &e.Value, &e.Versionstamp, &expiresAt); err != nil {
			return nil, wrapErr(SerializationFailure, err, "scanning range row")
		}
		if expiresAt.Valid {
			e.ExpiresAt = &expiresAt.Int64
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(SerializationFailure, err, "iterating range")
	}
	return out, nil
}

func (s *sqliteStore) DeleteExpired(ctx context.Context, now int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at <= ?`, now); err != nil {
		return wrapErr(SerializationFailure, err, "deleting expired entries")
	}
	return nil
}

func (s *sqliteStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx storeTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(SerializationFailure, err, "beginning transaction")
	}
	committed := false
	defer func() {
		if !committed {
			sqlTx.Rollback()
		}
	}()
	if err := fn(ctx, &sqliteTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return wrapErr(SerializationFailure, err, "committing transaction")
	}
	committed = true
	return nil
}

// queryable and execer let sqliteGet/sqlitePut/sqliteDelete run against
// either *sql.DB or *sql.Tx without duplicating their bodies.
type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type sqliteTx struct {
	tx *sql.Tx
}

var _ storeTx = (*sqliteTx)(nil)

func (t *sqliteTx) Get(ctx context.Context, keyHash string, now int64) (*storedEntry, error) {
	return sqliteGet(ctx, t.tx, keyHash, now)
}

func (t *sqliteTx) Put(ctx context.Context, keyHash string, value []byte, versionstamp string, expiresAt *int64) error {
	return sqlitePut(ctx, t.tx, keyHash, value, versionstamp, expiresAt)
}

func (t *sqliteTx) Delete(ctx context.Context, keyHash string) error {
	return sqliteDelete(ctx, t.tx, keyHash)
}
