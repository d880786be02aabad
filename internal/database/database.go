package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var (
	ErrDuplicate      = errors.New("record already exists")
	ErrRaffleResolved = errors.New("raffle already has a random number")
	ErrRaffleMissing  = errors.New("raffle not stored")
)

type Store struct {
	db     *sql.DB
	dbType string // "postgres" or "sqlite"
}

func New(ctx context.Context, dsn string) (*Store, error) {
	var db *sql.DB
	var err error
	var dbType string

	if dsn == "" || strings.HasPrefix(dsn, "sqlite:") {
		dbType = "sqlite"
		sqlitePath := "raffle.db"
		if strings.HasPrefix(dsn, "sqlite:") {
			sqlitePath = strings.TrimPrefix(dsn, "sqlite:")
		}
		db, err = sql.Open("sqlite", sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		// ":memory:" databases exist per connection.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return nil, err
		}
	} else {
		dbType = "postgres"
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres open: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}

	store := &Store{db: db, dbType: dbType}
	if err := store.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Store) migrate(ctx context.Context) error {
	var schema string
	if s.dbType == "sqlite" {
		schema = sqliteSchema
	} else {
		schema = postgresSchema
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// rebind rewrites "?" placeholders into the form the database expects.
func (s *Store) rebind(query string) string {
	if s.dbType == "sqlite" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "duplicate")
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS settings (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    owner TEXT NOT NULL,
    fee_balance INTEGER NOT NULL DEFAULT 0,
    height INTEGER NOT NULL DEFAULT 0,
    entropy TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS raffles (
    id INTEGER PRIMARY KEY,
    end_time INTEGER NOT NULL,
    random_number TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS raffle_items (
    raffle_id INTEGER NOT NULL REFERENCES raffles(id),
    idx INTEGER NOT NULL,
    kind TEXT NOT NULL,
    token_id INTEGER NOT NULL,
    stake_total INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (raffle_id, idx),
    UNIQUE (raffle_id, kind, token_id)
);

CREATE TABLE IF NOT EXISTS raffle_prizes (
    raffle_id INTEGER NOT NULL,
    item_idx INTEGER NOT NULL,
    idx INTEGER NOT NULL,
    kind TEXT NOT NULL,
    token_id INTEGER NOT NULL,
    value INTEGER NOT NULL,
    PRIMARY KEY (raffle_id, item_idx, idx),
    FOREIGN KEY (raffle_id, item_idx) REFERENCES raffle_items(raffle_id, idx)
);

CREATE TABLE IF NOT EXISTS stakes (
    raffle_id INTEGER NOT NULL REFERENCES raffles(id),
    seq INTEGER NOT NULL,
    account TEXT NOT NULL,
    item_idx INTEGER NOT NULL,
    range_start INTEGER NOT NULL,
    range_end INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (raffle_id, seq)
);

CREATE TABLE IF NOT EXISTS claims (
    raffle_id INTEGER NOT NULL REFERENCES raffles(id),
    account TEXT NOT NULL,
    PRIMARY KEY (raffle_id, account)
);

CREATE TABLE IF NOT EXISTS randomness_requests (
    request_id TEXT PRIMARY KEY,
    raffle_id INTEGER NOT NULL REFERENCES raffles(id),
    key_hash TEXT NOT NULL,
    seed TEXT NOT NULL,
    nonce INTEGER NOT NULL,
    fee INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nonces (
    key_hash TEXT PRIMARY KEY,
    nonce INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stakes_account ON stakes(raffle_id, account);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS settings (
    id SMALLINT PRIMARY KEY CHECK (id = 1),
    owner TEXT NOT NULL,
    fee_balance BIGINT NOT NULL DEFAULT 0,
    height BIGINT NOT NULL DEFAULT 0,
    entropy TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS raffles (
    id BIGINT PRIMARY KEY,
    end_time BIGINT NOT NULL,
    random_number TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS raffle_items (
    raffle_id BIGINT NOT NULL REFERENCES raffles(id),
    idx INTEGER NOT NULL,
    kind TEXT NOT NULL,
    token_id BIGINT NOT NULL,
    stake_total BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (raffle_id, idx),
    UNIQUE (raffle_id, kind, token_id)
);

CREATE TABLE IF NOT EXISTS raffle_prizes (
    raffle_id BIGINT NOT NULL,
    item_idx INTEGER NOT NULL,
    idx INTEGER NOT NULL,
    kind TEXT NOT NULL,
    token_id BIGINT NOT NULL,
    value BIGINT NOT NULL,
    PRIMARY KEY (raffle_id, item_idx, idx),
    FOREIGN KEY (raffle_id, item_idx) REFERENCES raffle_items(raffle_id, idx)
);

CREATE TABLE IF NOT EXISTS stakes (
    raffle_id BIGINT NOT NULL REFERENCES raffles(id),
    seq INTEGER NOT NULL,
    account TEXT NOT NULL,
    item_idx INTEGER NOT NULL,
    range_start BIGINT NOT NULL,
    range_end BIGINT NOT NULL,
    created_at BIGINT NOT NULL,
    PRIMARY KEY (raffle_id, seq)
);

CREATE TABLE IF NOT EXISTS claims (
    raffle_id BIGINT NOT NULL REFERENCES raffles(id),
    account TEXT NOT NULL,
    PRIMARY KEY (raffle_id, account)
);

CREATE TABLE IF NOT EXISTS randomness_requests (
    request_id TEXT PRIMARY KEY,
    raffle_id BIGINT NOT NULL REFERENCES raffles(id),
    key_hash TEXT NOT NULL,
    seed TEXT NOT NULL,
    nonce BIGINT NOT NULL,
    fee BIGINT NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS nonces (
    key_hash TEXT PRIMARY KEY,
    nonce BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stakes_account ON stakes(raffle_id, account);
`

// Unsigned values are stored bit for bit in signed 64-bit columns.
func i64(v uint64) int64 { return int64(v) }

func u64(v int64) uint64 { return uint64(v) }
