package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tourbook/internal/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// sqliteParams makes every transaction take the write lock at BEGIN so the
// occupancy read and the booking insert are serialized.
const sqliteParams = "_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

type DB struct {
	*sqlx.DB
	dialect string
	path    string
	logger  *zerolog.Logger
}

// Open connects to the configured datastore and creates the schema.
func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgres(cfg.DSN, cfg.MaxOpenConns, logger)
	case config.DriverSQLite, "":
		return NewSQLite(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func NewSQLite(path string, logger *zerolog.Logger) (*DB, error) {
	memory := path == ":memory:"
	dsn := "file::memory:?" + sqliteParams
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?%s", path, sqliteParams)
	}

	sqlDB, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every pooled connection would get its own empty database
		sqlDB.SetMaxOpenConns(1)
	}

	db := &DB{DB: sqlDB, dialect: DialectSQLite, path: path, logger: logger}
	if err := db.init(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	logger.Info().Str("path", path).Msg("SQLite database initialized")
	return db, nil
}

func NewPostgres(dsn string, maxOpen int, logger *zerolog.Logger) (*DB, error) {
	sqlDB, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}

	db := &DB{DB: sqlDB, dialect: DialectPostgres, logger: logger}
	if err := db.init(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	logger.Info().Msg("Postgres database initialized")
	return db, nil
}

// NewWithConn wraps an existing connection without creating the schema.
// driverName selects the bind style ("sqlite3" or "postgres").
func NewWithConn(conn *sql.DB, driverName string, logger *zerolog.Logger) *DB {
	dialect := DialectSQLite
	if driverName == "postgres" {
		dialect = DialectPostgres
	}
	return &DB{DB: sqlx.NewDb(conn, driverName), dialect: dialect, logger: logger}
}

func (db *DB) Dialect() string { return db.dialect }

// Path is the sqlite file path, empty for postgres.
func (db *DB) Path() string { return db.path }

func (db *DB) init() error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.createTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (db *DB) createTables() error {
	id, money, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "TEXT", "DATETIME"
	if db.dialect == DialectPostgres {
		id, money, ts = "BIGSERIAL PRIMARY KEY", "NUMERIC(14,2)", "TIMESTAMPTZ"
	}
	r := strings.NewReplacer("{id}", id, "{money}", money, "{ts}", ts)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS tours (
            id {id},
            merchant_id BIGINT NOT NULL,
            title TEXT NOT NULL,
            city TEXT NOT NULL DEFAULT '',
            base_price {money} NOT NULL,
            price_basis TEXT NOT NULL DEFAULT 'per-person',
            default_capacity INTEGER CHECK (default_capacity IS NULL OR default_capacity >= 0),
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_at {ts} NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at {ts} NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS capacity_overrides (
            id {id},
            tour_id BIGINT NOT NULL REFERENCES tours(id) ON DELETE CASCADE,
            date TEXT NOT NULL,
            max_capacity INTEGER CHECK (max_capacity IS NULL OR max_capacity >= 0),
            available_spots INTEGER CHECK (available_spots IS NULL OR available_spots >= 0),
            price_override {money},
            is_available BOOLEAN NOT NULL DEFAULT TRUE,
            created_at {ts} NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at {ts} NOT NULL DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (tour_id, date)
        )`,
		`CREATE TABLE IF NOT EXISTS settlements (
            id {id},
            reference TEXT NOT NULL UNIQUE,
            merchant_id BIGINT NOT NULL,
            period_start TEXT NOT NULL,
            period_end TEXT NOT NULL,
            commission_rate TEXT NOT NULL,
            total_revenue {money} NOT NULL,
            total_platform_fee {money} NOT NULL,
            total_merchant_payout {money} NOT NULL,
            booking_count INTEGER NOT NULL,
            adjustment_count INTEGER NOT NULL DEFAULT 0,
            adjustment_payout {money} NOT NULL DEFAULT 0,
            net_payout {money} NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            created_at {ts} NOT NULL DEFAULT CURRENT_TIMESTAMP,
            paid_out_at {ts}
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id {id},
            tour_id BIGINT NOT NULL REFERENCES tours(id),
            merchant_id BIGINT NOT NULL,
            customer_ref TEXT NOT NULL DEFAULT '',
            date TEXT NOT NULL,
            guests INTEGER NOT NULL CHECK (guests > 0),
            price_basis TEXT NOT NULL,
            unit_price {money} NOT NULL,
            final_price {money} NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            payment_status TEXT NOT NULL DEFAULT 'unpaid',
            payment_ref TEXT,
            settlement_status TEXT NOT NULL DEFAULT 'unsettled',
            settlement_id BIGINT REFERENCES settlements(id),
            version BIGINT NOT NULL DEFAULT 1,
            created_at {ts} NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at {ts} NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS settlement_lines (
            id {id},
            settlement_id BIGINT NOT NULL REFERENCES settlements(id),
            booking_id BIGINT NOT NULL REFERENCES bookings(id),
            booking_date TEXT NOT NULL,
            revenue {money} NOT NULL,
            platform_fee {money} NOT NULL,
            merchant_payout {money} NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS settlement_adjustments (
            id {id},
            booking_id BIGINT NOT NULL REFERENCES bookings(id),
            merchant_id BIGINT NOT NULL,
            source_settlement_id BIGINT NOT NULL REFERENCES settlements(id),
            settlement_id BIGINT REFERENCES settlements(id),
            revenue {money} NOT NULL,
            platform_fee {money} NOT NULL,
            merchant_payout {money} NOT NULL,
            reason TEXT NOT NULL DEFAULT '',
            created_at {ts} NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS outbox (
            id {id},
            event_type TEXT NOT NULL,
            target TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at {ts} NOT NULL DEFAULT CURRENT_TIMESTAMP,
            processed_at {ts},
            next_retry_at {ts}
        )`,

		`CREATE INDEX IF NOT EXISTS idx_tours_merchant ON tours(merchant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_tour_date ON bookings(tour_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_merchant_settlement ON bookings(merchant_id, settlement_status)`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_merchant_status ON settlements(merchant_id, status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_settlement_lines_booking ON settlement_lines(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_lines_settlement ON settlement_lines(settlement_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_settlement_adjustments_booking ON settlement_adjustments(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_adjustments_pending ON settlement_adjustments(merchant_id, settlement_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(r.Replace(query)); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// inTx runs fn in one transaction. Postgres runs it SERIALIZABLE; sqlite
// already holds the write lock from BEGIN IMMEDIATE. Errors are classified.
func (db *DB) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	opts := &sql.TxOptions{}
	if db.dialect == DialectPostgres {
		opts.Isolation = sql.LevelSerializable
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return classify(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// forUpdate locks selected rows on postgres. sqlite has no row locks.
func (db *DB) forUpdate() string {
	if db.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
