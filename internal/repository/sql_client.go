package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects the SQL flavour spoken by SQLClient.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// driverName maps a dialect to its registered database/sql driver.
func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectSQLite:
		return "sqlite3", nil
	case DialectPostgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("repository: unsupported SQL dialect %q", d)
	}
}

// bind rewrites ? placeholders to $n for postgres.
func (d Dialect) bind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() string {
	if d == DialectPostgres {
		return `
			CREATE TABLE IF NOT EXISTS messages (
				id BIGSERIAL PRIMARY KEY,
				record_id TEXT NOT NULL,
				sender_id TEXT NOT NULL,
				message TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_messages_sender_created ON messages(sender_id, created_at DESC);`
	}
	return `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_messages_sender_created ON messages(sender_id, created_at DESC);`
}

// SQLClient stores inbound messages in a relational messages table.
type SQLClient struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQL opens a database for the dialect and verifies connectivity.
// For sqlite the DSN is a file path; its parent directory is created.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLClient, error) {
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: database DSN must not be empty")
	}
	if dialect == DialectSQLite {
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("repository: create database directory %q: %w", dir, err)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// Serialize writers; sqlite allows only one at a time.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping %s database: %w", dialect, err)
	}

	return NewSQL(db, dialect)
}

// NewSQL wraps an already opened database.
func NewSQL(db *sql.DB, dialect Dialect) (*SQLClient, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	if _, err := dialect.driverName(); err != nil {
		return nil, err
	}
	return &SQLClient{db: db, dialect: dialect, now: time.Now}, nil
}

// Migrate creates the messages table and its index if they do not exist.
func (c *SQLClient) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(c.dialect.schema(), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repository: Migrate: %w", err)
		}
	}
	return nil
}

// Append inserts one message row for the sender.
func (c *SQLClient) Append(ctx context.Context, senderID, text string) error {
	if senderID == "" {
		return errors.New("repository: Append: sender id is required")
	}
	msg := NewMessage(senderID, text, c.now())

	_, err := c.db.ExecContext(ctx,
		c.dialect.bind(`INSERT INTO messages (record_id, sender_id, message, created_at) VALUES (?, ?, ?, ?)`),
		msg.ID, msg.SenderID, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// Recent returns up to limit message texts for the sender, newest first.
// Rows sharing a timestamp fall back to insertion order.
func (c *SQLClient) Recent(ctx context.Context, senderID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx,
		c.dialect.bind(`SELECT message FROM messages WHERE sender_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`),
		senderID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: Recent query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	texts := make([]string, 0, limit)
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("repository: Recent scan: %w", err)
		}
		texts = append(texts, text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: Recent rows: %w", err)
	}
	return texts, nil
}

// Close releases the underlying database handle.
func (c *SQLClient) Close() error {
	return c.db.Close()
}
