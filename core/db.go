package core

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

type SQLiteDBOption struct {
	// mode can be ro | rw | rwc | memory
	Mode string
	// cache can be shared | private
	Cache string
	// JournalMode be DELETE | TRUNCATE | PERSIST | MEMORY | WAL | OFF
	JournalMode string
	// BusyTimeout in milliseconds.
	BusyTimeout int
}

func (config *SQLiteDBOption) DSN(sb *strings.Builder) {
	if config == nil {
		return
	}
	var params []string
	if config.Mode != "" {
		params = append(params, "mode="+config.Mode)
	}
	if config.Cache != "" {
		params = append(params, "cache="+config.Cache)
	}
	if config.JournalMode != "" {
		params = append(params, "_journal_mode="+config.JournalMode)
	}
	if config.BusyTimeout > 0 {
		params = append(params, "_busy_timeout="+strconv.Itoa(config.BusyTimeout))
	}
	if len(params) == 0 {
		return
	}
	if strings.Contains(sb.String(), "?") {
		sb.WriteString("&")
	} else {
		sb.WriteString("?")
	}
	sb.WriteString(strings.Join(params, "&"))
}

// DB is a database handle that knows which SQL dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// OpenDB opens a Postgres database when url has a postgres scheme and a
// SQLite file otherwise.
func OpenDB(ctx context.Context, url string, sqliteOpts *SQLiteDBOption) (*DB, error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return openPostgres(ctx, url)
	}
	return openSQLite(ctx, url, sqliteOpts)
}

func openSQLite(ctx context.Context, file string, opts *SQLiteDBOption) (*DB, error) {
	var dsn strings.Builder
	if !strings.HasPrefix(file, "file:") {
		dsn.WriteString("file:")
	}
	dsn.WriteString(file)
	opts.DSN(&dsn)

	d, err := sql.Open(string(DialectSQLite), dsn.String())
	if err != nil {
		return nil, fmt.Errorf("sql.Open(sqlite3): %w", err)
	}
	if err := d.PingContext(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("PingContext: %w", err)
	}
	// sqlite serialises writers anyway; a single connection avoids
	// SQLITE_BUSY between the broker and the catch-up API.
	d.SetMaxOpenConns(1)
	return &DB{DB: d, Dialect: DialectSQLite}, nil
}

func openPostgres(ctx context.Context, url string) (*DB, error) {
	d, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("sql.Open(pgx): %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.PingContext(pingCtx); err != nil {
		d.Close()
		return nil, fmt.Errorf("PingContext: %w", err)
	}
	d.SetMaxOpenConns(25)
	d.SetMaxIdleConns(25)
	d.SetConnMaxLifetime(5 * time.Minute)
	return &DB{DB: d, Dialect: DialectPostgres}, nil
}

// Migrate applies every pending migration in migrations.
func (db *DB) Migrate(migrations fs.FS) error {
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(string(db.Dialect)); err != nil {
		return fmt.Errorf("SetDialect: %w", err)
	}
	if err := goose.Up(db.DB, "."); err != nil {
		return fmt.Errorf("goose.Up: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders into the dialect's positional form.
func (db *DB) rebind(query string) string {
	if db.Dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
