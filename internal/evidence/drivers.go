package evidence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

// Prober checks that the evidence store answers a trivial query.
type Prober interface {
	Probe(ctx context.Context) error
	Close() error
}

// Driver builds a prober for a connection string. Building must not dial.
type Driver func(url string) (Prober, error)

var drivers = map[string]Driver{
	"postgres":   newPostgresProber,
	"postgresql": newPostgresProber,
	"sqlite":     newSQLiteProber,
	"file":       newSQLiteProber,
}

func schemeOf(url string) string {
	if scheme, _, ok := strings.Cut(url, "://"); ok {
		return strings.ToLower(scheme)
	}
	if scheme, _, ok := strings.Cut(url, ":"); ok {
		return strings.ToLower(scheme)
	}
	return ""
}

func lookupDriver(url string) (Driver, bool) {
	scheme := schemeOf(url)
	if scheme == "" && strings.Contains(url, "=") {
		// libpq keyword/value form, e.g. "host=db dbname=prices".
		scheme = "postgres"
	}
	d, ok := drivers[scheme]
	return d, ok
}

type postgresProber struct {
	pool *pgxpool.Pool
}

func newPostgresProber(url string) (Prober, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &postgresProber{pool: pool}, nil
}

func (p *postgresProber) Probe(ctx context.Context) error {
	var one int
	if err := p.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return err
	}
	return nil
}

func (p *postgresProber) Close() error {
	p.pool.Close()
	return nil
}

type sqliteProber struct {
	db *sql.DB
}

// newSQLiteProber accepts sqlite:///path/to.db or a file: URI. Without an
// explicit mode= the database is opened read-only so a probe never creates
// an empty database.
func newSQLiteProber(url string) (Prober, error) {
	db, err := sql.Open("sqlite", sqliteDSN(url))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &sqliteProber{db: db}, nil
}

func sqliteDSN(url string) string {
	dsn := url
	if rest, ok := strings.CutPrefix(url, "sqlite://"); ok {
		dsn = "file:" + rest
	}
	_, query, hasQuery := strings.Cut(dsn, "?")
	switch {
	case !hasQuery:
		return dsn + "?mode=ro"
	case strings.Contains("&"+query, "&mode="):
		return dsn
	default:
		return dsn + "&mode=ro"
	}
}

func (p *sqliteProber) Probe(ctx context.Context) error {
	var one int
	return p.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func (p *sqliteProber) Close() error {
	return p.db.Close()
}
