package repository

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/claimscan/internal/domain"
)

const (
	defaultSQLitePath   = "./claimscan.db"
	defaultPostgresDB   = "claimscan"
	defaultPostgresPort = 5432

	// Worker and API writers share one file; wait instead of failing with
	// SQLITE_BUSY.
	sqliteBusyTimeoutMs = 5000
)

// open connects to the configured driver and verifies the connection.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	driver, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		if dir := filepath.Dir(sqlitePath(cfg)); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	return db, nil
}

// dataSource returns the database/sql driver name and DSN for cfg.
func dataSource(cfg domain.RepositoryConfig) (string, string, error) {
	switch cfg.Driver {
	case "sqlite", "":
		q := url.Values{}
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", sqliteBusyTimeoutMs))
		q.Add("_pragma", "foreign_keys(ON)")
		return "sqlite", "file:" + sqlitePath(cfg) + "?" + q.Encode(), nil

	case "postgres":
		host := cfg.PostgresHost
		if host == "" {
			host = "localhost"
		}
		port := cfg.PostgresPort
		if port == 0 {
			port = defaultPostgresPort
		}
		dbname := cfg.PostgresDB
		if dbname == "" {
			dbname = defaultPostgresDB
		}
		sslmode := cfg.PostgresSSLMode
		if sslmode == "" {
			sslmode = "disable"
		}

		u := url.URL{
			Scheme:   "postgres",
			Host:     host + ":" + strconv.Itoa(port),
			Path:     "/" + dbname,
			RawQuery: url.Values{"sslmode": {sslmode}, "application_name": {"claimscan"}}.Encode(),
		}
		if cfg.PostgresUser != "" {
			u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
		}
		return "postgres", u.String(), nil

	default:
		return "", "", fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}

func sqlitePath(cfg domain.RepositoryConfig) string {
	if cfg.SQLitePath == "" {
		return defaultSQLitePath
	}
	return cfg.SQLitePath
}
