package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"oneiro/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// OpenSQL opens the database selected in config for the given driver and
// verifies connectivity. The handle is shared between the client_state table
// and the embedded backend's tables.
func OpenSQL(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("no database section for driver %s", dbType)
	}

	var db *sql.DB
	var err error
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		db, err = openSQLite(dbCfg)
	case "mysql":
		db, err = openMySQL(dbCfg)
	default:
		return nil, fmt.Errorf("unknown sql driver: %s", dbType)
	}
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dbType, err)
	}
	return db, nil
}

func openSQLite(dbCfg config.DatabaseConfig) (*sql.DB, error) {
	if dbCfg.DSN == "" {
		return nil, fmt.Errorf("sqlite requires a dsn")
	}
	db, err := sql.Open("sqlite3", dbCfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbCfg.DSN, err)
	}
	// The dreams table references users; sqlite leaves enforcement off
	// unless asked.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite foreign_keys pragma: %w", err)
	}
	return db, nil
}

func openMySQL(dbCfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		dbCfg.Username, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.DBName, dbCfg.Params)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql %s/%s: %w", dbCfg.Host, dbCfg.DBName, err)
	}
	return db, nil
}

// SQL persists keys in a client_state table. It shares the database handle
// with the embedded backend's own tables.
type SQL struct {
	db     *sql.DB
	driver string
}

// NewSQL ensures the client_state table exists and returns the store.
func NewSQL(db *sql.DB, driver string) (*SQL, error) {
	var stmt string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmt = `CREATE TABLE IF NOT EXISTS client_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`
	case "mysql":
		stmt = "CREATE TABLE IF NOT EXISTS client_state (" +
			"`key` VARCHAR(255) NOT NULL PRIMARY KEY," +
			"value TEXT NOT NULL" +
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	default:
		return nil, fmt.Errorf("unsupported driver for client state: %s", driver)
	}
	if _, err := db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("migrate client_state (%s): %w", driver, err)
	}
	return &SQL{db: db, driver: strings.ToLower(driver)}, nil
}

func (s *SQL) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT value FROM client_state WHERE key = ?`), key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQL) Set(ctx context.Context, key, value string) error {
	var stmt string
	if s.driver == "mysql" {
		stmt = "INSERT INTO client_state (`key`, value) VALUES (?, ?) " +
			"ON DUPLICATE KEY UPDATE value = VALUES(value)"
	} else {
		stmt = `INSERT INTO client_state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	}
	if _, err := s.db.ExecContext(ctx, stmt, key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx,
			s.rebind(`DELETE FROM client_state WHERE key = ?`), key,
		); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// rebind quotes the key column for mysql, which reserves the word.
func (s *SQL) rebind(query string) string {
	if s.driver == "mysql" {
		return strings.ReplaceAll(query, " key ", " `key` ")
	}
	return query
}
