package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"deepguard/internal/config"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverSQLite = "sqlite3"
	driverMySQL  = "mysql"
)

// Open connects to the database configured for dbType ("sqlite3" or "mysql") and pings it.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	driver, err := normalizeDriver(dbType)
	if err != nil {
		return nil, err
	}
	dbCfg, ok := cfg.Databases[driver]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}
	dsn, err := buildDSN(driver, dbCfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	switch driver {
	case driverSQLite:
		// sqlite serializes writers anyway; one connection also keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	case driverMySQL:
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func normalizeDriver(dbType string) (string, error) {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		return driverSQLite, nil
	case "mysql":
		return driverMySQL, nil
	}
	return "", fmt.Errorf("unsupported driver: %s", dbType)
}

// buildDSN returns the driver DSN. MySQL DSNs always get parseTime so
// DATETIME columns scan into time.Time.
func buildDSN(driver string, dbCfg config.DatabaseConfig) (string, error) {
	if driver == driverSQLite {
		if dbCfg.DSN == "" {
			return "", fmt.Errorf("sqlite dsn must be provided")
		}
		return dbCfg.DSN, nil
	}

	dsn := dbCfg.DSN
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", dbCfg.Username, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.DBName)
		if dbCfg.Params != "" {
			dsn += "?" + dbCfg.Params
		}
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	name, err := normalizeDriver(driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	var stmts []string
	switch name {
	case driverSQLite:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS scan_records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				media_type TEXT NOT NULL,
				source TEXT NOT NULL,
				file_name TEXT NOT NULL,
				probability REAL NOT NULL,
				breakdown TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scan_records_created_at ON scan_records(created_at DESC)`,
		}
	case driverMySQL:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS scan_records (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				media_type VARCHAR(16) NOT NULL,
				source VARCHAR(16) NOT NULL,
				file_name VARCHAR(2048) NOT NULL,
				probability DOUBLE NOT NULL,
				breakdown TEXT NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_scan_records_created_at (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
