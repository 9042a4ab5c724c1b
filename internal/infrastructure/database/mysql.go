package database

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName is the name the TLS config is registered under with the driver
const tlsConfigName = "ems"

// Options describes how to reach the MySQL server
type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	TLS      bool
}

// Connection wraps the shared *sql.DB.
// sql.DB is already safe for concurrent use and pools its own connections,
// so no extra locking is layered on top.
type Connection struct {
	db *sql.DB
}

var tlsOnce sync.Once

// DSN builds the driver DSN for opts
func DSN(opts Options) (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = opts.User
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	cfg.DBName = opts.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = true
	// RowsAffected reports matched rows, so an UPDATE that changes nothing is not a miss
	cfg.ClientFoundRows = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	if opts.TLS {
		var regErr error
		tlsOnce.Do(func() {
			regErr = mysql.RegisterTLSConfig(tlsConfigName, &tls.Config{
				MinVersion: tls.VersionTLS12,
				ServerName: opts.Host,
			})
		})
		if regErr != nil {
			return "", fmt.Errorf("failed to register TLS config: %w", regErr)
		}
		cfg.TLSConfig = tlsConfigName
	}
	return cfg.FormatDSN(), nil
}

// Open connects to MySQL, configures the pool and pings the server
func Open(ctx context.Context, opts Options) (*Connection, error) {
	dsn, err := DSN(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// MaxIdleConns matches MaxOpenConns so connections are not churned under load
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(100)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(3 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Connection{db: db}, nil
}

// NewConnection wraps an already opened pool. Tests pass a sqlmock DB here.
func NewConnection(db *sql.DB) *Connection {
	return &Connection{db: db}
}

// DB returns the underlying pool
func (c *Connection) DB() *sql.DB {
	return c.db
}

// Ping checks the server is reachable
func (c *Connection) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the pool
func (c *Connection) Close() error {
	return c.db.Close()
}
