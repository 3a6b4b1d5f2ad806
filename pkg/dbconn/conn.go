package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	maxConnLifetime = time.Minute * 3
	maxIdleConns    = 10
)

// New opens a connection pool to MySQL using inputDSN, sets the pool's
// connection lifetime and idle limit, and pings to verify the connection
// is live. config is not applied to the pool's sessions here; the
// transaction helpers in this package (RetryableTransaction, DBExec,
// BeginStandardTrx) standardize each transaction they open with it.
func New(inputDSN string, config *DBConfig) (*sql.DB, error) {
	return NewWithConnectionType(inputDSN, config, "main database")
}

// NewWithConnectionType is like New but includes context about the
// connection's purpose for clearer error messages.
func NewWithConnectionType(inputDSN string, config *DBConfig, connectionType string) (*sql.DB, error) {
	db, err := sql.Open("mysql", inputDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", connectionType, err)
	}
	db.SetConnMaxLifetime(maxConnLifetime)
	db.SetMaxIdleConns(maxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[%s] ping failed: %w", connectionType, err)
	}
	return db, nil
}
