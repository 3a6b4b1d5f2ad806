package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/siddontang/loggers"
)

// FingerprintLock is the advisory lock taken on (relation, fingerprint)
// before allocating a seq and constructing a base chain for a group. It
// wraps MySQL's GET_LOCK/RELEASE_LOCK, which are session-scoped: the lock
// is only actually held for as long as the dedicated *sql.Conn it was
// acquired on stays open, so Acquire and Release must be paired on the
// same FingerprintLock value.
type FingerprintLock struct {
	conn *sql.Conn
	name string
}

// AcquireFingerprintLock blocks for up to timeout trying to acquire the
// named advisory lock on a dedicated connection checked out from db.
// timeout == 0 means don't wait: fail immediately if already held.
func AcquireFingerprintLock(ctx context.Context, db *sql.DB, logger loggers.Advanced, name string, timeout time.Duration) (*FingerprintLock, error) {
	if len(name) == 0 {
		return nil, errors.New("fingerprint lock name is empty")
	}
	if len(name) > 64 {
		return nil, fmt.Errorf("fingerprint lock name is too long: %d, max length is 64", len(name))
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	var answer sql.NullInt64
	// https://dev.mysql.com/doc/refman/8.0/en/locking-functions.html#function_get-lock
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, timeout.Seconds()).Scan(&answer); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not acquire fingerprint lock %s: %w", name, err)
	}
	if !answer.Valid || answer.Int64 != 1 {
		_ = conn.Close()
		return nil, fmt.Errorf("could not acquire fingerprint lock %s: held by another connection", name)
	}
	logger.Infof("acquired fingerprint lock: %s", name)
	return &FingerprintLock{conn: conn, name: name}, nil
}

// Release frees the lock and returns the dedicated connection to the
// pool. Safe to call at most once.
func (l *FingerprintLock) Release(ctx context.Context) error {
	defer l.conn.Close()
	var answer sql.NullInt64
	if err := l.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", l.name).Scan(&answer); err != nil {
		return fmt.Errorf("could not release fingerprint lock %s: %w", l.name, err)
	}
	return nil
}
