// Package check runs startup preconditions against the target MySQL
// server before a backend begins serving a relation: a minimum server
// version (8.0, needed for RENAME TABLE inside LOCK TABLES, used by
// tableaccess.Truncate's set-new-file swap) and binlog ROW format (so
// that any downstream replica or backup consumer sees exactly the
// delta-encoded bytes this module wrote, rather than a statement
// re-executed against a possibly different row).
package check

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Resources are the connection details a check runs against.
type Resources struct {
	Host     string
	Username string
	Password string
}

// Run executes every check and returns the first failure, logging each
// one as it runs.
func Run(ctx context.Context, db *sql.DB, r Resources, logger *logrus.Logger) error {
	if err := versionCheck(ctx, r, logger); err != nil {
		return err
	}
	if err := binlogFormatCheck(ctx, db, logger); err != nil {
		return err
	}
	return nil
}

func versionCheck(ctx context.Context, r Resources, logger *logrus.Logger) error {
	db, err := sql.Open("mysql", dsn(r))
	if err != nil {
		return fmt.Errorf("check: opening connection for version check: %w", err)
	}
	defer db.Close()

	if !isMySQL8(db) {
		return fmt.Errorf("check: MySQL 8.0 or later is required")
	}
	logger.Info("version check passed")
	return nil
}

func isMySQL8(db *sql.DB) bool {
	var version string
	if err := db.QueryRow("SELECT VERSION()").Scan(&version); err != nil {
		return false
	}
	major, _, ok := parseMajorMinor(version)
	return ok && major >= 8
}

func binlogFormatCheck(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	var variable, value string
	err := db.QueryRowContext(ctx, "SHOW VARIABLES LIKE 'binlog_format'").Scan(&variable, &value)
	if err != nil {
		return fmt.Errorf("check: reading binlog_format: %w", err)
	}
	if !strings.EqualFold(value, "ROW") {
		return fmt.Errorf("check: binlog_format must be ROW, got %s", value)
	}
	logger.Info("binlog format check passed")
	return nil
}

func parseMajorMinor(version string) (major, minor int, ok bool) {
	// VERSION() returns something like "8.0.34-log"; only the numeric
	// prefix matters here.
	fields := strings.SplitN(version, "-", 2)
	parts := strings.Split(fields[0], ".")
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

func dsn(r Resources) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/", r.Username, r.Password, r.Host)
}
