// Package testutils provides small helpers shared by integration-style
// tests that need a live MySQL instance.
package testutils

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
)

// DSN returns the data source name to use for integration tests. It reads
// MYSQL_DSN from the environment, falling back to a local default
// suitable for CI containers running a throwaway MySQL.
func DSN() string {
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		return dsn
	}
	return "msandbox:msandbox@tcp(127.0.0.1:8030)/test"
}

// RunSQL executes stmt against DSN(), failing the test on error. It is
// meant for schema setup/teardown in test bodies, not for code under test.
func RunSQL(t *testing.T, stmt string) {
	t.Helper()
	db, err := sql.Open("mysql", DSN())
	if err != nil {
		t.Fatalf("testutils: could not open connection: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(stmt); err != nil {
		t.Fatalf("testutils: %q: %v", stmt, err)
	}
}
