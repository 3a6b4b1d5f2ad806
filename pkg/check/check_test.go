package check

import (
	"os"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/block/deltatbl/pkg/dbconn"
	"github.com/block/deltatbl/pkg/testutils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestRunAgainstLiveServer(t *testing.T) {
	db, err := dbconn.New(testutils.DSN(), dbconn.NewDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg, err := mysql.ParseDSN(testutils.DSN())
	require.NoError(t, err)
	r := Resources{Host: cfg.Addr, Username: cfg.User, Password: cfg.Passwd}

	var variable, value string
	err = db.QueryRowContext(t.Context(), "SHOW VARIABLES LIKE 'binlog_format'").Scan(&variable, &value)
	require.NoError(t, err)

	err = Run(t.Context(), db, r, logrus.New())
	if value == "ROW" {
		require.NoError(t, err)
	} else {
		require.Error(t, err)
	}
}
