package main

import (
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/block/deltatbl/pkg/confreg"
	"github.com/block/deltatbl/pkg/contentcache"
	"github.com/block/deltatbl/pkg/dbconn"
	"github.com/block/deltatbl/pkg/insertcache"
	"github.com/block/deltatbl/pkg/seqcache"
	"github.com/block/deltatbl/pkg/statsaccum"
	"github.com/block/deltatbl/pkg/storage"
	"github.com/block/deltatbl/pkg/tableaccess"
)

// Common holds the connection flags every subcommand needs.
type Common struct {
	DSN         string `required:"" help:"MySQL DSN, e.g. user:pass@tcp(host:3306)/dbname"`
	ConfigTable string `default:"" help:"Config table name (default: deltatbl_config)"`
	StatsTable  string `default:"" help:"Stats table name (default: deltatbl_group_stats)"`
}

func (c *Common) open() (*sql.DB, error) {
	return dbconn.New(c.DSN, dbconn.NewDBConfig())
}

func (c *Common) registry(db *sql.DB) *confreg.Registry {
	return confreg.NewRegistry(db, c.ConfigTable)
}

func (c *Common) statsTable() string {
	if c.StatsTable == "" {
		return statsaccum.DefaultStatsTable
	}
	return c.StatsTable
}

// newAdapter wires a fresh storage.Engine with default-sized caches,
// enough for a one-shot CLI invocation — long-lived backends tune these
// via the cache_size_mb/cache_partitions/insert_cache_slots tunables
// instead.
func newAdapter(db *sql.DB) (*tableaccess.Adapter, *storage.Engine, error) {
	seq, err := seqcache.New(256, 256)
	if err != nil {
		return nil, nil, err
	}
	content, err := contentcache.New(0, 4096, 1<<20)
	if err != nil {
		return nil, nil, err
	}
	logger := logrus.New()
	engine := storage.New(db, seq, insertcache.NewManager(64), content, 0, logger)
	return tableaccess.NewAdapter(db, engine, logger), engine, nil
}
