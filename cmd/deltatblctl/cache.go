package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/block/deltatbl/pkg/scanner"
	"github.com/block/deltatbl/pkg/tableaccess"
)

// CacheStatsCmd prints the content cache's counters (spec §6
// "cache_stats").
type CacheStatsCmd struct {
	Common
}

func (c *CacheStatsCmd) Run() error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, engine, err := newAdapter(db)
	if err != nil {
		return err
	}
	defer engine.Close()

	s := engine.ContentCacheStats()
	fmt.Printf("entries:   %d\n", s.Entries)
	fmt.Printf("hits:      %d\n", s.Hits)
	fmt.Printf("misses:    %d\n", s.Misses)
	fmt.Printf("evictions: %d\n", s.Evictions)
	fmt.Printf("skips:     %d\n", s.Skips)
	return nil
}

// InsertCacheStatsCmd prints the insert cache's slot usage (spec §6
// "insert_cache_stats").
type InsertCacheStatsCmd struct {
	Common
}

func (c *InsertCacheStatsCmd) Run() error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, engine, err := newAdapter(db)
	if err != nil {
		return err
	}
	defer engine.Close()

	s := engine.InsertCacheStats()
	fmt.Printf("capacity: %d\n", s.Capacity)
	fmt.Printf("in_use:   %d\n", s.InUse)
	return nil
}

// WarmCacheCmd drives a read scan over a relation to populate the
// content cache (spec §6 "warm_cache"), stopping once it has visited
// MaxRows rows or MaxGroups distinct groups, whichever comes first.
type WarmCacheCmd struct {
	Common

	Relation    string `arg:"" help:"Relation name."`
	MaxRows     int64  `default:"100000" help:"Stop after visiting this many rows."`
	MaxGroups   int64  `default:"1000" help:"Stop after visiting this many distinct groups."`
	Concurrency int64  `default:"4" help:"Number of chunks scanned concurrently."`
}

func (c *WarmCacheCmd) Run() error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	schema, err := c.registry(db).GetSchema(ctx, c.Relation)
	if err != nil {
		return err
	}
	groupColIdx := -1
	for i, col := range schema.UserColumns {
		if col.Name == schema.GroupColumn {
			groupColIdx = i
			break
		}
	}
	adapter, engine, err := newAdapter(db)
	if err != nil {
		return err
	}
	defer engine.Close()

	var mu sync.Mutex
	var rowsSeen int64
	groupsSeen := make(map[string]struct{})
	err = scanner.Scan(ctx, db, adapter, schema, scanner.Options{Concurrency: c.Concurrency}, func(_ context.Context, tup *tableaccess.Tuple) error {
		mu.Lock()
		defer mu.Unlock()
		rowsSeen++
		if groupColIdx >= 0 {
			groupsSeen[string(tup.Values[groupColIdx])] = struct{}{}
		}
		if rowsSeen >= c.MaxRows || int64(len(groupsSeen)) >= c.MaxGroups {
			return errStopScan
		}
		return nil
	})
	if err != nil && err != errStopScan {
		return err
	}

	fmt.Printf("warmed %s: %d row(s) read, %d group(s) seen\n", c.Relation, rowsSeen, len(groupsSeen))
	return nil
}

var errStopScan = fmt.Errorf("deltatblctl: warm_cache limit reached")
