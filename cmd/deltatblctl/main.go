// Command deltatblctl exposes the storage engine's administrative
// operations (spec §6) as a CLI: configure, get_config, stats,
// refresh_stats, inspect, physical, cache_stats, insert_cache_stats, and
// warm_cache.
package main

import (
	"github.com/alecthomas/kong"
)

var cli struct {
	Configure        ConfigureCmd        `cmd:"" help:"Set or update a relation's group/order/delta column configuration."`
	GetConfig        GetConfigCmd        `cmd:"" name:"get-config" help:"Print a relation's current configuration."`
	Stats            StatsCmd            `cmd:"" help:"Print a relation's aggregated per-group stats."`
	RefreshStats     RefreshStatsCmd     `cmd:"" name:"refresh-stats" help:"Rescan a relation and rewrite its stats from scratch."`
	Inspect          InspectCmd          `cmd:"" help:"Per-row diagnostic: seq, tag, is_keyframe, delta size, column."`
	Physical         PhysicalCmd         `cmd:"" help:"Dump raw delta records for a relation (or one group)."`
	CacheStats       CacheStatsCmd       `cmd:"" name:"cache-stats" help:"Print content cache counters."`
	InsertCacheStats InsertCacheStatsCmd `cmd:"" name:"insert-cache-stats" help:"Print insert cache slot usage."`
	WarmCache        WarmCacheCmd        `cmd:"" name:"warm-cache" help:"Drive a read scan over a relation to populate the content cache."`
}

func main() {
	ctx := kong.Parse(&cli)
	ctx.FatalIfErrorf(ctx.Run())
}
