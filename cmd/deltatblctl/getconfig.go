package main

import (
	"context"
	"fmt"
)

// GetConfigCmd prints a relation's current configuration (spec §6
// "get_config").
type GetConfigCmd struct {
	Common

	Relation string `arg:"" help:"Relation name."`
}

func (c *GetConfigCmd) Run() error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer db.Close()

	schema, err := c.registry(db).GetSchema(context.Background(), c.Relation)
	if err != nil {
		return err
	}

	fmt.Printf("relation:       %s\n", schema.Relation)
	fmt.Printf("group_by:       %s\n", schema.GroupColumn)
	fmt.Printf("delta_columns:  %v\n", schema.DeltaColumns)
	fmt.Printf("keyframe_every: %d\n", schema.KeyframeInterval)
	fmt.Printf("compress_depth: %d\n", schema.CompressDepth)
	fmt.Printf("use_secondary_compression: %v\n", schema.UseSecondaryCompression)
	fmt.Printf("allow_explicit_seq:        %v\n", schema.AllowExplicitSeq)
	return nil
}
