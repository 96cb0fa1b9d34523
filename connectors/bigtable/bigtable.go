// Package bigtable wires flowmesh sources and sinks to Cloud Bigtable,
// grounded on the teacher's components/bigtable Filter.Initium /
// Mutation.Terminus pair.
package bigtable

import (
	"context"

	gbigtable "cloud.google.com/go/bigtable"
	"github.com/spf13/viper"

	"github.com/flowmesh/flowmesh/connectors"
)

type SourceConfig struct {
	ProjectID     string
	Instance      string
	Table         string
	PrefixRange   string
	FamilyFilters []string
}

func SourceConfigFromViper(v *viper.Viper) SourceConfig {
	return SourceConfig{
		ProjectID:     v.GetString("project_id"),
		Instance:      v.GetString("instance"),
		Table:         v.GetString("table"),
		PrefixRange:   v.GetString("prefix_range"),
		FamilyFilters: v.GetStringSlice("family_filters"),
	}
}

// Source constructs a connectors.Source[T] scanning a Bigtable prefix
// range, decoding each matched row with decode. keep mirrors the
// teacher's Filter type: rows for which keep returns false are skipped.
func Source[T any](ctx context.Context, cfg SourceConfig, keep func(gbigtable.Row) bool, decode func(gbigtable.Row) (T, error)) (*connectors.Source[T], error) {
	client, err := gbigtable.NewClient(ctx, cfg.ProjectID, cfg.Instance)
	if err != nil {
		return nil, err
	}
	tbl := client.Open(cfg.Table)
	rr := gbigtable.PrefixRange(cfg.PrefixRange)

	var opts []gbigtable.ReadOption
	for _, f := range cfg.FamilyFilters {
		opts = append(opts, gbigtable.RowFilter(gbigtable.FamilyFilter(f)))
	}

	return connectors.NewSource[T]("bigtable:"+cfg.Table, func(ctx context.Context) ([]T, error) {
		var batch []T
		err := tbl.ReadRows(ctx, rr, func(r gbigtable.Row) bool {
			if !keep(r) {
				return true
			}
			if v, err := decode(r); err == nil {
				batch = append(batch, v)
			}
			return true
		}, opts...)
		if err != nil {
			return nil, err
		}
		return batch, nil
	}), nil
}

type SinkConfig struct {
	ProjectID string
	Instance  string
	Table     string
}

func SinkConfigFromViper(v *viper.Viper) SinkConfig {
	return SinkConfig{
		ProjectID: v.GetString("project_id"),
		Instance:  v.GetString("instance"),
		Table:     v.GetString("table"),
	}
}

// Sink constructs a connectors.Sink[T] applying one bulk mutation per
// flush. toMutation mirrors the teacher's Mutation type: given a batch,
// it returns the row keys and the per-row mutation to apply.
func Sink[T any](ctx context.Context, cfg SinkConfig, toMutation func(batch []T) (rowKeys []string, muts []*gbigtable.Mutation)) (*connectors.Sink[T], error) {
	client, err := gbigtable.NewClient(ctx, cfg.ProjectID, cfg.Instance)
	if err != nil {
		return nil, err
	}
	tbl := client.Open(cfg.Table)

	return connectors.NewSink[T](func(ctx context.Context, batch []T) error {
		keys, muts := toMutation(batch)
		errs, err := tbl.ApplyBulk(ctx, keys, muts)
		if err != nil {
			return err
		}
		for _, e := range errs {
			if e != nil {
				return e
			}
		}
		return nil
	}), nil
}
