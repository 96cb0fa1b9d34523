// Package bigquery wires flowmesh sources and sinks to BigQuery,
// grounded on the teacher's components/bigquery Initium/Terminus pair.
package bigquery

import (
	"context"

	gbigquery "cloud.google.com/go/bigquery"
	"github.com/spf13/viper"
	"google.golang.org/api/iterator"

	"github.com/flowmesh/flowmesh/connectors"
)

type SourceConfig struct {
	ProjectID string
	Query     string
}

func SourceConfigFromViper(v *viper.Viper) SourceConfig {
	return SourceConfig{ProjectID: v.GetString("project_id"), Query: v.GetString("query")}
}

// row is the teacher's loader type, renamed: a ValueLoader/ValueSaver
// adapter between a flat map and BigQuery's typed value protocol.
type row map[string]gbigquery.Value

func (r row) Load(v []gbigquery.Value, s gbigquery.Schema) error {
	for i := 0; i < len(s); i++ {
		r[s[i].Name] = v[i]
	}
	return nil
}

func (r row) Save() (map[string]gbigquery.Value, string, error) { return r, "", nil }

// Source constructs a connectors.Source[T] running a fixed SQL query
// once per poll and decoding each result row with decode.
func Source[T any](ctx context.Context, cfg SourceConfig, decode func(map[string]gbigquery.Value) (T, error)) (*connectors.Source[T], error) {
	client, err := gbigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}

	return connectors.NewSource[T]("bigquery", func(ctx context.Context) ([]T, error) {
		it, err := client.Query(cfg.Query).Read(ctx)
		if err != nil {
			return nil, err
		}

		var batch []T
		for {
			r := row{}
			if err := it.Next(&r); err == iterator.Done {
				break
			} else if err != nil {
				return batch, err
			}
			v, err := decode(r)
			if err != nil {
				continue
			}
			batch = append(batch, v)
		}
		return batch, nil
	}), nil
}

type SinkConfig struct {
	ProjectID string
	Dataset   string
	Table     string
}

func SinkConfigFromViper(v *viper.Viper) SinkConfig {
	return SinkConfig{
		ProjectID: v.GetString("project_id"),
		Dataset:   v.GetString("dataset"),
		Table:     v.GetString("table"),
	}
}

// Sink constructs a connectors.Sink[T] streaming-inserting rows into a
// fixed dataset/table, encoding each record with encode.
func Sink[T any](ctx context.Context, cfg SinkConfig, encode func(T) (map[string]gbigquery.Value, error)) (*connectors.Sink[T], error) {
	client, err := gbigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	inserter := client.Dataset(cfg.Dataset).Table(cfg.Table).Inserter()

	return connectors.NewSink[T](func(ctx context.Context, batch []T) error {
		rows := make([]row, 0, len(batch))
		for _, v := range batch {
			r, err := encode(v)
			if err != nil {
				return err
			}
			rows = append(rows, row(r))
		}
		savers := make([]gbigquery.ValueSaver, len(rows))
		for i := range rows {
			savers[i] = rows[i]
		}
		return inserter.Put(ctx, savers)
	}), nil
}
