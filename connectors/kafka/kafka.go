// Package kafka wires flowmesh sources and sinks to Kafka topics via
// segmentio/kafka-go, grounded on the teacher's components/kafka
// Initium/Terminus pair.
package kafka

import (
	"context"
	"time"

	kaf "github.com/segmentio/kafka-go"
	"github.com/spf13/viper"

	"github.com/flowmesh/flowmesh/connectors"
)

// SourceConfig mirrors the viper keys the teacher's kafka.Initium reads
// (brokers, topic, partition, deadline, retries, batch.size); a job's
// connector config is read from a *viper.Viper by SourceConfigFromViper.
type SourceConfig struct {
	Brokers   []string
	Topic     string
	Partition int
	Deadline  time.Duration
	Retries   int
	BatchSize int
}

func SourceConfigFromViper(v *viper.Viper) SourceConfig {
	return SourceConfig{
		Brokers:   v.GetStringSlice("brokers"),
		Topic:     v.GetString("topic"),
		Partition: v.GetInt("partition"),
		Deadline:  v.GetDuration("deadline"),
		Retries:   v.GetInt("retries"),
		BatchSize: v.GetInt("batch.size"),
	}
}

// Source constructs a connectors.Source[T] reading from a Kafka topic,
// decoding each message's value with decode.
func Source[T any](cfg SourceConfig, decode func([]byte) (T, error)) *connectors.Source[T] {
	r := kaf.NewReader(kaf.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		Partition:   cfg.Partition,
		MaxWait:     cfg.Deadline,
		MaxAttempts: cfg.Retries,
	})

	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	return connectors.NewSource[T]("kafka:"+cfg.Topic, func(ctx context.Context) ([]T, error) {
		batch := make([]T, 0, batchSize)
		for i := 0; i < batchSize; i++ {
			msg, err := r.ReadMessage(ctx)
			if err != nil {
				if len(batch) > 0 {
					return batch, nil
				}
				return nil, err
			}
			v, err := decode(msg.Value)
			if err != nil {
				continue
			}
			batch = append(batch, v)
		}
		return batch, nil
	})
}

// SinkConfig mirrors components/kafka's Terminus viper keys.
type SinkConfig struct {
	Brokers []string
	Topic   string
	Retries int
}

func SinkConfigFromViper(v *viper.Viper) SinkConfig {
	return SinkConfig{
		Brokers: v.GetStringSlice("brokers"),
		Topic:   v.GetString("topic"),
		Retries: v.GetInt("retries"),
	}
}

// Sink constructs a connectors.Sink[T] writing to a Kafka topic,
// encoding each record with encode.
func Sink[T any](cfg SinkConfig, encode func(T) ([]byte, error)) *connectors.Sink[T] {
	w := kaf.NewWriter(kaf.WriterConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		Balancer:    &kaf.LeastBytes{},
		MaxAttempts: cfg.Retries,
	})

	return connectors.NewSink[T](func(ctx context.Context, batch []T) error {
		messages := make([]kaf.Message, 0, len(batch))
		for _, v := range batch {
			b, err := encode(v)
			if err != nil {
				return err
			}
			messages = append(messages, kaf.Message{Value: b})
		}
		return w.WriteMessages(ctx, messages...)
	})
}
