// Package redis wires flowmesh sources and sinks to Redis pub/sub via
// gomodule/redigo, grounded on the teacher's subscriptions/redis
// machine.Subscription implementation.
package redis

import (
	"context"

	ps "github.com/gomodule/redigo/redis"
	"github.com/spf13/viper"

	"github.com/flowmesh/flowmesh/connectors"
)

type SourceConfig struct {
	Channel string
}

func SourceConfigFromViper(v *viper.Viper) SourceConfig {
	return SourceConfig{Channel: v.GetString("channel")}
}

// Source constructs a connectors.Source[T] subscribed to a Redis pub/
// sub channel, decoding each message payload with decode. Like the
// teacher's Subscription.Read (one blocking Receive call per pull),
// this adapter's pull itself calls Receive once per poll — the same
// blocking-receive-per-tick shape, carried over directly since
// connectors.PullBatch already tolerates a blocking call.
func Source[T any](pool *ps.Pool, cfg SourceConfig, decode func([]byte) (T, error)) (*connectors.Source[T], error) {
	conn := &ps.PubSubConn{Conn: pool.Get()}
	if err := conn.Subscribe(cfg.Channel); err != nil {
		return nil, err
	}

	return connectors.NewSource[T]("redis:"+cfg.Channel, func(ctx context.Context) ([]T, error) {
		switch v := conn.Receive().(type) {
		case ps.Message:
			val, err := decode(v.Data)
			if err != nil {
				return nil, nil
			}
			return []T{val}, nil
		case error:
			return nil, v
		default:
			return nil, nil
		}
	}), nil
}

type SinkConfig struct {
	Channel string
}

func SinkConfigFromViper(v *viper.Viper) SinkConfig {
	return SinkConfig{Channel: v.GetString("channel")}
}

// Sink constructs a connectors.Sink[T] publishing each record to a
// Redis channel, encoding with encode.
func Sink[T any](pool *ps.Pool, cfg SinkConfig, encode func(T) ([]byte, error)) *connectors.Sink[T] {
	return connectors.NewSink[T](func(ctx context.Context, batch []T) error {
		conn := pool.Get()
		defer conn.Close()
		for _, v := range batch {
			data, err := encode(v)
			if err != nil {
				return err
			}
			if _, err := conn.Do("PUBLISH", cfg.Channel, data); err != nil {
				return err
			}
		}
		return nil
	})
}
