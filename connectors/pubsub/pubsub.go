// Package pubsub wires flowmesh sources and sinks to Google Cloud
// Pub/Sub, grounded on the teacher's components/pubsub Initium/Terminus
// pair.
package pubsub

import (
	"context"
	"sync"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/spf13/viper"

	"github.com/flowmesh/flowmesh/connectors"
)

type SourceConfig struct {
	ProjectID    string
	Topic        string
	Subscription string
}

func SourceConfigFromViper(v *viper.Viper) SourceConfig {
	return SourceConfig{
		ProjectID:    v.GetString("project_id"),
		Topic:        v.GetString("topic"),
		Subscription: v.GetString("subscription"),
	}
}

// Source constructs a connectors.Source[T] reading from a Pub/Sub
// subscription. A goroutine runs sub.Receive and appends each decoded
// message to an internal buffer that the returned PullBatch drains.
// The buffer has no size limit and Receive is not throttled, so a slow
// downstream does not hold back the subscription; messages accumulate
// in memory instead.
func Source[T any](ctx context.Context, cfg SourceConfig, decode func([]byte) (T, error)) (*connectors.Source[T], error) {
	client, err := gpubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	sub := client.Subscription(cfg.Subscription)
	if ok, err := sub.Exists(ctx); err != nil {
		return nil, err
	} else if !ok {
		sub, err = client.CreateSubscription(ctx, cfg.Subscription, gpubsub.SubscriptionConfig{Topic: client.Topic(cfg.Topic)})
		if err != nil {
			return nil, err
		}
	}

	var mu sync.Mutex
	var buf []T
	recvErr := make(chan error, 1)

	go func() {
		recvErr <- sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
			v, err := decode(m.Data)
			if err != nil {
				m.Nack()
				return
			}
			mu.Lock()
			buf = append(buf, v)
			mu.Unlock()
			m.Ack()
		})
	}()

	return connectors.NewSource[T]("pubsub:"+cfg.Subscription, func(ctx context.Context) ([]T, error) {
		select {
		case err := <-recvErr:
			return nil, err
		default:
		}
		mu.Lock()
		batch := buf
		buf = nil
		mu.Unlock()
		return batch, nil
	}), nil
}

type SinkConfig struct {
	ProjectID string
	Topic     string
}

func SinkConfigFromViper(v *viper.Viper) SinkConfig {
	return SinkConfig{ProjectID: v.GetString("project_id"), Topic: v.GetString("topic")}
}

// Sink constructs a connectors.Sink[T] publishing to a Pub/Sub topic.
func Sink[T any](ctx context.Context, cfg SinkConfig, encode func(T) ([]byte, error)) (*connectors.Sink[T], error) {
	client, err := gpubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	topic := client.Topic(cfg.Topic)

	return connectors.NewSink[T](func(ctx context.Context, batch []T) error {
		results := make([]*gpubsub.PublishResult, 0, len(batch))
		for _, v := range batch {
			data, err := encode(v)
			if err != nil {
				return err
			}
			results = append(results, topic.Publish(ctx, &gpubsub.Message{Data: data}))
		}
		for _, r := range results {
			if _, err := r.Get(ctx); err != nil {
				return err
			}
		}
		return nil
	}), nil
}
