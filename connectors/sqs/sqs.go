// Package sqs wires flowmesh sources and sinks to AWS SQS, grounded on
// the teacher's components/sqs Initium/Terminus pair.
package sqs

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awssqs "github.com/aws/aws-sdk-go/service/sqs"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/flowmesh/flowmesh/connectors"
)

type SourceConfig struct {
	Region            string
	QueueURL          string
	VisibilityTimeout int64
	BatchSize         int64
	WaitTimeSeconds   int64
}

func SourceConfigFromViper(v *viper.Viper) SourceConfig {
	return SourceConfig{
		Region:            v.GetString("region"),
		QueueURL:          v.GetString("queue_url"),
		VisibilityTimeout: v.GetInt64("visibility_timeout"),
		BatchSize:         v.GetInt64("batch_size"),
		WaitTimeSeconds:   v.GetInt64("wait_time_seconds"),
	}
}

// Source constructs a connectors.Source[T] long-polling an SQS queue
// and deleting each message once decoded, decoding the message body
// with decode.
func Source[T any](cfg SourceConfig, decode func(body string) (T, error)) (*connectors.Source[T], error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, err
	}
	svc := awssqs.New(sess, aws.NewConfig().WithRegion(cfg.Region))

	return connectors.NewSource[T]("sqs:"+cfg.QueueURL, func(ctx context.Context) ([]T, error) {
		id := uuid.New().String()
		out, err := svc.ReceiveMessageWithContext(ctx, &awssqs.ReceiveMessageInput{
			MaxNumberOfMessages:     aws.Int64(cfg.BatchSize),
			QueueUrl:                aws.String(cfg.QueueURL),
			VisibilityTimeout:       aws.Int64(cfg.VisibilityTimeout),
			WaitTimeSeconds:         aws.Int64(cfg.WaitTimeSeconds),
			ReceiveRequestAttemptId: aws.String(id),
		})
		if err != nil {
			return nil, err
		}

		batch := make([]T, 0, len(out.Messages))
		var toDelete []*awssqs.DeleteMessageBatchRequestEntry
		for i, m := range out.Messages {
			v, err := decode(aws.StringValue(m.Body))
			if err != nil {
				continue
			}
			batch = append(batch, v)
			toDelete = append(toDelete, &awssqs.DeleteMessageBatchRequestEntry{
				Id:            aws.String(uuid.New().String()),
				ReceiptHandle: m.ReceiptHandle,
			})
			_ = i
		}
		if len(toDelete) > 0 {
			_, _ = svc.DeleteMessageBatchWithContext(ctx, &awssqs.DeleteMessageBatchInput{
				QueueUrl: aws.String(cfg.QueueURL),
				Entries:  toDelete,
			})
		}
		return batch, nil
	}), nil
}

type SinkConfig struct {
	Region   string
	QueueURL string
	Delay    int64
}

func SinkConfigFromViper(v *viper.Viper) SinkConfig {
	return SinkConfig{
		Region:   v.GetString("region"),
		QueueURL: v.GetString("queue_url"),
		Delay:    v.GetInt64("delay"),
	}
}

// Sink constructs a connectors.Sink[T] batch-sending to an SQS queue,
// encoding each record with encode.
func Sink[T any](cfg SinkConfig, encode func(T) (string, error)) (*connectors.Sink[T], error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, err
	}
	svc := awssqs.New(sess, aws.NewConfig().WithRegion(cfg.Region))

	return connectors.NewSink[T](func(ctx context.Context, batch []T) error {
		groupID := uuid.New().String()
		entries := make([]*awssqs.SendMessageBatchRequestEntry, 0, len(batch))
		for _, v := range batch {
			body, err := encode(v)
			if err != nil {
				return err
			}
			id := uuid.New().String()
			entries = append(entries, &awssqs.SendMessageBatchRequestEntry{
				MessageGroupId:         aws.String(groupID),
				DelaySeconds:           aws.Int64(cfg.Delay),
				Id:                     aws.String(id),
				MessageDeduplicationId: aws.String(id),
				MessageBody:            aws.String(body),
			})
		}
		if len(entries) == 0 {
			return nil
		}
		_, err := svc.SendMessageBatchWithContext(ctx, &awssqs.SendMessageBatchInput{
			QueueUrl: aws.String(cfg.QueueURL),
			Entries:  entries,
		})
		return err
	}), nil
}
