package forward

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaSink mirrors envelopes to a topic, keyed by channel id so one call's
// events stay on one partition.
type KafkaSink struct {
	w *kafka.Writer
}

func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	tr := &kafka.Transport{
		ClientID:    cfg.ClientID,
		MetadataTTL: 10 * time.Second,
	}
	return &KafkaSink{w: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Transport:    tr,
	}}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Send(ctx context.Context, env Envelope, payload []byte) error {
	key := env.EventData.ChannelID
	if key == "" {
		key = env.EventName
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-name", Value: []byte(env.EventName)},
		},
		Time: env.Timestamp,
	})
}

func (k *KafkaSink) Close() error { return k.w.Close() }
