package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures [NewKafkaWriter].
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" toml:"brokers" env:"BROKERS" envSeparator:","`
	Topic        string        `yaml:"topic" toml:"topic" env:"TOPIC"`
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// NewKafkaWriter builds a hash-balanced writer that waits for all replicas.
func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("audit: kafka sink requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("audit: kafka sink requires a topic")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
	}, nil
}

// KafkaSink publishes events as JSON, keyed by account email so one
// account's events stay ordered within a partition.
type KafkaSink struct {
	writer  MessageWriter
	log     *slog.Logger
	timeout time.Duration
	failed  atomic.Uint64
}

// NewKafkaSink wraps w. Publish failures are logged and counted, never
// returned; Emit runs on the dispatcher goroutine.
func NewKafkaSink(w MessageWriter, log *slog.Logger) *KafkaSink {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaSink{writer: w, log: log.With("component", "audit.kafka"), timeout: 5 * time.Second}
}

func (s *KafkaSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.failed.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Email),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("audit publish failed", "event_type", event.EventType, "event_id", event.ID, "error", err)
	}
}

// Failed reports how many events could not be published.
func (s *KafkaSink) Failed() uint64 {
	if s == nil {
		return 0
	}
	return s.failed.Load()
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
