package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"json-validator-service/internal/flow"
	"json-validator-service/internal/observability/logging"
	"json-validator-service/internal/routing"
)

// KafkaConfig configures the consumer side of a KafkaSession.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

// KafkaSession reads documents from a consumer group and commits each
// message once its document has been transferred.
type KafkaSession struct {
	reader      *kafka.Reader
	sink        Sink
	pollTimeout time.Duration
	logger      zerolog.Logger

	mu      sync.Mutex
	pending map[string]kafka.Message
}

// NewKafkaSession creates a consumer for cfg.Topic. Routed documents go to sink.
func NewKafkaSession(cfg KafkaConfig, sink Sink) *KafkaSession {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})

	logger := logging.WithComponent("kafka-session")
	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("groupId", cfg.GroupID).
		Msg("Kafka consumer initialized")

	return &KafkaSession{
		reader:      reader,
		sink:        sink,
		pollTimeout: cfg.PollTimeout,
		logger:      logger,
		pending:     make(map[string]kafka.Message),
	}
}

// Get waits up to the poll timeout for the next message. It returns a nil
// document when nothing arrived in time.
func (s *KafkaSession) Get(ctx context.Context) (*flow.Document, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	msg, err := s.reader.FetchMessage(pollCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch message: %w", err)
	}

	doc := DocumentFromMessage(msg)

	s.mu.Lock()
	s.pending[doc.ID()] = msg
	s.mu.Unlock()
	return doc, nil
}

// Transfer publishes doc through the sink, then commits its source message.
func (s *KafkaSession) Transfer(ctx context.Context, doc *flow.Document, path routing.Path) error {
	if err := s.sink.Send(ctx, doc, path); err != nil {
		return fmt.Errorf("sink: %w", err)
	}

	s.mu.Lock()
	msg, ok := s.pending[doc.ID()]
	delete(s.pending, doc.ID())
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

// Rollback forgets the message without committing it, so the consumer group
// redelivers it after a restart or rebalance.
func (s *KafkaSession) Rollback(_ context.Context, documentID string, cause error) {
	s.mu.Lock()
	msg, ok := s.pending[documentID]
	delete(s.pending, documentID)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.logger.Warn().
		Err(cause).
		Str("documentId", documentID).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("Message left uncommitted")
}

// Close closes the consumer.
func (s *KafkaSession) Close() error {
	return s.reader.Close()
}

// DocumentFromMessage builds a document from a Kafka message. Headers become
// attributes; a "uuid" header, when present, is kept as the document ID.
func DocumentFromMessage(msg kafka.Message) *flow.Document {
	attrs := make(map[string]string, len(msg.Headers)+4)
	for _, h := range msg.Headers {
		attrs[h.Key] = string(h.Value)
	}
	attrs[flow.AttrKafkaTopic] = msg.Topic
	attrs[flow.AttrKafkaPartition] = strconv.Itoa(msg.Partition)
	attrs[flow.AttrKafkaOffset] = strconv.FormatInt(msg.Offset, 10)
	if len(msg.Key) > 0 {
		attrs[flow.AttrKafkaKey] = string(msg.Key)
	}

	body := flow.BytesBody(msg.Value)
	if id := attrs[flow.AttrUUID]; id != "" {
		return flow.NewDocumentWithID(id, body, attrs)
	}
	return flow.NewDocument(body, attrs)
}
