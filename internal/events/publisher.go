// Package events provides event publishing functionality.
package events

import (
	"context"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"json-validator-service/internal/flow"
	"json-validator-service/internal/models"
	"json-validator-service/internal/observability/metrics"
	"json-validator-service/internal/provenance"
	"json-validator-service/internal/routing"
)

// Header keys set on routed documents.
const (
	HeaderRelationship = "relationship"
	HeaderPrincipal    = "principal"
	HeaderEventType    = "eventType"
)

// Publisher publishes routed documents to one Kafka topic per successor path
// and provenance events to a separate topic.
type Publisher struct {
	writerValid      *kafka.Writer
	writerInvalid    *kafka.Writer
	writerProvenance *kafka.Writer
	principal        string
	topicValid       string
	topicInvalid     string
	topicProvenance  string
	enabled          bool
	metrics          *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicValid      string
	TopicInvalid    string
	TopicProvenance string
	Principal       string
	Enabled         bool
}

// New creates a new Kafka event publisher using the default metrics.
func New(cfg *Config) *Publisher {
	return NewWithMetrics(cfg, metrics.DefaultMetrics)
}

// NewWithMetrics creates a new Kafka event publisher.
func NewWithMetrics(cfg *Config, m *metrics.Metrics) *Publisher {
	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:       cfg.Principal,
			topicValid:      cfg.TopicValid,
			topicInvalid:    cfg.TopicInvalid,
			topicProvenance: cfg.TopicProvenance,
			enabled:         false,
			metrics:         m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		if topic == "" {
			return nil
		}
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicValid", cfg.TopicValid).
		Str("topicInvalid", cfg.TopicInvalid).
		Str("topicProvenance", cfg.TopicProvenance).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerValid:      newWriter(cfg.TopicValid),
		writerInvalid:    newWriter(cfg.TopicInvalid),
		writerProvenance: newWriter(cfg.TopicProvenance),
		principal:        cfg.Principal,
		topicValid:       cfg.TopicValid,
		topicInvalid:     cfg.TopicInvalid,
		topicProvenance:  cfg.TopicProvenance,
		enabled:          true,
		metrics:          m,
	}
}

// Send publishes doc to the topic of its successor path.
func (p *Publisher) Send(ctx context.Context, doc *flow.Document, path routing.Path) error {
	writer, topic := p.writerValid, p.topicValid
	if path == routing.Invalid {
		writer, topic = p.writerInvalid, p.topicInvalid
	}

	body, err := doc.ReadBody()
	if err != nil {
		log.Error().Err(err).Str("documentId", doc.ID()).Msg("Failed to read document for publishing")
		return err
	}

	headers := documentHeaders(doc.Attributes())
	headers = append(headers,
		kafka.Header{Key: HeaderRelationship, Value: []byte(path.String())},
		kafka.Header{Key: HeaderPrincipal, Value: []byte(p.principal)},
	)

	return p.publish(ctx, writer, topic, path.String(), kafka.Message{
		Key:     []byte(doc.ID()),
		Value:   body,
		Headers: headers,
	})
}

// Report publishes a provenance event. Delivery failures are logged and do
// not affect routing.
func (p *Publisher) Report(ctx context.Context, ev provenance.Event) {
	rec := models.ProvenanceRecord{
		EventType:    string(ev.Type),
		DocumentID:   ev.DocumentID,
		Relationship: ev.Relationship,
		Details:      ev.Details,
		Component:    ev.Component,
		Principal:    p.principal,
		Timestamp:    ev.Timestamp.UnixMilli(),
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Str("topic", p.topicProvenance).Msg("Failed to marshal provenance event")
		return
	}

	_ = p.publish(ctx, p.writerProvenance, p.topicProvenance, "provenance", kafka.Message{
		Key:   []byte(ev.DocumentID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(ev.Type)},
			{Key: HeaderPrincipal, Value: []byte(p.principal)},
		},
	})
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType string, msg kafka.Message) error {
	start := time.Now()

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", string(msg.Key)).
		Int("bytes", len(msg.Value)).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", string(msg.Key)).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for _, w := range []*kafka.Writer{p.writerValid, p.writerInvalid, p.writerProvenance} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("topic", w.Topic).Msg("Error closing writer")
			err = e
		}
	}
	return err
}

// documentHeaders converts attributes to headers in key order.
func documentHeaders(attrs map[string]string) []kafka.Header {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]kafka.Header, 0, len(keys)+2)
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(attrs[k])})
	}
	return headers
}
