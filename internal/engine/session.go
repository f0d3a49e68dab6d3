// Package engine hosts the validation stage: it supplies documents from a
// source, hands routed documents to a sink and drives the stage from a pool
// of workers.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"json-validator-service/internal/flow"
	"json-validator-service/internal/observability/logging"
	"json-validator-service/internal/routing"
)

// Sink receives routed documents.
type Sink interface {
	Send(ctx context.Context, doc *flow.Document, path routing.Path) error
}

// Rollbacker is implemented by sessions that can take back a document the
// stage took but did not transfer.
type Rollbacker interface {
	Rollback(ctx context.Context, documentID string, cause error)
}

// MemorySession is an in-memory queue session. Rolled-back documents are
// queued again until they reach maxAttempts, after which they are parked.
// A rollback restores the attributes the document had when it was taken.
type MemorySession struct {
	sink        Sink
	maxAttempts int
	logger      zerolog.Logger

	mu       sync.Mutex
	queue    []*flow.Document
	inFlight map[string]*flow.Document
	snapshot map[string]map[string]string
	attempts map[string]int
	routed   map[routing.Path][]*flow.Document
	failed   []*flow.Document
}

// NewMemorySession creates an empty session. sink may be nil.
func NewMemorySession(sink Sink, maxAttempts int) *MemorySession {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &MemorySession{
		sink:        sink,
		maxAttempts: maxAttempts,
		logger:      logging.WithComponent("memory-session"),
		inFlight:    make(map[string]*flow.Document),
		snapshot:    make(map[string]map[string]string),
		attempts:    make(map[string]int),
		routed:      make(map[routing.Path][]*flow.Document),
	}
}

// Enqueue appends documents to the queue.
func (s *MemorySession) Enqueue(docs ...*flow.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, docs...)
}

// Get pops the next document, or returns nil when the queue is empty.
func (s *MemorySession) Get(ctx context.Context) (*flow.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, nil
	}
	doc := s.queue[0]
	s.queue = s.queue[1:]
	s.inFlight[doc.ID()] = doc
	s.snapshot[doc.ID()] = doc.Attributes()
	s.attempts[doc.ID()]++
	return doc, nil
}

// Transfer forwards doc to the sink and records it under path.
func (s *MemorySession) Transfer(ctx context.Context, doc *flow.Document, path routing.Path) error {
	if s.sink != nil {
		if err := s.sink.Send(ctx, doc, path); err != nil {
			return fmt.Errorf("sink: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, doc.ID())
	delete(s.snapshot, doc.ID())
	s.routed[path] = append(s.routed[path], doc)
	return nil
}

// Rollback requeues an in-flight document or parks it once it has used up
// its attempts.
func (s *MemorySession) Rollback(_ context.Context, documentID string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.inFlight[documentID]
	if !ok {
		return
	}
	delete(s.inFlight, documentID)
	doc.ReplaceAttributes(s.snapshot[documentID])
	delete(s.snapshot, documentID)

	attempts := s.attempts[documentID]
	if attempts >= s.maxAttempts {
		s.failed = append(s.failed, doc)
		s.logger.Warn().
			Err(cause).
			Str("documentId", documentID).
			Int("attempts", attempts).
			Msg("Document parked after repeated failures")
		return
	}
	s.queue = append(s.queue, doc)
	s.logger.Debug().
		Err(cause).
		Str("documentId", documentID).
		Int("attempts", attempts).
		Msg("Document rolled back")
}

// Routed returns the documents transferred to path so far.
func (s *MemorySession) Routed(path routing.Path) []*flow.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*flow.Document, len(s.routed[path]))
	copy(out, s.routed[path])
	return out
}

// Failed returns parked documents.
func (s *MemorySession) Failed() []*flow.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*flow.Document, len(s.failed))
	copy(out, s.failed)
	return out
}

// Pending returns the number of queued and in-flight documents.
func (s *MemorySession) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) + len(s.inFlight)
}
