// Package stage implements the validate-and-route processing stage: it owns
// the compiled schema and, for each document the engine hands it, runs the
// validator and the router and transfers the document to its successor path.
package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"json-validator-service/internal/flow"
	"json-validator-service/internal/observability/logging"
	"json-validator-service/internal/observability/metrics"
	"json-validator-service/internal/routing"
	"json-validator-service/internal/schema"
)

// Session is the engine side of one stage invocation.
type Session interface {
	// Get returns the next queued document, or nil when there is none.
	Get(ctx context.Context) (*flow.Document, error)
	// Transfer hands doc back to the engine on path.
	Transfer(ctx context.Context, doc *flow.Document, path routing.Path) error
}

// StateListener is notified after every state change.
type StateListener func(State)

// Option configures a Stage.
type Option func(*Stage)

// WithUnreadablePolicy sets how unreadable bodies are handled.
func WithUnreadablePolicy(p UnreadablePolicy) Option {
	return func(s *Stage) { s.policy = p }
}

// WithStateListener registers a listener for state changes.
func WithStateListener(l StateListener) Option {
	return func(s *Stage) { s.listeners = append(s.listeners, l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Stage) { s.metrics = m }
}

// Stage validates documents against a JSON Schema and routes them.
//
// State transitions:
//
//	UNCONFIGURED ── Activate ok ──→ READY ── Reload ok ──→ READY
//	     │                            │
//	     └── Activate err ──→ FAILED ←┘ Reload err
//	                            │
//	                            └── Reload ok ──→ READY
//
// Process only takes documents while READY.
type Stage struct {
	name    string
	loader  *schema.Loader
	router  *routing.Router
	metrics *metrics.Metrics
	logger  zerolog.Logger
	policy  UnreadablePolicy

	// loadMu serializes schema loads; mu guards the fields below it.
	loadMu    sync.Mutex
	mu        sync.RWMutex
	state     State
	ref       schema.Reference
	compiled  *schema.Compiled
	lastErr   error
	listeners []StateListener
}

// New creates an unconfigured stage.
func New(name string, loader *schema.Loader, router *routing.Router, opts ...Option) *Stage {
	s := &Stage{
		name:    name,
		loader:  loader,
		router:  router,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("stage").With().Str("stage", name).Logger(),
		policy:  UnreadableFail,
		state:   StateUnconfigured,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.SetStageState(s.state.String(), allStates())
	return s
}

// Name returns the stage name.
func (s *Stage) Name() string {
	return s.name
}

// State returns the current state.
func (s *Stage) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Reference returns the configured schema reference.
func (s *Stage) Reference() schema.Reference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ref
}

// Relationships returns the declared successor paths.
func (s *Stage) Relationships() []routing.Relationship {
	return routing.Relationships()
}

// Configure validates props and activates the stage with them.
func (s *Stage) Configure(ctx context.Context, props map[string]string) error {
	if err := ValidateProperties(props); err != nil {
		return err
	}
	return s.Activate(ctx, schema.Reference(props[PropertySchemaReference]))
}

// Activate loads the schema named by ref. On success the stage is READY; on
// failure it is FAILED and the *schema.LoadError is returned. Activating a
// READY stage with the same reference and unchanged source is a no-op.
func (s *Stage) Activate(ctx context.Context, ref schema.Reference) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.mu.RLock()
	current := s.compiled
	if s.state != StateReady {
		current = nil
	}
	s.mu.RUnlock()

	c, changed, err := s.loader.LoadIfChanged(ctx, ref, current)
	if err != nil {
		s.transition(StateFailed, ref, nil, err)
		return err
	}
	if changed {
		s.transition(StateReady, ref, c, nil)
	}
	return nil
}

// Reload re-runs the load step for the configured reference.
func (s *Stage) Reload(ctx context.Context) error {
	ref := s.Reference()
	if ref == "" {
		return ErrNotConfigured
	}
	return s.Activate(ctx, ref)
}

func (s *Stage) transition(to State, ref schema.Reference, c *schema.Compiled, err error) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.ref = ref
	s.compiled = c
	s.lastErr = err
	listeners := s.listeners
	s.mu.Unlock()

	s.metrics.SetStageState(to.String(), allStates())

	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Error().Err(err)
	}
	ev.Str("from", from.String()).
		Str("to", to.String()).
		Str("reference", ref.String()).
		Msg("Stage state changed")

	for _, l := range listeners {
		l(to)
	}
}

// Process takes at most one document from sess, validates it, routes it and
// transfers it. processed reports whether a document was taken.
//
// It returns ErrStageNotReady without touching the session unless the stage
// is READY, and (false, nil) when the session has no document. With the
// UnreadableFail policy an unreadable body yields *UnreadableError and the
// document is not transferred.
func (s *Stage) Process(ctx context.Context, sess Session) (processed bool, err error) {
	s.mu.RLock()
	state, compiled, lastErr := s.state, s.compiled, s.lastErr
	s.mu.RUnlock()

	if !state.AcceptsDocuments() {
		if lastErr != nil {
			return false, fmt.Errorf("%w (%s): %w", ErrStageNotReady, state, lastErr)
		}
		return false, fmt.Errorf("%w (%s)", ErrStageNotReady, state)
	}

	doc, err := sess.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return false, nil
	}

	verdict, err := s.evaluate(compiled, doc)
	if err != nil {
		return true, err
	}

	taken := doc.Attributes()
	path := s.router.Route(ctx, doc, verdict)
	if err := sess.Transfer(ctx, doc, path); err != nil {
		// The document goes back untouched; routing attributes belong to the
		// transfer that failed.
		doc.ReplaceAttributes(taken)
		return true, &TransferError{DocumentID: doc.ID(), Path: path.String(), Err: err}
	}
	s.metrics.RecordRouted(path.String())
	return true, nil
}

func (s *Stage) evaluate(c *schema.Compiled, doc *flow.Document) (schema.Verdict, error) {
	start := time.Now()

	body, err := doc.ReadBody()
	if err != nil {
		s.metrics.RecordUnreadable()
		if s.policy != UnreadableRouteInvalid {
			s.logger.Warn().Err(err).Str("documentId", doc.ID()).Msg("Document body unreadable")
			return schema.Verdict{}, &UnreadableError{DocumentID: doc.ID(), Err: err}
		}
		v := schema.Unreadable(err)
		s.metrics.RecordVerdict(v.Kind.String(), time.Since(start).Seconds())
		return v, nil
	}

	v := schema.Validate(c, body)
	s.metrics.RecordVerdict(v.Kind.String(), time.Since(start).Seconds())
	return v, nil
}

// Check validates body against the current schema without routing.
func (s *Stage) Check(body []byte) (schema.Verdict, error) {
	s.mu.RLock()
	state, compiled := s.state, s.compiled
	s.mu.RUnlock()

	if !state.AcceptsDocuments() {
		return schema.Verdict{}, fmt.Errorf("%w (%s)", ErrStageNotReady, state)
	}
	return schema.Validate(compiled, body), nil
}

// Status is a point-in-time view of the stage.
type Status struct {
	Name      string     `json:"name"`
	State     string     `json:"state"`
	Reference string     `json:"reference,omitempty"`
	Digest    string     `json:"digest,omitempty"`
	LoadedAt  *time.Time `json:"loadedAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

// Status returns the current status.
func (s *Stage) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Name:      s.name,
		State:     s.state.String(),
		Reference: s.ref.String(),
	}
	if s.compiled != nil {
		st.Digest = s.compiled.Digest()
		loadedAt := s.compiled.LoadedAt()
		st.LoadedAt = &loadedAt
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
