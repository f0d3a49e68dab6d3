package stage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"json-validator-service/internal/flow"
	"json-validator-service/internal/observability/metrics"
	"json-validator-service/internal/provenance"
	"json-validator-service/internal/routing"
	"json-validator-service/internal/schema"
)

const personSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "number"}
	},
	"required": ["name"]
}`

// testSession is an in-memory queue that records transfers.
type testSession struct {
	mu        sync.Mutex
	queue     []*flow.Document
	gets      int
	transfers map[routing.Path][]*flow.Document
	failWith  error
}

func newTestSession(docs ...*flow.Document) *testSession {
	return &testSession{
		queue:     docs,
		transfers: make(map[routing.Path][]*flow.Document),
	}
}

func (s *testSession) Get(ctx context.Context) (*flow.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if len(s.queue) == 0 {
		return nil, nil
	}
	doc := s.queue[0]
	s.queue = s.queue[1:]
	return doc, nil
}

func (s *testSession) Transfer(ctx context.Context, doc *flow.Document, path routing.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.transfers[path] = append(s.transfers[path], doc)
	return nil
}

func (s *testSession) count(path routing.Path) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers[path])
}

type brokenBody struct{}

func (brokenBody) Open() (io.ReadCloser, error) { return nil, errors.New("content repository offline") }

type fixture struct {
	stage    *Stage
	metrics  *metrics.Metrics
	recorder *provenance.Recorder
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	rec := &provenance.Recorder{}
	loader := schema.NewLoader(schema.DefaultResolver{}, m)
	router := routing.NewRouter("JsonValidator", rec)
	opts = append([]Option{WithMetrics(m)}, opts...)
	return fixture{
		stage:    New("JsonValidator", loader, router, opts...),
		metrics:  m,
		recorder: rec,
	}
}

func newReadyFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	f := newFixture(t, opts...)
	if err := f.stage.Activate(context.Background(), schema.Reference(personSchema)); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return f
}

func doc(body string) *flow.Document {
	return flow.NewDocument(flow.BytesBody(body), nil)
}

func TestStage_InitialState(t *testing.T) {
	f := newFixture(t)

	if f.stage.State() != StateUnconfigured {
		t.Errorf("expected StateUnconfigured, got %v", f.stage.State())
	}
	if got := testutil.ToFloat64(f.metrics.StageState.WithLabelValues("UNCONFIGURED")); got != 1 {
		t.Errorf("expected UNCONFIGURED gauge 1, got %v", got)
	}
}

func TestStage_ProcessScenarios(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		path     routing.Path
		contains string
	}{
		{"valid document", `{"name":"a"}`, routing.Valid, ""},
		{"missing required property", `{}`, routing.Invalid, "name"},
		{"malformed JSON", `{"name":`, routing.Invalid, "malformed JSON document"},
		{"type mismatch", `{"name":"a","age":"old"}`, routing.Invalid, "age"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReadyFixture(t)
			d := doc(tt.body)
			sess := newTestSession(d)

			processed, err := f.stage.Process(context.Background(), sess)
			if err != nil || !processed {
				t.Fatalf("Process() = %v, %v", processed, err)
			}

			other := routing.Invalid
			if tt.path == routing.Invalid {
				other = routing.Valid
			}
			if sess.count(tt.path) != 1 || sess.count(other) != 0 {
				t.Fatalf("expected document on %s only, got valid=%d invalid=%d",
					tt.path, sess.count(routing.Valid), sess.count(routing.Invalid))
			}

			diag, hasDiag := d.Attribute(routing.ErrorAttribute)
			if tt.path == routing.Valid && hasDiag {
				t.Errorf("valid document carries diagnostic %q", diag)
			}
			if tt.path == routing.Invalid && (!hasDiag || !strings.Contains(diag, tt.contains)) {
				t.Errorf("expected diagnostic mentioning %q, got %q", tt.contains, diag)
			}

			if got := testutil.ToFloat64(f.metrics.DocumentsRouted.WithLabelValues(tt.path.String())); got != 1 {
				t.Errorf("expected routed counter 1, got %v", got)
			}
			if events := f.recorder.Events(); len(events) != 1 || events[0].Relationship != tt.path.String() {
				t.Errorf("unexpected provenance events: %+v", events)
			}
		})
	}
}

func TestStage_NoDocumentAvailable(t *testing.T) {
	f := newReadyFixture(t)
	sess := newTestSession()

	processed, err := f.stage.Process(context.Background(), sess)

	if err != nil || processed {
		t.Fatalf("Process() = %v, %v; want false, nil", processed, err)
	}
	if got := testutil.CollectAndCount(f.metrics.Verdicts); got != 0 {
		t.Errorf("expected no validations, got %d verdict series", got)
	}
	if len(f.recorder.Events()) != 0 {
		t.Error("expected no provenance events")
	}
}

func TestStage_RefusesDocumentsUntilReady(t *testing.T) {
	f := newFixture(t)
	sess := newTestSession(doc(`{"name":"a"}`))

	processed, err := f.stage.Process(context.Background(), sess)

	if !errors.Is(err, ErrStageNotReady) || processed {
		t.Fatalf("Process() = %v, %v; want ErrStageNotReady", processed, err)
	}
	if sess.gets != 0 {
		t.Error("unconfigured stage must not take documents")
	}
}

func TestStage_FailFastActivation(t *testing.T) {
	tests := []struct {
		name string
		ref  schema.Reference
	}{
		{"unparsable inline schema", `{"type":`},
		{"missing schema file", "/nonexistent/schema.json"},
		{"empty reference", ""},
		{"dangling root reference", `{"$ref":"#/nope"}`},
		{"dangling nested reference", `{"properties":{"x":{"$ref":"#/$defs/missing"}}}`},
		{"unknown type name", `{"type":"nosuch"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var seen []State
			f.stage.listeners = append(f.stage.listeners, func(s State) { seen = append(seen, s) })

			err := f.stage.Activate(context.Background(), tt.ref)

			var loadErr *schema.LoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected *schema.LoadError, got %v", err)
			}
			if f.stage.State() != StateFailed {
				t.Errorf("expected StateFailed, got %v", f.stage.State())
			}
			if len(seen) != 1 || seen[0] != StateFailed {
				t.Errorf("expected listener to see FAILED, got %v", seen)
			}

			sess := newTestSession(doc(`{"name":"a"}`))
			_, err = f.stage.Process(context.Background(), sess)
			if !errors.Is(err, ErrStageNotReady) {
				t.Errorf("expected ErrStageNotReady, got %v", err)
			}
			if !errors.As(err, &loadErr) {
				t.Errorf("expected the load error to be reported with the refusal, got %v", err)
			}
			if sess.count(routing.Valid)+sess.count(routing.Invalid) != 0 {
				t.Error("failed stage must not route documents")
			}
		})
	}
}

func TestStage_ActivateSameReferenceCompilesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.stage.Activate(ctx, schema.Reference(personSchema)); err != nil {
			t.Fatalf("activate %d: %v", i, err)
		}
	}

	if got := testutil.ToFloat64(f.metrics.SchemaLoads.WithLabelValues("success")); got != 1 {
		t.Errorf("expected one compile, got %v", got)
	}
	if f.stage.State() != StateReady {
		t.Errorf("expected StateReady, got %v", f.stage.State())
	}
}

func TestStage_ReloadRecoversFromFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	if err := os.WriteFile(path, []byte(`{"type":`), 0o600); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t)
	ctx := context.Background()

	if err := f.stage.Activate(ctx, schema.Reference(path)); err == nil {
		t.Fatal("expected activation to fail")
	}

	if err := os.WriteFile(path, []byte(personSchema), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := f.stage.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if f.stage.State() != StateReady {
		t.Fatalf("expected StateReady after reload, got %v", f.stage.State())
	}
	if f.stage.Status().LastError != "" {
		t.Errorf("expected last error to clear, got %q", f.stage.Status().LastError)
	}

	// A broken schema on reload stops processing instead of keeping stale rules.
	if err := os.WriteFile(path, []byte(`[]`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := f.stage.Reload(ctx); err == nil {
		t.Fatal("expected reload of broken schema to fail")
	}
	if f.stage.State() != StateFailed {
		t.Errorf("expected StateFailed, got %v", f.stage.State())
	}
}

func TestStage_ReloadUnconfigured(t *testing.T) {
	f := newFixture(t)
	if err := f.stage.Reload(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestStage_UnreadableFailPolicy(t *testing.T) {
	f := newReadyFixture(t)
	d := flow.NewDocument(brokenBody{}, nil)
	sess := newTestSession(d)

	processed, err := f.stage.Process(context.Background(), sess)

	var unreadable *UnreadableError
	if !errors.As(err, &unreadable) || !processed {
		t.Fatalf("Process() = %v, %v; want *UnreadableError", processed, err)
	}
	if unreadable.DocumentID != d.ID() {
		t.Errorf("expected document id %s, got %s", d.ID(), unreadable.DocumentID)
	}
	if sess.count(routing.Valid)+sess.count(routing.Invalid) != 0 {
		t.Error("unreadable document must not be transferred")
	}
	if f.stage.State() != StateReady {
		t.Errorf("document failure must not change state, got %v", f.stage.State())
	}
	if got := testutil.ToFloat64(f.metrics.DocumentsUnreadable); got != 1 {
		t.Errorf("expected unreadable counter 1, got %v", got)
	}
}

func TestStage_UnreadableRouteInvalidPolicy(t *testing.T) {
	f := newReadyFixture(t, WithUnreadablePolicy(UnreadableRouteInvalid))
	d := flow.NewDocument(brokenBody{}, nil)
	sess := newTestSession(d)

	if _, err := f.stage.Process(context.Background(), sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.count(routing.Invalid) != 1 {
		t.Fatal("expected unreadable document on invalid")
	}
	if diag, _ := d.Attribute(routing.ErrorAttribute); !strings.Contains(diag, "unreadable") {
		t.Errorf("expected unreadable diagnostic, got %q", diag)
	}
}

func TestStage_TransferError(t *testing.T) {
	f := newReadyFixture(t)
	sess := newTestSession(doc(`{"name":"a"}`))
	sess.failWith = errors.New("queue full")

	_, err := f.stage.Process(context.Background(), sess)
	if err == nil || !strings.Contains(err.Error(), "queue full") {
		t.Errorf("expected transfer error, got %v", err)
	}
}

func TestStage_TransferErrorRestoresAttributes(t *testing.T) {
	f := newReadyFixture(t)
	d := doc(`{}`)
	sess := newTestSession(d)
	sess.failWith = errors.New("queue full")

	if _, err := f.stage.Process(context.Background(), sess); err == nil {
		t.Fatal("expected transfer error")
	}
	if v, ok := d.Attribute(routing.ErrorAttribute); ok {
		t.Errorf("expected %s to be cleared after failed transfer, got %q", routing.ErrorAttribute, v)
	}
}

func TestStage_ConcurrentProcessingRoutesEveryDocumentOnce(t *testing.T) {
	f := newReadyFixture(t)

	var docs []*flow.Document
	want := map[routing.Path]int{}
	for i := 0; i < 200; i++ {
		switch i % 3 {
		case 0:
			docs = append(docs, doc(`{"name":"a"}`))
			want[routing.Valid]++
		case 1:
			docs = append(docs, doc(`{}`))
			want[routing.Invalid]++
		default:
			docs = append(docs, doc(`not json`))
			want[routing.Invalid]++
		}
	}
	sess := newTestSession(docs...)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				processed, err := f.stage.Process(context.Background(), sess)
				if err != nil {
					t.Error(err)
					return
				}
				if !processed {
					return
				}
			}
		}()
	}
	wg.Wait()

	for path, n := range want {
		if got := sess.count(path); got != n {
			t.Errorf("expected %d documents on %s, got %d", n, path, got)
		}
	}

	seen := make(map[string]bool)
	for _, path := range routing.Paths() {
		for _, d := range sess.transfers[path] {
			if seen[d.ID()] {
				t.Fatalf("document %s routed twice", d.ID())
			}
			seen[d.ID()] = true
			_, hasDiag := d.Attribute(routing.ErrorAttribute)
			if hasDiag != (path == routing.Invalid) {
				t.Errorf("document %s on %s has diagnostic=%v", d.ID(), path, hasDiag)
			}
		}
	}
	if len(seen) != len(docs) {
		t.Errorf("expected %d routed documents, got %d", len(docs), len(seen))
	}
}

func TestStage_Check(t *testing.T) {
	f := newFixture(t)
	if _, err := f.stage.Check([]byte(`{}`)); !errors.Is(err, ErrStageNotReady) {
		t.Errorf("expected ErrStageNotReady, got %v", err)
	}

	f = newReadyFixture(t)
	v, err := f.stage.Check([]byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != schema.KindSchemaViolation {
		t.Errorf("expected schema violation, got %s", v.Kind)
	}
	if len(f.recorder.Events()) != 0 {
		t.Error("Check must not route")
	}
}

func TestStage_Configure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.stage.Configure(ctx, map[string]string{}); !errors.Is(err, ErrInvalidProperty) {
		t.Errorf("expected ErrInvalidProperty, got %v", err)
	}
	if f.stage.State() != StateUnconfigured {
		t.Errorf("property failure must not touch state, got %v", f.stage.State())
	}

	if err := f.stage.Configure(ctx, map[string]string{PropertySchemaReference: personSchema}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	st := f.stage.Status()
	if st.State != "READY" || st.Digest == "" || st.LoadedAt == nil {
		t.Errorf("unexpected status: %+v", st)
	}
}
