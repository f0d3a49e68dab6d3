// Package schema loads JSON Schema documents and validates JSON documents
// against them.
package schema

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/kaptinlin/jsonschema"
	"github.com/rs/zerolog"

	"json-validator-service/internal/observability/logging"
	"json-validator-service/internal/observability/metrics"
)

// Load phases reported in LoadError.
const (
	PhaseReference = "reference"
	PhaseResolve   = "resolve"
	PhaseParse     = "parse"
	PhaseStructure = "structure"
	PhaseCompile   = "compile"
)

// LoadError reports a schema that could not be turned into a Compiled schema.
type LoadError struct {
	Reference Reference
	Phase     string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load schema %s: %s: %v", e.Reference, e.Phase, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Compiled is a validation-ready schema. It is never mutated after Load
// returns and may be shared by concurrent validations.
type Compiled struct {
	ref      Reference
	digest   string
	loadedAt time.Time
	schema   *jsonschema.Schema
}

// Reference returns the reference the schema was loaded from.
func (c *Compiled) Reference() Reference { return c.ref }

// Digest returns the hex SHA-256 of the schema source.
func (c *Compiled) Digest() string { return c.digest }

// LoadedAt returns when the schema was compiled.
func (c *Compiled) LoadedAt() time.Time { return c.loadedAt }

// Loader resolves references and compiles them.
type Loader struct {
	resolver Resolver
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewLoader creates a loader. A nil metrics falls back to the default set.
func NewLoader(resolver Resolver, m *metrics.Metrics) *Loader {
	if resolver == nil {
		resolver = DefaultResolver{}
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Loader{
		resolver: resolver,
		metrics:  m,
		logger:   logging.WithComponent("schema-loader"),
	}
}

// Resolver returns the resolver used by the loader.
func (l *Loader) Resolver() Resolver {
	return l.resolver
}

// Load resolves and compiles ref.
func (l *Loader) Load(ctx context.Context, ref Reference) (*Compiled, error) {
	c, _, err := l.LoadIfChanged(ctx, ref, nil)
	return c, err
}

// LoadIfChanged compiles ref unless current was built from the same
// reference and identical source bytes, in which case current is returned
// and changed is false.
func (l *Loader) LoadIfChanged(ctx context.Context, ref Reference, current *Compiled) (c *Compiled, changed bool, err error) {
	if err := ref.Validate(); err != nil {
		return l.fail(ref, PhaseReference, err)
	}

	src, err := l.resolver.Resolve(ctx, ref)
	if err != nil {
		return l.fail(ref, PhaseResolve, err)
	}

	digest := digestOf(src)
	if current != nil && current.ref == ref && current.digest == digest {
		l.logger.Debug().
			Str("reference", ref.String()).
			Str("digest", digest).
			Msg("Schema source unchanged, keeping compiled schema")
		return current, false, nil
	}

	compiled, err := compile(src)
	if err != nil {
		return l.fail(ref, phaseOf(err), err)
	}

	c = &Compiled{
		ref:      ref,
		digest:   digest,
		loadedAt: time.Now().UTC(),
		schema:   compiled,
	}
	l.metrics.RecordSchemaLoad("success")
	l.logger.Info().
		Str("reference", ref.String()).
		Str("digest", digest).
		Msg("Schema compiled")
	return c, true, nil
}

func (l *Loader) fail(ref Reference, phase string, err error) (*Compiled, bool, error) {
	l.metrics.RecordSchemaLoad("failure")
	l.logger.Error().
		Err(err).
		Str("reference", ref.String()).
		Str("phase", phase).
		Msg("Schema load failed")
	return nil, false, &LoadError{Reference: ref, Phase: phase, Err: err}
}

type parseError struct{ err error }

func (e parseError) Error() string { return e.err.Error() }
func (e parseError) Unwrap() error { return e.err }

func phaseOf(err error) string {
	switch err.(type) {
	case parseError:
		return PhaseParse
	case structureError:
		return PhaseStructure
	default:
		return PhaseCompile
	}
}

func compile(src []byte) (*jsonschema.Schema, error) {
	var root any
	if err := json.Unmarshal(src, &root); err != nil {
		return nil, parseError{fmt.Errorf("schema is not valid JSON: %w", err)}
	}
	switch root.(type) {
	case map[string]any, bool:
	default:
		return nil, fmt.Errorf("schema root must be an object or a boolean, got %s", jsonTypeName(root))
	}
	if err := checkStructure(root); err != nil {
		return nil, err
	}

	s, err := jsonschema.NewCompiler().SetAssertFormat(true).Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	// Compile leaves a $ref it cannot follow dangling; evaluation would then
	// skip it and pass every document.
	if uris := s.GetUnresolvedReferenceURIs(); len(uris) > 0 {
		return nil, fmt.Errorf("unresolved references: %s", strings.Join(uris, ", "))
	}
	return s, nil
}

func digestOf(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
