package routing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"json-validator-service/internal/flow"
	"json-validator-service/internal/observability/logging"
	"json-validator-service/internal/provenance"
	"json-validator-service/internal/schema"
)

// Router assigns each document exactly one successor path.
type Router struct {
	component string
	reporter  provenance.Reporter
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRouter creates a router that reports lineage to reporter.
// component names the stage in provenance events.
func NewRouter(component string, reporter provenance.Reporter) *Router {
	if reporter == nil {
		reporter = provenance.Discard{}
	}
	return &Router{
		component: component,
		reporter:  reporter,
		logger:    logging.WithComponent("router"),
		now:       time.Now,
	}
}

// Route picks the successor path for doc. An invalid verdict stores its
// diagnostic under ErrorAttribute, replacing any earlier value; a valid
// verdict leaves the document untouched.
func (r *Router) Route(ctx context.Context, doc *flow.Document, v schema.Verdict) Path {
	path := Valid
	logger := logging.WithDocument(r.logger, doc.ID(), attr(doc, flow.AttrFilename))

	if v.IsValid() {
		logger.Debug().Msg("Successfully validated document against schema; routing to 'valid'")
	} else {
		path = Invalid
		if v.Diagnostic == "" {
			v.Diagnostic = "document failed validation (" + v.Kind.String() + ")"
		}
		doc.SetAttribute(ErrorAttribute, v.Diagnostic)
		logger.Info().
			Str("kind", v.Kind.String()).
			Str("diagnostic", v.Diagnostic).
			Msg("Failed to validate document against schema; routing to 'invalid'")
	}

	r.reporter.Report(ctx, provenance.Event{
		Type:         provenance.EventRoute,
		DocumentID:   doc.ID(),
		Relationship: path.String(),
		Details:      v.Diagnostic,
		Component:    r.component,
		Timestamp:    r.now().UTC(),
	})
	return path
}

func attr(doc *flow.Document, key string) string {
	v, _ := doc.Attribute(key)
	return v
}
