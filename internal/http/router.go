package http

import (
	"errors"
	"io"
	"net/http"

	"json-validator-service/internal/app"
	"json-validator-service/internal/models"
	"json-validator-service/internal/routing"
	"json-validator-service/internal/schema"
	"json-validator-service/internal/stage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaxValidateBody caps the request body accepted by POST /v1/validate.
const MaxValidateBody = 10 << 20

// Option configures the router.
type Option func(*routerOptions)

type routerOptions struct {
	gatherer prometheus.Gatherer
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *routerOptions) { o.gatherer = g }
}

// StageInfo is the body of GET /v1/stage.
type StageInfo struct {
	stage.Status
	Relationships []routing.Relationship `json:"relationships"`
	Properties    []stage.Property       `json:"properties"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, opts ...Option) http.Handler {
	o := routerOptions{gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&o)
	}
	st := application.Stage

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !st.State().AcceptsDocuments() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(st.State().String()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stage", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, StageInfo{
				Status:        st.Status(),
				Relationships: st.Relationships(),
				Properties:    stage.Properties(),
			})
		})

		r.Post("/validate", func(w http.ResponseWriter, req *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, MaxValidateBody))
			if err != nil {
				writeError(w, http.StatusRequestEntityTooLarge, err)
				return
			}

			verdict, err := st.Check(body)
			if errors.Is(err, stage.ErrStageNotReady) {
				writeError(w, http.StatusServiceUnavailable, err)
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, validationResponse(verdict))
		})
	})

	return r
}

func validationResponse(v schema.Verdict) models.ValidationResponse {
	path := routing.Valid
	if !v.IsValid() {
		path = routing.Invalid
	}

	resp := models.ValidationResponse{
		Valid:        v.IsValid(),
		Kind:         v.Kind.String(),
		Relationship: path.String(),
		Diagnostic:   v.Diagnostic,
	}
	for _, vi := range v.Violations {
		resp.Violations = append(resp.Violations, models.ValidationProblem{
			InstanceLocation: vi.InstanceLocation,
			Keyword:          vi.Keyword,
			Message:          vi.Message,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
