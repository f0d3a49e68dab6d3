package app

import (
	"context"
	"time"

	"json-validator-service/internal/config"
	"json-validator-service/internal/observability/logging"
	"json-validator-service/internal/stage"

	"github.com/rs/zerolog"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
	Stage       *stage.Stage
}

// New constructs a new Application from the provided configuration and stage.
func New(cfg *config.Configuration, st *stage.Stage) *Application {
	a := &Application{
		Cfg:   cfg,
		Stage: st,
	}
	a.Logger = logging.Logger().With().
		Str("service", "json-validator-service").
		Str("component", "application").
		Logger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().
		Str("stage", st.Name()).
		Str("logLevel", cfg.Observability.LogLevel).
		Msg("JSON validator service application created")
	return a
}

// SetupLogging configures the global logger from cfg. It runs before any
// component logger is derived.
func SetupLogging(cfg *config.Configuration) {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
}

// Start configures the stage. A schema that cannot be loaded is returned as
// an error and the service must not start routing.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("schemaReference", a.Cfg.Stage.SchemaReference).
		Msg("JSON validator service starting")

	err := a.Stage.Configure(ctx, map[string]string{
		stage.PropertySchemaReference: a.Cfg.Stage.SchemaReference,
	})
	if err != nil {
		startLogger.Error().Err(err).Msg("Stage activation failed")
		return err
	}

	startLogger.Info().
		Str("digest", a.Stage.Status().Digest).
		Msg("Stage ready")
	return nil
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().
		Dur("uptime", time.Since(a.StartupTime)).
		Msg("JSON validator service shutting down")
}
