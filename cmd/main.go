package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"json-validator-service/internal/app"
	"json-validator-service/internal/config"
	"json-validator-service/internal/engine"
	"json-validator-service/internal/events"
	apphttp "json-validator-service/internal/http"
	"json-validator-service/internal/observability"
	"json-validator-service/internal/observability/metrics"
	"json-validator-service/internal/provenance"
	"json-validator-service/internal/routing"
	"json-validator-service/internal/schema"
	"json-validator-service/internal/stage"
)

const healthServiceName = "json.validator.Stage"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	app.SetupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	policy, err := stage.ParseUnreadablePolicy(cfg.Stage.UnreadablePolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid unreadable policy")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Routed documents and provenance events share one publisher
	publisher := events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicValid:      cfg.Kafka.TopicValid,
		TopicInvalid:    cfg.Kafka.TopicInvalid,
		TopicProvenance: cfg.Kafka.TopicProvenance,
		Principal:       cfg.Kafka.Principal,
	})
	defer publisher.Close()

	healthServer := health.NewServer()
	setHealth := func(s stage.State) {
		status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
		if s.AcceptsDocuments() {
			status = grpc_health_v1.HealthCheckResponse_SERVING
		}
		healthServer.SetServingStatus("", status)
		healthServer.SetServingStatus(healthServiceName, status)
	}
	setHealth(stage.StateUnconfigured)

	files := schema.FileResolver{BaseDir: cfg.Stage.SchemaDir}
	loader := schema.NewLoader(schema.DefaultResolver{Files: files}, metrics.DefaultMetrics)
	reporter := provenance.Multi{provenance.NewLogReporter(), publisher}
	st := stage.New(cfg.Stage.Name, loader, routing.NewRouter(cfg.Stage.Name, reporter),
		stage.WithUnreadablePolicy(policy),
		stage.WithStateListener(setHealth),
	)

	application := app.New(cfg, st)
	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Stage could not be activated")
	}

	httpServer := observability.NewServer(cfg.Service.HTTPAddr, apphttp.NewRouter(application))
	httpServer.Start()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(observability.UnaryServerInterceptor()))
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(grpcServer)

	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server started")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	ref := schema.Reference(cfg.Stage.SchemaReference)
	if cfg.Stage.WatchSchema && !ref.IsInline() {
		watcher, err := stage.NewWatcher(st, files.Path(ref), cfg.Stage.ReloadDebounce)
		if err != nil {
			log.Warn().Err(err).Msg("Schema watching disabled")
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	if cfg.Kafka.Enabled {
		session := engine.NewKafkaSession(engine.KafkaConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.InputTopic,
			GroupID:     cfg.Kafka.GroupID,
			PollTimeout: time.Second,
		}, publisher)
		defer session.Close()

		runner := engine.NewRunner(st, session, cfg.Stage.Workers, cfg.Stage.PollInterval)
		g.Go(func() error { return runner.Run(gctx) })
	} else {
		log.Warn().Msg("Kafka disabled, no document source; serving dry-run validation only")
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Pipeline stopped with error")
		stop()
	}
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	healthServer.Shutdown()
	application.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	grpcServer.GracefulStop()
}
