package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ahinestrog/backoffice/internal/catalog"
	"github.com/ahinestrog/backoffice/internal/commit"
	"github.com/ahinestrog/backoffice/internal/config"
	"github.com/ahinestrog/backoffice/internal/events"
	"github.com/ahinestrog/backoffice/internal/httpapi"
	"github.com/ahinestrog/backoffice/internal/observability"
	"github.com/ahinestrog/backoffice/internal/store"
	"github.com/ahinestrog/backoffice/internal/store/bolt"
	"github.com/ahinestrog/backoffice/internal/store/sqlite"
)

func main() {
	// Logger
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := config.LoadConfig()
	must(cfg.Validate())
	zerolog.SetGlobalLevel(cfg.LogLevel)
	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Str("store", cfg.StoreBackend).
		Str("db", cfg.DBPath).
		Str("events", cfg.EventsBackend).
		Msg("starting back-office service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTelEndpoint,
		AuthHeader:  cfg.OTelAuthHeader,
	})
	must(err)

	// Repo
	repo, err := openStore(ctx, cfg)
	must(err)
	defer repo.Close()

	if cfg.SeedOnStart {
		must(repo.Seed(ctx))
		log.Info().Msg("seeded demo catalog")
	}

	publisher, err := openPublisher(cfg)
	must(err)
	defer publisher.Close()

	committer := commit.New(repo,
		commit.WithPublisher(publisher),
		commit.WithLogger(log.Logger.With().Str("component", "commit").Logger()),
		commit.WithTxTimeout(cfg.TxTimeout),
	)
	cache := catalog.New(repo, cfg.CatalogCacheSize, cfg.CatalogCacheTTL)
	api := httpapi.NewServer(repo, cache, committer, log.Logger.With().Str("component", "http").Logger(),
		httpapi.WithCartTTL(cfg.CartTTL),
		httpapi.WithCartLimit(cfg.CartLimit),
	)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(cfg.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// gRPC: solo health y reflection
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	must(err)
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(cfg.ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		log.Info().Msg("gRPC listening")
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc server stopped")
		}
	}()
	go func() {
		log.Info().Msg("HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Warn().Msg("shutting down...")
	healthSrv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	grpcSrv.GracefulStop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "bolt":
		return bolt.Open(cfg.DBPath)
	default:
		return sqlite.Open(ctx, cfg.DBDriver, cfg.DBPath)
	}
}

func openPublisher(cfg config.Config) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case "rabbit":
		return events.NewRabbit(cfg.RabbitURL, cfg.RabbitExchange)
	case "kafka":
		return events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return events.Nop{}, nil
	}
}

func must(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
