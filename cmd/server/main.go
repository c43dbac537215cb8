package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/api"
	"github.com/Rrens/meeting-assistant/internal/api/handler"
	"github.com/Rrens/meeting-assistant/internal/channel"
	"github.com/Rrens/meeting-assistant/internal/config"
	"github.com/Rrens/meeting-assistant/internal/domain"
	"github.com/Rrens/meeting-assistant/internal/hub"
	"github.com/Rrens/meeting-assistant/internal/llm/gemini"
	"github.com/Rrens/meeting-assistant/internal/logger"
	"github.com/Rrens/meeting-assistant/internal/metrics"
	"github.com/Rrens/meeting-assistant/internal/persistence"
	"github.com/Rrens/meeting-assistant/internal/provider/recall"
	"github.com/Rrens/meeting-assistant/internal/registry"
	"github.com/Rrens/meeting-assistant/internal/repository/mongo"
	"github.com/Rrens/meeting-assistant/internal/repository/postgres"
	"github.com/Rrens/meeting-assistant/internal/repository/redis"
	"github.com/Rrens/meeting-assistant/internal/repository/sqlstore"
	"github.com/Rrens/meeting-assistant/internal/service"
	"github.com/Rrens/meeting-assistant/internal/stt"
	"github.com/Rrens/meeting-assistant/internal/transcript"
)

func main() {
	// Load .env file - try multiple locations
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			fmt.Printf("Loaded .env from: %s\n", p)
			break
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logCloser, err := logger.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("provider", cfg.Provider.Name).
		Str("database", cfg.Database.Driver).
		Msg("Starting meeting assistant server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	m := metrics.NewNop()
	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
		gatherer = reg
	}

	ready := map[string]handler.Pinger{}

	// Meeting store
	repo, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to open meeting store")
	}
	if repo != nil {
		defer repo.Close()
		ready["database"] = repo
	} else {
		log.Warn().Msg("No meeting store configured, transcripts will not be persisted")
	}

	// Redis backs dedup and rate limiting when enabled
	var (
		dedup       transcript.Deduper = transcript.NewMemoryDeduper(cfg.Transcript.DedupTTL)
		rateLimiter *redis.RateLimiter
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		ready["redis"] = redisClient
		dedup = redis.NewSegmentDeduper(redisClient, cfg.Transcript.DedupTTL)
		rateLimiter = redis.NewRateLimiter(
			redisClient,
			cfg.Security.RateLimit.RequestsPerMinute,
			cfg.Security.RateLimit.Burst,
		)
	}

	// Transcript path: normalizer -> pipeline -> (store, hub)
	recorder := persistence.New(repo, gemini.NewProvider(cfg.LLM.Gemini), cfg.Persistence, m)
	liveHub := hub.New(m)
	liveLine := transcript.NewLiveLine()
	pipeline := transcript.NewPipeline(dedup, recorder, liveHub, liveLine, m)
	sessions := registry.New()
	normalizer := transcript.NewNormalizer(sessions, pipeline, m)

	// Bot lifecycle
	gateway := recall.NewClient(cfg.Provider)
	strategy := channel.New(cfg, gateway, sessions, normalizer, liveHub, m)
	controller := service.NewController(gateway, sessions, strategy, recorder, liveHub, pipeline, m)
	ingest := service.NewWebhookIngest(gateway.Name(), normalizer, controller, cfg.Persistence.QueueSize, m)

	var reconciler *service.Reconciler
	if cfg.Reconciler.Enabled {
		reconciler, err = service.NewReconciler(cfg.Reconciler.Schedule, gateway, sessions, controller)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule status reconciler")
		}
		reconciler.Start()
	}

	// Direct transcription over the realtime channel
	var dial service.DialFunc
	if sttClient := stt.New(cfg.STT); sttClient.IsConfigured() {
		dial = service.STTDialer(sttClient)
	}
	live := service.NewLiveSessions(dial, normalizer, recorder, pipeline)
	realtime := service.NewRealtime(liveHub, controller, live)
	realtime.VerifiedOnly = cfg.Auth.JWTSecret != ""

	deps := api.Dependencies{
		Bots:     controller,
		Live:     liveLine,
		Webhooks: ingest,
		Realtime: handler.NewRealtimeHandler(ctx, realtime, cfg.Realtime),
		Ready:    ready,
		Gatherer: gatherer,
	}
	if repo != nil {
		deps.Meetings = repo
	}
	if rateLimiter != nil {
		deps.RateLimiter = rateLimiter
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if reconciler != nil {
		reconciler.Stop()
	}
	controller.ShutdownSweep(shutdownCtx)
	live.StopAll()
	ingest.Close()
	waitReaders(shutdownCtx, strategy)
	liveHub.Shutdown()
	cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	recorder.Shutdown(shutdownCtx)

	log.Info().Msg("Server stopped")
}

// waitReaders lets stream readers finish emitting before the recorder closes
func waitReaders(ctx context.Context, strategy channel.Strategy) {
	done := make(chan struct{})
	go func() {
		strategy.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("transcript stream readers still running at shutdown deadline")
	}
}

// openStore connects the configured meeting store. It returns nil when
// persistence is disabled.
func openStore(ctx context.Context, cfg *config.Config) (domain.MeetingRepository, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		if err := postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath); err != nil {
			return nil, err
		}
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return postgres.NewMeetingRepository(db), nil
	case config.DriverMySQL, config.DriverSQLite:
		store, err := sqlstore.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMongo:
		store, err := mongo.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}
