package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/tradedesk/services/deals/config"
	"example.com/tradedesk/services/deals/internal/api"
	"example.com/tradedesk/services/deals/internal/cache"
	"example.com/tradedesk/services/deals/internal/database"
	"example.com/tradedesk/services/deals/internal/metrics"
	"example.com/tradedesk/services/deals/internal/repositories"
	"example.com/tradedesk/services/deals/internal/search"
	"example.com/tradedesk/services/deals/internal/services"
	"example.com/tradedesk/services/deals/internal/tracing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server handling deal submissions and reference data`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize database connections
	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = &cache.RedisCache{}
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = &tracing.NewRelicTracer{}
	}

	// Initialize Elasticsearch client
	var dealIndex services.DealIndex
	if elasticClient, err := search.NewElasticClient(cfg.Elastic); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	} else {
		dealIndex = elasticClient
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()
	metricsCollector.SetHealthCheck("database", true)

	// Initialize repositories and services
	dealRepo := repositories.NewDealRepository(db, readOnlyDB)
	refRepo := repositories.NewReferenceRepository(db, readOnlyDB)
	svRepo := repositories.NewSchemaVersionRepository(db, readOnlyDB)

	dealService := services.NewDealService(dealRepo, refRepo, dealIndex, metricsCollector, tracer)
	refService := services.NewReferenceService(refRepo, svRepo, redisCache, metricsCollector)

	// Make sure the contract version registry is never empty
	if err := refService.EnsureVersionSeeded(ctx); err != nil {
		return err
	}

	// Initialize and start the server
	server := api.NewServer(cfg, dealService, refService, metricsCollector, tracer)

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}
