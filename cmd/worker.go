package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/tradedesk/services/deals/config"
	"example.com/tradedesk/services/deals/internal/database"
	"example.com/tradedesk/services/deals/internal/messaging"
	"example.com/tradedesk/services/deals/internal/metrics"
	"example.com/tradedesk/services/deals/internal/repositories"
	"example.com/tradedesk/services/deals/internal/search"
	"example.com/tradedesk/services/deals/internal/services"
	"example.com/tradedesk/services/deals/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to process queued deal submissions and reconcile the search index`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
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

	// Initialize repositories and services
	dealRepo := repositories.NewDealRepository(db, readOnlyDB)
	refRepo := repositories.NewReferenceRepository(db, readOnlyDB)

	dealService := services.NewDealService(dealRepo, refRepo, dealIndex, metricsCollector, tracer)

	// Initialize Azure Service Bus client
	serviceBus, err := messaging.NewServiceBus(cfg.Azure)
	if err != nil {
		return err
	}
	defer serviceBus.Close()

	// Start the service bus processor
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting Azure Service Bus processor")
		return serviceBus.ProcessMessages(ctx, dealService.ProcessDealMessage)
	})

	// Start the index reconciliation cron job as a fallback mechanism
	g.Go(func() error {
		log.Info().Msg("Starting index reconciliation cron job as fallback mechanism")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		// Immediate indexing handles the common path, so the job only needs
		// to sweep for stragglers every few minutes.
		_, err = scheduler.NewJob(
			gocron.DurationJob(5*time.Minute),
			gocron.NewTask(func() {
				log.Info().Msg("Running fallback reconciliation job to catch any unindexed deals")
				if err := dealService.ReconcileIndex(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to reconcile index in fallback job")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
