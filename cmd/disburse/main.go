package main

import (
	// Go Internal Packages
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Local Packages
	config "disburse-engine/config"
	kafka "disburse-engine/kafka"
	providers "disburse-engine/providers"
	mongodb "disburse-engine/repositories/mongodb"
	redis "disburse-engine/repositories/redis"
	server "disburse-engine/server"
	audit "disburse-engine/services/audit"
	batcher "disburse-engine/services/batcher"
	intake "disburse-engine/services/intake"
	lifecycle "disburse-engine/services/lifecycle"
	processors "disburse-engine/services/processors"
	recon "disburse-engine/services/recon"
	retry "disburse-engine/services/retry"

	// External Packages
	"github.com/alecthomas/kingpin/v2"
	_ "github.com/jsternberg/zap-logfmt"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
)

var (
	configPath         = kingpin.Flag("config", "Path to the application config file").Short('c').Default("config.yml").String()
	settlementFile     = kingpin.Flag("settlement-file", "Settlement report to reconcile; runs one ingestion and exits").String()
	settlementProvider = kingpin.Flag("settlement-provider", "Provider code the settlement report belongs to").String()
)

// LoadConfig loads the default configuration and overrides it with the config file
// specified by the path defined in the config flag
func LoadConfig() *koanf.Koanf {
	kingpin.Parse()
	k := koanf.New(".")
	_ = k.Load(rawbytes.Provider(config.DefaultConfig), yaml.Parser())
	if *configPath != "" {
		_ = k.Load(file.Provider(*configPath), yaml.Parser())
	}
	return k
}

func main() {
	k := LoadConfig()
	appKonf := config.Config{}

	// Unmarshalling config into struct
	err := k.Unmarshal("", &appKonf)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// Validate the config loaded
	if err = appKonf.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if !appKonf.IsProdMode {
		k.Print()
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "logfmt"
	_ = cfg.Level.UnmarshalText([]byte(k.String("logger.level")))
	cfg.InitialFields = make(map[string]any)
	cfg.InitialFields["host"], _ = os.Hostname()
	cfg.InitialFields["service"] = appKonf.Application
	cfg.OutputPaths = []string{"stdout"}
	logger, _ := cfg.Build()
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Mongo Connection
	mongoClient, err := mongodb.Connect(ctx, appKonf.Mongo.URI)
	if err != nil {
		logger.Fatal("cannot create mongo client", zap.Error(err))
	}

	// Redis Connection
	redisClient, err := redis.Connect(ctx, appKonf.Redis.URI, appKonf.Redis.Password)
	if err != nil {
		logger.Fatal("cannot create redis client", zap.Error(err))
	}

	ledgerRepo := mongodb.NewLedgerRepo(mongoClient, logger)
	if err := ledgerRepo.EnsureIndexes(ctx); err != nil {
		logger.Fatal("cannot ensure ledger indexes", zap.Error(err))
	}
	batchRepo := mongodb.NewBatchRepo(mongoClient, logger)
	auditRepo := mongodb.NewAuditRepo(mongoClient, logger)
	reconRepo := mongodb.NewReconRepo(mongoClient, logger)

	dlQueue := redis.NewDeadLetterQueue(redisClient, logger)
	retryQueue := redis.NewRetryQueue(redisClient, logger)
	guardRepo := redis.NewGuardRepo(redisClient)
	quarantine := redis.NewQuarantine(redisClient, logger)

	// All provider signals, whatever the transport, converge here.
	events := make(chan providers.Event, 256)

	registry := providers.NewRegistry(logger)
	webhooks := make(map[string]http.Handler)
	for _, p := range appKonf.Providers {
		switch p.Kind {
		case "webhook":
			wallet := providers.NewMockWallet(p.Code, p.WebhookSecret, logger)
			registry.Register(providers.NewGuarded(wallet, guardRepo, logger))
			webhooks[p.Code] = wallet.WebhookHandler(events)
		default:
			bank := providers.NewMockBank(p.Code, time.Duration(p.SettleSeconds)*time.Second, logger)
			registry.Register(providers.NewGuarded(bank, guardRepo, logger))
		}
	}

	recorder := audit.NewRecorder(auditRepo, logger)
	engine := lifecycle.NewEngine(ledgerRepo, recorder, reconRepo, logger)

	reconEngine := recon.NewEngine(ledgerRepo, reconRepo, reconRepo, quarantine, engine,
		registry, time.Duration(appKonf.Recon.GraceSeconds)*time.Second, logger)

	// One-shot reconciliation mode: ingest the report and exit.
	if *settlementFile != "" {
		if *settlementProvider == "" {
			logger.Fatal("--settlement-provider is required with --settlement-file")
		}
		f, err := os.Open(*settlementFile)
		if err != nil {
			logger.Fatal("cannot open settlement file", zap.Error(err))
		}
		defer f.Close()

		summary, err := reconEngine.IngestReport(ctx, *settlementProvider, f)
		if err != nil {
			logger.Fatal("settlement ingestion failed", zap.Error(err))
		}
		logger.Info("settlement report reconciled",
			zap.String("provider", *settlementProvider),
			zap.Int("rows", summary.RowsRead),
			zap.Int("applied", summary.Applied),
			zap.Int("quarantined", summary.Quarantined),
			zap.Int("exceptions", summary.Exceptions))
		return
	}

	scheduler := retry.NewScheduler(retry.Config{
		BaseInterval: time.Duration(appKonf.Retry.BaseIntervalSeconds) * time.Second,
		MaxInterval:  time.Duration(appKonf.Retry.MaxIntervalSeconds) * time.Second,
		MaxAttempts:  appKonf.Retry.MaxAttempts,
		SLAWindow:    time.Duration(appKonf.SLA.WindowSeconds) * time.Second,
		PollEvery:    time.Duration(appKonf.Retry.PollSeconds) * time.Second,
		BatchLimit:   appKonf.Retry.BatchLimit,
	}, retryQueue, ledgerRepo, registry, engine, logger)

	dispatcher := batcher.NewDispatcher(registry, engine, ledgerRepo, batchRepo,
		scheduler, events, appKonf.Batch.QueueSize, logger)
	scheduler.BindResubmitter(dispatcher)

	builder := batcher.NewBuilder(batcher.Config{
		MaxSize: appKonf.Batch.MaxSize,
		Cutoff:  time.Duration(appKonf.Batch.CutoffSeconds) * time.Second,
	}, batchRepo, ledgerRepo, dispatcher, logger)

	canceller := batcher.NewCycleCanceller(builder, ledgerRepo, registry, engine, events, logger)

	intakeSvc := intake.NewService(ledgerRepo, builder, recorder,
		appKonf.Currency, appKonf.AmountScale, logger)

	promRegistry := prometheus.NewRegistry()
	metrics := kprom.NewMetrics(appKonf.Application, kprom.Registry(promRegistry))

	go engine.Run(ctx, events)
	go builder.Run(ctx)
	dispatcher.Start(ctx, registry.Codes())
	go dispatcher.RunCompletionSweep(ctx, time.Duration(appKonf.Batch.CutoffSeconds)*time.Second)
	go scheduler.Run(ctx)
	go reconEngine.RunSweep(ctx, time.Duration(appKonf.Recon.SweepSeconds)*time.Second)
	go healthLoop(ctx, registry)

	if appKonf.Kafka.Consume {
		conf := &kafka.ConsumerConfig{
			Brokers:        appKonf.Kafka.Brokers,
			Name:           appKonf.Kafka.ConsumerName,
			Topic:          appKonf.Kafka.Topic,
			RecordsPerPoll: appKonf.Kafka.RecordsPerPoll,
		}
		processor := processors.NewRequestProcessor(logger, intakeSvc, dlQueue)
		consumer, err := kafka.NewRequestConsumer(conf, processor, metrics, logger)
		if err != nil {
			logger.Fatal("cannot create request consumer", zap.Error(err))
		}
		go func() {
			if err := consumer.Poll(ctx); err != nil {
				logger.Error("request consumer stopped", zap.Error(err))
				stop()
			}
		}()
	}

	srv := server.New(intakeSvc, ledgerRepo, reconEngine, engine, retryQueue, guardRepo,
		recorder, canceller, webhooks, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}), logger)

	if err := srv.Run(ctx, appKonf.Server.Addr); err != nil {
		logger.Error("http server failed", zap.Error(err))
	}

	// Seal whatever is still assembling so no reserved work is stranded
	// in memory across a restart.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	builder.Flush(flushCtx)
}

func healthLoop(ctx context.Context, registry *providers.Registry) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	registry.CheckHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.CheckHealth(ctx)
		}
	}
}
