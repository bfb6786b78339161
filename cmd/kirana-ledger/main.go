package main

import (
	// Go Internal Packages
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	// Local Packages
	config "kirana-ledger/config"
	kafka "kirana-ledger/kafka"
	ledger "kirana-ledger/ledger"
	metrics "kirana-ledger/metrics"
	"kirana-ledger/repositories/memory"
	mongodb "kirana-ledger/repositories/mongodb"
	redis "kirana-ledger/repositories/redis"
	server "kirana-ledger/server"
	aggregate "kirana-ledger/services/aggregate"
	pipeline "kirana-ledger/services/pipeline"
	processors "kirana-ledger/services/processors"
	risk "kirana-ledger/services/risk"

	// External Packages
	"github.com/alecthomas/kingpin/v2"
	_ "github.com/jsternberg/zap-logfmt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// stores bundles the persistence the pipeline needs, whichever backend provides it.
type stores struct {
	events     pipeline.EventStore
	links      pipeline.LinkStore
	aggregates aggregate.Store
}

func main() {
	configPathMsg := "Path to the application config file"
	configPath := kingpin.Flag("config", configPathMsg).Short('c').Default("config.yml").String()
	kingpin.Parse()

	k, appKonf, err := config.Load(*configPath)
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
	_ = cfg.Level.UnmarshalText([]byte(appKonf.Logger.Level))
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics := metrics.New(registry)

	checks := map[string]server.Check{}

	// Local store
	var st stores
	switch appKonf.Store.Mode {
	case config.ModeMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		mem := memory.NewStore()
		st = stores{events: mem, links: mem, aggregates: mem}
	default:
		mongoClient, err := mongodb.Connect(ctx, appKonf.Mongo.URI)
		if err != nil {
			logger.Fatal("cannot create mongo client", zap.Error(err))
		}
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()

		if err := mongodb.EnsureIndexes(ctx, mongoClient.Database(appKonf.Mongo.Database)); err != nil {
			logger.Fatal("cannot create mongo indexes", zap.Error(err))
		}
		st = stores{
			events:     mongodb.NewEventRepository(mongoClient, appKonf.Mongo.Database),
			links:      mongodb.NewLinkRepository(mongoClient, appKonf.Mongo.Database),
			aggregates: mongodb.NewAggregateRepository(mongoClient, appKonf.Mongo.Database),
		}
		checks["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }
	}

	// Redis: operator queue and sweep lease
	var (
		dlQueue *redis.DeadLetterQueue
		lease   pipeline.Lease
	)
	if appKonf.Redis.URI != "" {
		redisClient, err := redis.Connect(ctx, appKonf.Redis.URI, appKonf.Redis.Password)
		if err != nil {
			logger.Fatal("cannot create redis client", zap.Error(err))
		}
		defer func() { _ = redisClient.Close() }()

		dlQueue = redis.NewDeadLetterQueue(redisClient, logger)
		lease = redis.NewLease(redisClient, appKonf.Application+"-sweeper")
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		logger.Warn("redis not configured, failed events are only logged")
	}

	// Ledger
	var transport ledger.Transport
	switch appKonf.Ledger.Mode {
	case config.ModeMemory:
		logger.Warn("using in-memory ledger")
		transport = ledger.NewMemoryLedger()
	default:
		transport = ledger.NewHTTPTransport(appKonf.Ledger.URL, appKonf.Ledger.Timeout)
	}
	ledgerClient := ledger.NewClient(transport, appKonf.Ledger.Timeout, logger, pipelineMetrics)
	checks["ledger"] = ledgerClient.Status

	if appKonf.Kafka.CreateTopics {
		err := kafka.EnsureTopics(ctx, &kafka.TopicConfig{
			Brokers:           appKonf.Kafka.Brokers,
			Topics:            []string{appKonf.Kafka.Topic, appKonf.Kafka.ConfirmedTopic},
			Partitions:        appKonf.Kafka.Partitions,
			ReplicationFactor: appKonf.Kafka.Replication,
		}, logger)
		if err != nil {
			logger.Fatal("cannot create kafka topics", zap.Error(err))
		}
	}

	// Confirmed-event stream
	var notifier pipeline.Notifier
	if appKonf.Kafka.Publish {
		publisher, err := kafka.NewConfirmedPublisher(&kafka.ProducerConfig{
			Brokers: appKonf.Kafka.Brokers,
			Topic:   appKonf.Kafka.ConfirmedTopic,
		}, kprom.NewMetrics("kirana_producer", kprom.Registerer(registry), kprom.Gatherer(registry)), logger)
		if err != nil {
			logger.Fatal("cannot create confirmed-event producer", zap.Error(err))
		}
		defer publisher.Close()
		notifier = publisher
	}

	queue := pipeline.NewQueue(appKonf.Pipeline.Lanes, appKonf.Pipeline.LaneBuffer, logger)
	queue.Start(ctx)
	defer queue.Close()

	updater := aggregate.NewUpdater(st.aggregates, pipeline.NewSnapshotAnchorer(queue, ledgerClient), aggregate.Config{
		AnchorEvery:     appKonf.Aggregate.AnchorEvery,
		ConflictRetries: appKonf.Aggregate.ConflictRetries,
		SeenWindow:      appKonf.Aggregate.SeenWindow,
	}, logger, pipelineMetrics)

	policy := risk.DefaultPolicy()
	policy.Threshold = appKonf.Pipeline.RiskThreshold

	deps := pipeline.Deps{
		Events:     st.events,
		Links:      st.links,
		Ledger:     ledgerClient,
		Scorer:     risk.NewEvaluator(policy),
		Queue:      queue,
		Aggregates: updater,
		Notifier:   notifier,
		Logger:     logger,
		Metrics:    pipelineMetrics,
	}
	if dlQueue != nil {
		deps.Failures = dlQueue
	}
	orchestrator := pipeline.NewOrchestrator(deps, pipeline.Config{
		ScoreRetries:  appKonf.Pipeline.ScoreRetries,
		MaxAttempts:   appKonf.Pipeline.MaxAttempts,
		MaxAmount:     appKonf.Pipeline.MaxAmount,
		BackoffBase:   appKonf.Pipeline.BackoffBase,
		BackoffCap:    appKonf.Pipeline.BackoffCap,
		HistoryWindow: appKonf.Pipeline.HistoryWindow,
		TimeBucket:    appKonf.Pipeline.TimeBucket,
	})

	sweeper := pipeline.NewSweeper(orchestrator, updater, lease, pipeline.SweeperConfig{
		Interval:    appKonf.Sweeper.Interval,
		GracePeriod: appKonf.Sweeper.GracePeriod,
		BatchSize:   appKonf.Sweeper.BatchSize,
		LeaseTTL:    appKonf.Sweeper.LeaseTTL,
	}, logger, pipelineMetrics)

	handler := server.New(orchestrator, updater, logger).WithMetrics(registry)
	for name, check := range checks {
		handler.WithCheck(name, check)
	}
	if dlQueue != nil {
		handler.WithFailedEvents(dlQueue)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		return server.Serve(gctx, server.Config{
			Addr:         appKonf.HTTP.Addr,
			ReadTimeout:  appKonf.HTTP.ReadTimeout,
			WriteTimeout: appKonf.HTTP.WriteTimeout,
		}, handler.Routes(), logger)
	})

	if appKonf.Kafka.Consume {
		var poison processors.PoisonQueue
		if dlQueue != nil {
			poison = dlQueue
		}
		eventProcessor := processors.NewEventProcessor(logger, orchestrator, poison)
		consumer, err := kafka.NewEventConsumer(&kafka.ConsumerConfig{
			Brokers:        appKonf.Kafka.Brokers,
			Name:           appKonf.Kafka.ConsumerName,
			Topic:          appKonf.Kafka.Topic,
			RecordsPerPoll: appKonf.Kafka.RecordsPerPoll,
		}, eventProcessor, kprom.NewMetrics("kirana_consumer", kprom.Registerer(registry), kprom.Gatherer(registry)), logger)
		if err != nil {
			logger.Fatal("cannot create candidate-event consumer", zap.Error(err))
		}
		g.Go(func() error { return consumer.Poll(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("shutting down", zap.Error(err))
	}
	logger.Info("kirana-ledger stopped")
}
