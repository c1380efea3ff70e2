package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/client"

	"github.com/illmade-knight/go-batchrelay/pkg/batchsource"
	"github.com/illmade-knight/go-batchrelay/pkg/callback"
	"github.com/illmade-knight/go-batchrelay/pkg/config"
	"github.com/illmade-knight/go-batchrelay/pkg/customer"
	"github.com/illmade-knight/go-batchrelay/pkg/logging"
	"github.com/illmade-knight/go-batchrelay/pkg/messagepipeline"
	"github.com/illmade-knight/go-batchrelay/pkg/processor"
	"github.com/illmade-knight/go-batchrelay/pkg/telemetry"
	"github.com/illmade-knight/go-batchrelay/pkg/tracelink"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logging.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", cfg.Telemetry.ServiceName).Logger()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("batch processor finished with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	tp, shutdownTracing, err := telemetry.NewTracerProvider(ctx, &cfg.Telemetry, log.With().Str("component", "telemetry").Logger())
	if err != nil {
		return err
	}
	defer shutdownTracing()

	store, closeStore, err := newStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	handler := customer.NewHandler(store, cfg.Sink.SimulatedWork, log.With().Str("component", "customer-handler").Logger())
	proc, err := processor.New[customer.CustomerCreatedEvent](
		handler,
		tracelink.NewLinker(tp, log.With().Str("component", "tracelink").Logger()),
		log.With().Str("component", "processor").Logger(),
		processor.WithTimeout(cfg.Pipeline.PerMessageTimeout),
	)
	if err != nil {
		return fmt.Errorf("processor: %w", err)
	}

	signaler, closeSignaler, err := newSignaler(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSignaler()

	source, err := batchsource.New(ctx, &cfg.Source, nil, log.With().Str("component", "batch-source").Logger())
	if err != nil {
		return fmt.Errorf("batch source: %w", err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close batch source")
		}
	}()

	svc, err := messagepipeline.NewBatchProcessingService(cfg.Pipeline, source, proc, signaler, log,
		messagepipeline.WithTracerProvider(tp))
	if err != nil {
		return fmt.Errorf("batch processing service: %w", err)
	}

	if source.Kind() != batchsource.KindPoll {
		report, err := svc.Run(ctx)
		if err != nil {
			return err
		}
		return reportError(report, cfg.Pipeline.PartialSuccessPolicy)
	}

	if err := svc.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	svc.Stop()
	return nil
}

// reportError turns the outcome of a one-shot run into the process exit status.
func reportError(report *messagepipeline.CycleReport, policy messagepipeline.PartialSuccessPolicy) error {
	if report == nil || report.Result == nil {
		return nil
	}
	res := report.Result
	switch {
	case res.Catastrophic:
		return fmt.Errorf("batch halted: %s: %s", res.CatastrophicKind, res.CatastrophicCause)
	case res.HasFailures() && policy == messagepipeline.PolicyFail:
		return fmt.Errorf("%d of %d messages failed", len(res.Failed), report.BatchSize)
	}
	return nil
}

func newStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (customer.Store, func(), error) {
	if cfg.Sink.Kind == config.SinkMemory {
		return customer.NewMemoryStore(), func() {}, nil
	}

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	store, err := customer.NewFirestoreStore(fsClient, &customer.FirestoreConfig{
		ProjectID:      cfg.ProjectID,
		CollectionName: cfg.Sink.Collection,
	}, log.With().Str("component", "firestore").Logger())
	if err != nil {
		_ = fsClient.Close()
		return nil, nil, err
	}
	return store, func() {
		if err := fsClient.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close firestore client")
		}
	}, nil
}

// newSignaler returns a nil interface when no orchestration is configured.
func newSignaler(ctx context.Context, cfg *config.Config, log zerolog.Logger) (messagepipeline.Signaler, func(), error) {
	cbLogger := log.With().Str("component", "callback").Logger()
	var (
		sender  callback.Signaler
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Callback.Kind {
	case config.CallbackNone:
		return nil, func() {}, nil
	case config.CallbackTemporal:
		tc, err := callback.DialTemporal(&callback.TemporalConfig{
			HostPort:  valueOr(cfg.Callback.TemporalHost, client.DefaultHostPort),
			Namespace: valueOr(cfg.Callback.TemporalNamespace, client.DefaultNamespace),
		})
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, tc.Close)
		sender, err = callback.NewTemporalSignaler(tc, cbLogger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
	case config.CallbackPubsub:
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		topic := psClient.Topic(cfg.Callback.TopicID)
		closers = append(closers, func() { _ = psClient.Close() }, topic.Stop)
		sender, err = callback.NewPubsubSignaler(topic, cbLogger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown callback kind %q", cfg.Callback.Kind)
	}

	var ledger callback.Ledger
	if cfg.Callback.Ledger == config.LedgerRedis {
		redisLedger, err := callback.NewRedisLedger(ctx, &callback.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, cbLogger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = redisLedger.Close() })
		ledger = redisLedger
	}

	cb, err := callback.New(sender, ledger, cbLogger)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return cb, closeAll, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func fail(stage string, err error) {
	if errors.Is(err, context.Canceled) {
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", stage, err)
	os.Exit(1)
}
