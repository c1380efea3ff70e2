// Command publisher sends customer-created events into the pipeline: one
// event by default, or a timed load run when -duration is set.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/illmade-knight/go-batchrelay/pkg/customer"
	"github.com/illmade-knight/go-batchrelay/pkg/loadgen"
	"github.com/illmade-knight/go-batchrelay/pkg/logging"
	"github.com/illmade-knight/go-batchrelay/pkg/publisher"
	"github.com/illmade-knight/go-batchrelay/pkg/telemetry"
)

func main() {
	duration := flag.Duration("duration", 0, "publish a load run for this long instead of a single event")
	streams := flag.Int("streams", 1, "number of partition keys in a load run")
	rate := flag.Float64("rate", 1, "messages per second per stream in a load run")
	failEvery := flag.Int("fail-every", 0, "make every n-th event of a stream fail processing")
	flag.Parse()

	exitCode := 0
	defer func() { os.Exit(exitCode) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	baseLogger, err := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	log := baseLogger.With().Str("service", "publisher").Logger()

	cfg, err := publisher.LoadConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load publisher config")
	}

	tp, shutdownTracing, err := telemetry.NewTracerProvider(ctx, telemetry.LoadConfigFromEnv(), log.With().Str("component", "telemetry").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise tracing")
	}
	defer shutdownTracing()

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub client")
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close pubsub client")
		}
	}()

	topic, err := publisher.EnsureTopic(ctx, client, cfg.TopicID, log)
	if err != nil {
		log.Fatal().Err(err).Msg("topic unavailable")
	}
	defer topic.Stop()

	pub, err := publisher.NewEnvelopePublisher[customer.CustomerCreatedEvent](topic, tp, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create publisher")
	}

	if *duration > 0 {
		keys := make([]loadgen.Stream, *streams)
		for i := range keys {
			keys[i] = loadgen.Stream{Key: fmt.Sprintf("stream-%d", i+1), Rate: *rate}
		}
		gen, err := loadgen.New(pub, keys, loadgen.CustomerEvents(*failEvery), log)
		if err != nil {
			log.Error().Err(err).Msg("failed to create load generator")
			exitCode = 1
			return
		}
		count, _ := gen.Run(ctx, *duration)
		log.Info().Int("published", count).Msg("load run finished")
		return
	}

	event := customer.CustomerCreatedEvent{
		CustomerID: os.Getenv("CUSTOMER_ID"),
		FirstName:  os.Getenv("CUSTOMER_FIRST_NAME"),
	}
	if event.CustomerID == "" {
		event.CustomerID = uuid.NewString()
	}
	if event.FirstName == "" {
		log.Error().Msg("CUSTOMER_FIRST_NAME environment variable not set")
		exitCode = 1
		return
	}

	id, err := pub.Publish(ctx, event, event.CustomerID)
	if err != nil {
		log.Error().Err(err).Msg("publish failed")
		exitCode = 1
		return
	}
	log.Info().Str("msg_id", id).Str("customer_id", event.CustomerID).Msg("customer event published")
}
