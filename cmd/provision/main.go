// Command provision creates (or with -teardown deletes) the Pub/Sub topics
// and subscription a poll pipeline runs against.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"

	"github.com/illmade-knight/go-batchrelay/pkg/config"
	"github.com/illmade-knight/go-batchrelay/pkg/logging"
	"github.com/illmade-knight/go-batchrelay/pkg/provision"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML configuration file")
	teardown := flag.Bool("teardown", false, "delete the resources instead of creating them")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	baseLogger, err := logging.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	log := baseLogger.With().Str("service", "provision").Logger()

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub client")
	}
	defer client.Close()

	manager, err := provision.NewManager(client, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create provision manager")
	}

	res := resourcesFor(cfg)
	if *teardown {
		err = manager.Teardown(ctx, res)
	} else {
		err = manager.Setup(ctx, res)
	}
	if err != nil {
		log.Error().Err(err).Msg("provisioning failed")
		client.Close()
		os.Exit(1)
	}
}

func resourcesFor(cfg *config.Config) provision.Resources {
	res := provision.Resources{
		TopicID:           cfg.Provision.TopicID,
		SubscriptionID:    cfg.Source.SubscriptionID,
		AckDeadline:       cfg.Source.LeaseDuration,
		EnableOrdering:    cfg.Provision.EnableOrdering,
		DeadLetterTopicID: cfg.Provision.DeadLetterTopicID,
	}
	if res.DeadLetterTopicID != "" {
		res.MaxDeliveryAttempts = cfg.Source.MaxDeliveryAttempts
	}
	if cfg.Callback.Kind == config.CallbackPubsub {
		res.CallbackTopicID = cfg.Callback.TopicID
	}
	return res
}
