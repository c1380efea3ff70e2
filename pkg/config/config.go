// Package config assembles the configuration of the batch processor from an
// optional YAML file overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/illmade-knight/go-batchrelay/pkg/batchsource"
	"github.com/illmade-knight/go-batchrelay/pkg/callback"
	"github.com/illmade-knight/go-batchrelay/pkg/messagepipeline"
	"github.com/illmade-knight/go-batchrelay/pkg/telemetry"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"gopkg.in/yaml.v3"
)

// Callback transports.
const (
	CallbackTemporal = "temporal"
	CallbackPubsub   = "pubsub"
	CallbackNone     = "none"
)

// Ledger backends.
const (
	LedgerMemory = "memory"
	LedgerRedis  = "redis"
)

// Sink backends.
const (
	SinkFirestore = "firestore"
	SinkMemory    = "memory"
)

type CallbackConfig struct {
	Kind              string `yaml:"kind"`
	TemporalHost      string `yaml:"temporal_host"`
	TemporalNamespace string `yaml:"temporal_namespace"`
	TopicID           string `yaml:"topic_id"`
	// Token is the fallback callback token for batches that carry none.
	Token  string `yaml:"token"`
	Ledger string `yaml:"ledger"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type SinkConfig struct {
	Kind          string        `yaml:"kind"`
	Collection    string        `yaml:"collection"`
	SimulatedWork time.Duration `yaml:"simulated_work"`
}

// ProvisionConfig names the resources created ahead of a poll pipeline.
type ProvisionConfig struct {
	TopicID           string `yaml:"topic_id"`
	DeadLetterTopicID string `yaml:"dead_letter_topic_id"`
	EnableOrdering    bool   `yaml:"enable_ordering"`
}

type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// Config is the complete configuration of the batch processor.
type Config struct {
	ProjectID string                 `yaml:"project_id"`
	Source    batchsource.Config     `yaml:"source"`
	Pipeline  messagepipeline.Config `yaml:"pipeline"`
	Callback  CallbackConfig         `yaml:"callback"`
	Redis     RedisConfig            `yaml:"redis"`
	Sink      SinkConfig             `yaml:"sink"`
	Telemetry telemetry.Config       `yaml:"telemetry"`
	Log       LogConfig              `yaml:"log"`
	Provision ProvisionConfig        `yaml:"provision"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Source: batchsource.Config{
			Kind:          batchsource.KindPoll,
			MaxMessages:   batchsource.DefaultMaxMessages,
			WaitTime:      batchsource.DefaultWaitTime,
			LeaseDuration: batchsource.DefaultLeaseDuration,
		},
		Pipeline: messagepipeline.DefaultConfig(),
		Callback: CallbackConfig{Kind: CallbackNone, Ledger: LedgerMemory},
		Redis:    RedisConfig{TTL: callback.DefaultLedgerTTL},
		Sink:     SinkConfig{Kind: SinkFirestore},
		Telemetry: telemetry.Config{
			ServiceName: "batchrelay",
		},
		Log: LogConfig{Env: "production", Level: "info"},
	}
}

// Load reads path (when not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML from '%s': %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Source.ProjectID == "" {
		c.Source.ProjectID = c.ProjectID
	}
	if c.ProjectID == "" {
		c.ProjectID = c.Source.ProjectID
	}
	c.Source.ApplyDefaults()
	c.Pipeline.ApplyDefaults()
	if c.Pipeline.CallbackToken == "" {
		c.Pipeline.CallbackToken = types.CallbackToken(c.Callback.Token)
	}
	if c.Callback.Kind == "" {
		c.Callback.Kind = CallbackNone
	}
	if c.Callback.Ledger == "" {
		c.Callback.Ledger = LedgerMemory
	}
	if c.Sink.Kind == "" {
		c.Sink.Kind = SinkFirestore
	}
}

// Validate checks each section and the constraints between them.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}

	if c.Source.Kind == batchsource.KindPoll {
		if c.Pipeline.CallbackToken != "" || c.Callback.Token != "" {
			return errors.New("callback: a configured token (TASK_TOKEN) is single-use and cannot serve a poll source; poll batches carry their own token")
		}
		worst := c.Pipeline.WorstCaseBatchDuration(c.Source.MaxMessages)
		if c.Source.LeaseDuration <= worst {
			return fmt.Errorf("source: lease_duration %s must exceed the worst-case batch time %s (per_message_timeout %s for %d messages on %d workers)",
				c.Source.LeaseDuration, worst, c.Pipeline.PerMessageTimeout, c.Source.MaxMessages, c.Pipeline.NumWorkers)
		}
	}

	switch c.Callback.Kind {
	case CallbackNone, CallbackTemporal:
	case CallbackPubsub:
		if c.Callback.TopicID == "" {
			return errors.New("callback: topic_id is required for pubsub callbacks")
		}
		if c.ProjectID == "" {
			return errors.New("callback: project_id is required for pubsub callbacks")
		}
	default:
		return fmt.Errorf("callback: unknown kind %q", c.Callback.Kind)
	}

	switch c.Callback.Ledger {
	case LedgerMemory:
	case LedgerRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis: addr is required for the redis ledger")
		}
	default:
		return fmt.Errorf("callback: unknown ledger %q", c.Callback.Ledger)
	}

	switch c.Sink.Kind {
	case SinkMemory:
	case SinkFirestore:
		if c.ProjectID == "" {
			return errors.New("sink: project_id is required for the firestore sink")
		}
	default:
		return fmt.Errorf("sink: unknown kind %q", c.Sink.Kind)
	}
	return nil
}

// applyEnv overlays environment variables. Unset or empty variables leave
// the current value alone.
func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("GCP_PROJECT_ID", &c.ProjectID)
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		c.Source.ProjectID = v
	}
	if v := os.Getenv("SOURCE_KIND"); v != "" {
		c.Source.Kind = batchsource.Kind(v)
	}
	str("PUBSUB_SUBSCRIPTION_ID", &c.Source.SubscriptionID)
	num("SOURCE_MAX_MESSAGES", &c.Source.MaxMessages)
	dur("SOURCE_WAIT_TIME", &c.Source.WaitTime)
	dur("SOURCE_LEASE_DURATION", &c.Source.LeaseDuration)
	num("SOURCE_MAX_DELIVERY_ATTEMPTS", &c.Source.MaxDeliveryAttempts)
	str("BUCKET_NAME", &c.Source.Bucket)
	str("BUCKET_KEY", &c.Source.Object)
	str("INPUT_MESSAGE", &c.Source.EventPayload)

	num("NUM_WORKERS", &c.Pipeline.NumWorkers)
	dur("PER_MESSAGE_TIMEOUT", &c.Pipeline.PerMessageTimeout)
	dur("POLL_INTERVAL", &c.Pipeline.PollInterval)
	if v := os.Getenv("PARTIAL_SUCCESS_POLICY"); v != "" {
		c.Pipeline.PartialSuccessPolicy = messagepipeline.PartialSuccessPolicy(v)
	}
	flag("DRAIN_ON_SHUTDOWN", &c.Pipeline.DrainOnShutdown)

	str("CALLBACK_KIND", &c.Callback.Kind)
	str("TEMPORAL_HOST", &c.Callback.TemporalHost)
	str("TEMPORAL_NAMESPACE", &c.Callback.TemporalNamespace)
	str("CALLBACK_TOPIC_ID", &c.Callback.TopicID)
	str("TASK_TOKEN", &c.Callback.Token)
	str("CALLBACK_LEDGER", &c.Callback.Ledger)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	dur("REDIS_TTL", &c.Redis.TTL)

	str("SINK_KIND", &c.Sink.Kind)
	str("FIRESTORE_COLLECTION_CUSTOMERS", &c.Sink.Collection)
	dur("SIMULATED_WORK", &c.Sink.SimulatedWork)

	str("SERVICE_NAME", &c.Telemetry.ServiceName)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	flag("OTEL_EXPORTER_OTLP_INSECURE", &c.Telemetry.Insecure)

	str("PUBSUB_TOPIC_ID", &c.Provision.TopicID)
	str("DEAD_LETTER_TOPIC_ID", &c.Provision.DeadLetterTopicID)
	flag("ENABLE_ORDERING", &c.Provision.EnableOrdering)

	str("APP_ENV", &c.Log.Env)
	str("LOG_LEVEL", &c.Log.Level)

	return errors.Join(errs...)
}
