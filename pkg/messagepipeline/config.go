package messagepipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-batchrelay/pkg/types"
)

// PartialSuccessPolicy decides what a batch with some failed messages reports
// to the orchestration.
type PartialSuccessPolicy string

const (
	// PolicyFail reports a PartialFailure error.
	PolicyFail PartialSuccessPolicy = "fail"
	// PolicySucceed reports success with the failed ids in the message.
	PolicySucceed PartialSuccessPolicy = "succeed"
)

// Defaults used when the configuration leaves a field unset.
const (
	DefaultNumWorkers        = 5
	DefaultPerMessageTimeout = 30 * time.Second
	DefaultPollInterval      = time.Second
)

// Config holds the settings of a BatchProcessingService.
type Config struct {
	NumWorkers           int                  `yaml:"num_workers"`
	PerMessageTimeout    time.Duration        `yaml:"per_message_timeout"`
	PollInterval         time.Duration        `yaml:"poll_interval"`
	PartialSuccessPolicy PartialSuccessPolicy `yaml:"partial_success_policy"`
	// DrainOnShutdown lets the batch in flight finish when the service is
	// stopped. When false, unstarted messages are abandoned.
	DrainOnShutdown bool `yaml:"drain_on_shutdown"`
	// CallbackToken is used for batches that do not carry their own token.
	CallbackToken types.CallbackToken `yaml:"-"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{
		NumWorkers:           DefaultNumWorkers,
		PerMessageTimeout:    DefaultPerMessageTimeout,
		PollInterval:         DefaultPollInterval,
		PartialSuccessPolicy: PolicyFail,
		DrainOnShutdown:      true,
	}
}

// ApplyDefaults fills unset fields. DrainOnShutdown is left as is.
func (c *Config) ApplyDefaults() {
	if c.NumWorkers <= 0 {
		c.NumWorkers = DefaultNumWorkers
	}
	if c.PerMessageTimeout <= 0 {
		c.PerMessageTimeout = DefaultPerMessageTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PartialSuccessPolicy == "" {
		c.PartialSuccessPolicy = PolicyFail
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.NumWorkers <= 0 {
		return errors.New("pipeline: num_workers must be positive")
	}
	switch c.PartialSuccessPolicy {
	case PolicyFail, PolicySucceed:
	default:
		return fmt.Errorf("pipeline: unknown partial_success_policy %q", c.PartialSuccessPolicy)
	}
	return nil
}

// WorstCaseBatchDuration is how long a full batch of maxMessages can take
// when every message runs to its timeout.
func (c *Config) WorstCaseBatchDuration(maxMessages int) time.Duration {
	workers := c.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	rounds := (maxMessages + workers - 1) / workers
	return time.Duration(rounds) * c.PerMessageTimeout
}

