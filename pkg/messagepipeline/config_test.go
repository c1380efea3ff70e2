package messagepipeline_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-batchrelay/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
)

func TestWorstCaseBatchDuration(t *testing.T) {
	cfg := messagepipeline.Config{NumWorkers: 3, PerMessageTimeout: 10 * time.Second}
	assert.Equal(t, 40*time.Second, cfg.WorstCaseBatchDuration(10))
	assert.Equal(t, 10*time.Second, cfg.WorstCaseBatchDuration(3))
	assert.Equal(t, time.Duration(0), cfg.WorstCaseBatchDuration(0))
}
