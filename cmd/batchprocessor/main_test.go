package main

import (
	"testing"

	"github.com/illmade-knight/go-batchrelay/pkg/messagepipeline"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestReportError(t *testing.T) {
	partial := &messagepipeline.AggregateResult{}
	partial.Failed = []types.FailedMessage{{MessageID: "m-1", Kind: types.KindProcessingFailure, Reason: "boom"}}

	halted := &messagepipeline.AggregateResult{Catastrophic: true, CatastrophicKind: types.KindDependencyUnavailable, CatastrophicCause: "store down"}

	assert.NoError(t, reportError(nil, messagepipeline.PolicyFail))
	assert.NoError(t, reportError(&messagepipeline.CycleReport{BatchSize: 0}, messagepipeline.PolicyFail))
	assert.NoError(t, reportError(&messagepipeline.CycleReport{BatchSize: 2, Result: &messagepipeline.AggregateResult{}}, messagepipeline.PolicyFail))

	assert.ErrorContains(t, reportError(&messagepipeline.CycleReport{BatchSize: 2, Result: partial}, messagepipeline.PolicyFail), "1 of 2")
	assert.NoError(t, reportError(&messagepipeline.CycleReport{BatchSize: 2, Result: partial}, messagepipeline.PolicySucceed))
	assert.ErrorContains(t, reportError(&messagepipeline.CycleReport{BatchSize: 2, Result: halted}, messagepipeline.PolicySucceed), "store down")
}
