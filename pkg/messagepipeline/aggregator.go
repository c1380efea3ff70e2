package messagepipeline

import (
	"github.com/illmade-knight/go-batchrelay/pkg/types"
)

// AggregateResult is the partition of a batch into succeeded and failed
// messages, plus the receipts to settle with the transport.
type AggregateResult struct {
	types.BatchResult

	// Catastrophic is set when any message aborted the batch.
	Catastrophic      bool
	CatastrophicKind  types.ErrorKind
	CatastrophicCause string

	succeededReceipts []string
	failedReceipts    []string
}

// Aggregate combines per-message outcomes into a batch result. outcomes is
// indexed like batch.Messages; a nil or missing slot is a message that was
// never processed and is reported as BatchAborted.
func Aggregate(batch *types.Batch, outcomes []*types.ProcessingOutcome) *AggregateResult {
	res := &AggregateResult{}
	if batch == nil {
		return res
	}
	for i, msg := range batch.Messages {
		var o *types.ProcessingOutcome
		if i < len(outcomes) {
			o = outcomes[i]
		}

		switch {
		case o == nil:
			res.fail(msg, types.KindBatchAborted, "batch halted before the message was processed")
		case o.IsSuccess():
			res.Succeeded = append(res.Succeeded, msg.ID)
			if msg.ReceiptToken != "" {
				res.succeededReceipts = append(res.succeededReceipts, msg.ReceiptToken)
			}
		case o.IsCatastrophic():
			res.fail(msg, o.Kind, o.Message)
			if !res.Catastrophic {
				res.Catastrophic = true
				res.CatastrophicKind = o.Kind
				res.CatastrophicCause = o.Message
			}
		default:
			res.fail(msg, o.Kind, o.Message)
		}
	}
	return res
}

func (r *AggregateResult) fail(msg types.RawMessage, kind types.ErrorKind, reason string) {
	r.Failed = append(r.Failed, types.FailedMessage{MessageID: msg.ID, Kind: kind, Reason: reason})
	if msg.ReceiptToken != "" {
		r.failedReceipts = append(r.failedReceipts, msg.ReceiptToken)
	}
}

// HasFailures reports whether any message failed.
func (r *AggregateResult) HasFailures() bool {
	return len(r.Failed) > 0
}

// ReceiptsToAcknowledge returns the receipts of succeeded messages. A
// catastrophic batch acknowledges nothing so the whole batch is redriven.
func (r *AggregateResult) ReceiptsToAcknowledge() []string {
	if r.Catastrophic {
		return nil
	}
	return r.succeededReceipts
}

// ReceiptsToAbandon returns the receipts to release for redelivery.
func (r *AggregateResult) ReceiptsToAbandon() []string {
	if r.Catastrophic {
		all := make([]string, 0, len(r.succeededReceipts)+len(r.failedReceipts))
		all = append(all, r.succeededReceipts...)
		return append(all, r.failedReceipts...)
	}
	return r.failedReceipts
}
