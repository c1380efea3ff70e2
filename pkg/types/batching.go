package types

// ErrorKind is the machine-readable classification of a failure. It is
// reported to the orchestration so it can branch on it.
type ErrorKind string

const (
	// KindMalformedEnvelope marks a message whose body could not be decoded.
	KindMalformedEnvelope ErrorKind = "MalformedEnvelope"
	// KindProcessingFailure marks a business-logic failure scoped to one message.
	KindProcessingFailure ErrorKind = "ProcessingFailure"
	// KindDependencyUnavailable marks a downstream outage; it aborts the batch.
	KindDependencyUnavailable ErrorKind = "DependencyUnavailable"
	// KindBatchAborted marks a message that was never processed because the
	// batch was halted before its turn.
	KindBatchAborted ErrorKind = "BatchAborted"
	// KindBatchSourceError marks a batch that failed before any message was processed.
	KindBatchSourceError ErrorKind = "BatchSourceError"
	// KindPartialFailure is reported when some, but not all, messages failed.
	KindPartialFailure ErrorKind = "PartialFailure"
	// KindCallbackProtocolError marks a token that was already consumed or expired.
	KindCallbackProtocolError ErrorKind = "CallbackProtocolError"
	// KindCallbackTransportError marks an unreachable orchestration.
	KindCallbackTransportError ErrorKind = "CallbackTransportError"
)

// OutcomeStatus tags a ProcessingOutcome.
type OutcomeStatus int

const (
	OutcomeSuccess OutcomeStatus = iota
	OutcomeFailure
	OutcomeCatastrophic
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeCatastrophic:
		return "catastrophic"
	default:
		return "unknown"
	}
}

// ProcessingOutcome is the result of processing exactly one message.
type ProcessingOutcome struct {
	Status  OutcomeStatus
	Kind    ErrorKind
	Message string
	// Output is whatever the handler returned on success.
	Output any
}

// Succeeded builds a Success outcome.
func Succeeded(output any) ProcessingOutcome {
	return ProcessingOutcome{Status: OutcomeSuccess, Output: output}
}

// Failed builds a Failure outcome scoped to one message.
func Failed(kind ErrorKind, message string) ProcessingOutcome {
	return ProcessingOutcome{Status: OutcomeFailure, Kind: kind, Message: message}
}

// CatastrophicallyFailed builds an outcome that aborts the rest of the batch.
func CatastrophicallyFailed(kind ErrorKind, message string) ProcessingOutcome {
	return ProcessingOutcome{Status: OutcomeCatastrophic, Kind: kind, Message: message}
}

// IsSuccess reports whether the outcome is a Success.
func (o ProcessingOutcome) IsSuccess() bool { return o.Status == OutcomeSuccess }

// IsCatastrophic reports whether the outcome must abort the batch.
func (o ProcessingOutcome) IsCatastrophic() bool { return o.Status == OutcomeCatastrophic }

// FailedMessage records why a message was not acknowledged.
type FailedMessage struct {
	MessageID string
	Kind      ErrorKind
	Reason    string
}

// BatchResult partitions the messages of a batch. Every message of the input
// batch appears in exactly one of Succeeded or Failed.
type BatchResult struct {
	Succeeded []string
	Failed    []FailedMessage
}

// Len returns the number of messages accounted for.
func (r BatchResult) Len() int {
	return len(r.Succeeded) + len(r.Failed)
}

// IsSucceeded reports whether id is in the succeeded set.
func (r BatchResult) IsSucceeded(id string) bool {
	for _, s := range r.Succeeded {
		if s == id {
			return true
		}
	}
	return false
}

// FailedIDs returns the ids of failed messages in the order they were recorded.
func (r BatchResult) FailedIDs() []string {
	ids := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.MessageID
	}
	return ids
}

// FailureFor returns the failure record for id, if any.
func (r BatchResult) FailureFor(id string) (FailedMessage, bool) {
	for _, f := range r.Failed {
		if f.MessageID == id {
			return f, true
		}
	}
	return FailedMessage{}, false
}
