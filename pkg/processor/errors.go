package processor

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrDependencyUnavailable is returned (or wrapped) by handlers when a
// downstream system every message needs is unreachable. It aborts the batch.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// Classifier decides whether a handler error must abort the whole batch.
type Classifier func(err error) bool

// DefaultClassifier treats ErrDependencyUnavailable and gRPC Unavailable
// statuses as catastrophic. Every other error is scoped to its message.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDependencyUnavailable) {
		return true
	}
	return status.Code(err) == codes.Unavailable
}
