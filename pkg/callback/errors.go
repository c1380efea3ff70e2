package callback

import (
	"errors"
	"fmt"

	"github.com/illmade-knight/go-batchrelay/pkg/types"
)

var (
	// ErrNoToken is returned when there is no callback token to signal.
	ErrNoToken = errors.New("no callback token")
	// ErrCallbackProtocol matches errors caused by a token that was already
	// consumed, has expired or was never valid. These are not retryable.
	ErrCallbackProtocol = errors.New("callback protocol error")
	// ErrCallbackTransport matches errors reaching the orchestration.
	ErrCallbackTransport = errors.New("callback transport error")
)

// ProtocolError reports a token the orchestration will never accept.
type ProtocolError struct {
	Token  types.CallbackToken
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("callback token %s: %s: %v", redact(e.Token), e.Reason, e.Err)
	}
	return fmt.Sprintf("callback token %s: %s", redact(e.Token), e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCallbackProtocol) match any ProtocolError.
func (e *ProtocolError) Is(target error) bool { return target == ErrCallbackProtocol }

// redact keeps tokens, which are bearer credentials, out of logs and errors.
func redact(token types.CallbackToken) string {
	const keep = 6
	if len(token) <= keep {
		return "***"
	}
	return string(token[:keep]) + "***"
}
