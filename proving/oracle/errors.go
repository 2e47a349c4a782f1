package oracle

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrOracleTimeout is the kind of a CallError whose call did not complete within the call timeout.
	ErrOracleTimeout = errors.New("oracle call timed out")

	// ErrOracleCrash is the kind of a CallError whose call failed for any other reason: the connection died, the
	// server process exited or the server reported an error.
	ErrOracleCrash = errors.New("oracle crashed")
)

// CallError describes a failed oracle call. errors.Is matches it against its Kind.
type CallError struct {
	// Method is the JSON-RPC method that failed.
	Method string
	// Endpoint is the server the call was sent to.
	Endpoint string
	// Kind is ErrOracleTimeout or ErrOracleCrash.
	Kind error
	// Err is the underlying transport or server error.
	Err error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	return fmt.Sprintf("%v: %s at %s: %v", e.Kind, e.Method, e.Endpoint, e.Err)
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error.
func (e *CallError) Is(target error) bool {
	return target == e.Kind
}

// classify wraps a failed call into a CallError. Calls cut short by an expired per-call deadline are timeouts,
// everything else is a crash.
func classify(callCtx context.Context, method string, endpoint string, err error) error {
	kind := ErrOracleCrash
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		kind = ErrOracleTimeout
	}
	return errors.WithStack(&CallError{Method: method, Endpoint: endpoint, Kind: kind, Err: err})
}
