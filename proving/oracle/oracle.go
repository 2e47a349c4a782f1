package oracle

import (
	"context"
	"encoding/json"
	"io"

	"github.com/crytic/kprove/proving/kcfg"
)

// StepResult is the outcome of advancing a state.
type StepResult struct {
	// State is the state reached.
	State kcfg.CTerm `json:"state"`
	// Depth is the number of rewrite steps taken. Zero means no progress could be made.
	Depth int `json:"depth"`
	// Logs holds diagnostic output of the server.
	Logs []string `json:"logs,omitempty"`
}

// SimplifyResult is the outcome of normalizing a state.
type SimplifyResult struct {
	State kcfg.CTerm `json:"state"`
	Logs  []string   `json:"logs,omitempty"`
}

// ImpliesResult is the outcome of a subsumption check.
type ImpliesResult struct {
	// Valid is set when the state is subsumed by the goal.
	Valid bool `json:"valid"`
	// Substitution instantiates the goal's variables when Valid is set.
	Substitution kcfg.Substitution `json:"substitution,omitempty"`
}

// Oracle is the symbolic execution service the explorer consults. Every call blocks until the service answers.
type Oracle interface {
	// Step applies up to maxDepth rewrite steps to a state.
	Step(ctx context.Context, state kcfg.CTerm, maxDepth int) (StepResult, error)
	// Branches returns the case-split conditions applicable at a state, or none. A split is reported with every
	// case, so a non-empty answer holds at least two mutually exclusive, jointly exhaustive conditions.
	Branches(ctx context.Context, state kcfg.CTerm) ([]json.RawMessage, error)
	// Terminal reports whether a state admits no further rewriting.
	Terminal(ctx context.Context, state kcfg.CTerm) (bool, error)
	// Simplify normalizes the constraints of a state without advancing it.
	Simplify(ctx context.Context, state kcfg.CTerm) (SimplifyResult, error)
	// Implies checks whether a state is subsumed by a goal.
	Implies(ctx context.Context, state kcfg.CTerm, goal kcfg.CTerm) (ImpliesResult, error)
	// SameLoop reports whether two states sit at the same loop head.
	SameLoop(ctx context.Context, a kcfg.CTerm, b kcfg.CTerm) (bool, error)
}

// Connection is an Oracle reached over a connection that must be closed after use.
type Connection interface {
	Oracle
	io.Closer
}

// Dialer opens a fresh oracle connection for a worker. Implementations derive the endpoint from the worker index
// so that no two concurrent workers share a connection.
type Dialer interface {
	Dial(ctx context.Context, workerIndex int) (Connection, error)
}
