package proving

import (
	"github.com/crytic/kprove/events"
	"github.com/crytic/kprove/proving/units"
)

// ProverEvents defines event emitters for a Prover.
type ProverEvents struct {
	// ProofStarted emits events when a worker picks up a unit, before it dials the oracle.
	ProofStarted events.EventEmitter[ProofStartedEvent]

	// ProofFinished emits events when a worker is done with a unit, whatever the outcome.
	ProofFinished events.EventEmitter[ProofFinishedEvent]

	// SetupFailed emits events when a setup unit failed and the tests of its contract will not be scheduled.
	SetupFailed events.EventEmitter[SetupFailedEvent]
}

// ProofStartedEvent describes an event where a worker starts processing a unit.
type ProofStartedEvent struct {
	// Unit is the unit being proven.
	Unit units.Unit

	// WorkerIndex is the index of the worker, which also selects its oracle endpoint.
	WorkerIndex int
}

// ProofFinishedEvent describes an event where a worker finished processing a unit.
type ProofFinishedEvent struct {
	// Result is the outcome of the unit.
	Result Result
}

// SetupFailedEvent describes an event where the setup proof of a contract did not pass.
type SetupFailedEvent struct {
	// Setup is the result of the failed setup unit.
	Setup Result

	// Skipped lists the tests reported as failed without being explored.
	Skipped []units.Unit
}
