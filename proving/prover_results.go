package proving

import (
	"fmt"
	"slices"
	"strings"

	"github.com/crytic/kprove/proving/cache"
	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/kprove/proving/proof"
	"github.com/crytic/kprove/proving/units"
	"github.com/crytic/kprove/utils"
)

// setupFailedReason is the reason reported for tests whose setup proof did not pass.
const setupFailedReason = "setup failed"

// Result is the outcome of one unit.
type Result struct {
	// ID is the unit identifier.
	ID string `json:"id"`

	// Unit is the unit the result describes.
	Unit units.Unit `json:"-"`

	// Passed is set when the proof passed and exploration returned without error.
	Passed bool `json:"passed"`

	// Status is the classification of the proof after exploration. It is empty when no proof was loaded.
	Status proof.Status `json:"status,omitempty"`

	// Reason explains why the unit did not pass.
	Reason string `json:"reason,omitempty"`

	// Summary counts the nodes of the proof.
	Summary proof.Summary `json:"summary"`

	// Load describes whether the proof was reused from disk.
	Load cache.LoadResult `json:"load,omitempty"`

	// Err is the error that stopped the unit, if any.
	Err error `json:"-"`

	// final is the state a passed setup proof ends in.
	final *kcfg.CTerm
}

// failedResult creates the result of a unit that was stopped by err.
func failedResult(unit units.Unit, err error) Result {
	return Result{ID: unit.ID(), Unit: unit, Status: proof.StatusFailed, Reason: err.Error(), Err: err}
}

// outcome is the metrics label of the result.
func (r Result) outcome() string {
	switch {
	case r.Err != nil:
		return "error"
	case r.Reason == setupFailedReason:
		return "setup_failed"
	default:
		return string(r.Status)
	}
}

// failureReason describes why a proof explored without error did not pass.
func failureReason(p *proof.Proof) string {
	summary := p.Summary()
	if p.Status() == proof.StatusPending {
		return fmt.Sprintf("exploration bound reached with %d frontier nodes", summary.Frontier)
	}
	return fmt.Sprintf("%d stuck and %d bounded nodes", summary.Stuck, summary.Bounded)
}

// Results holds the outcome of every unit of a run, sorted by id.
type Results struct {
	results []Result
}

// newResults merges results into a Results sorted by id.
func newResults(groups ...[]Result) *Results {
	var results []Result
	for _, group := range groups {
		results = append(results, group...)
	}
	slices.SortFunc(results, func(a, b Result) int {
		return strings.Compare(a.ID, b.ID)
	})
	return &Results{results: results}
}

// All returns every result.
func (r *Results) All() []Result {
	return r.results
}

// Get returns the result of the unit with the given id.
func (r *Results) Get(id string) (Result, bool) {
	for _, result := range r.results {
		if result.ID == id {
			return result, true
		}
	}
	return Result{}, false
}

// Failed returns the results of the units that did not pass.
func (r *Results) Failed() []Result {
	return utils.SliceWhere(r.results, func(result Result) bool {
		return !result.Passed
	})
}

// Passed reports whether every unit passed.
func (r *Results) Passed() bool {
	return len(r.Failed()) == 0
}

// SetupFailedError is returned by Prover.Run when at least one setup proof did not pass. The tests of those
// contracts are reported as failed without being explored.
type SetupFailedError struct {
	// Units lists the ids of the failed setup units.
	Units []string
}

// Error implements the error interface.
func (e *SetupFailedError) Error() string {
	return "setup failed: " + strings.Join(e.Units, ", ")
}
