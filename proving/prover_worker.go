package proving

import (
	"context"
	"time"

	"github.com/crytic/kprove/logging"
	"github.com/crytic/kprove/logging/colors"
	"github.com/crytic/kprove/proving/cache"
	"github.com/crytic/kprove/proving/explore"
	"github.com/crytic/kprove/proving/oracle"
	"github.com/crytic/kprove/utils"
	"github.com/pkg/errors"
)

// runTask processes one unit on the worker with the given index. Errors and panics never escape: they are reported
// as a failed result.
func (p *Prover) runTask(ctx context.Context, workerIndex int, t task) (result Result) {
	start := time.Now()
	p.metrics.busyWorkers.Inc()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker ", workerIndex, " panicked while proving ", t.unit.ID(), ": ", r)
			result = failedResult(t.unit, errors.Errorf("worker panicked: %v", r))
		}
		p.metrics.busyWorkers.Dec()
		p.metrics.observe(result, time.Since(start))
		if err := p.Events.ProofFinished.Publish(ProofFinishedEvent{Result: result}); err != nil {
			p.logger.Error("Failed to publish the result of ", t.unit.ID(), err)
		}
	}()

	result = p.prove(ctx, workerIndex, t)
	if result.Err != nil {
		p.logger.Error("Proof of ", colors.Bold, t.unit.ID(), colors.Reset, " stopped on worker ", workerIndex, result.Err)
	}
	return result
}

// prove loads or initializes the unit's proof, explores it over a fresh oracle connection, persists it and records
// its digest when exploration returned without error. No connection is dialed for a proof without frontier nodes.
func (p *Prover) prove(ctx context.Context, workerIndex int, t task) Result {
	if utils.CheckContextDone(ctx) {
		return failedResult(t.unit, errors.WithStack(ctx.Err()))
	}
	if err := p.Events.ProofStarted.Publish(ProofStartedEvent{Unit: t.unit, WorkerIndex: workerIndex}); err != nil {
		return failedResult(t.unit, err)
	}

	pr, load, err := p.cache.LoadOrInit(t.unit, t.setupFinal)
	if err != nil {
		return failedResult(t.unit, err)
	}

	// A loaded proof with nothing left to explore is reported without reaching the oracle
	simplifyInit := load.IsFresh() && p.config.Proving.SimplifyInit
	var conn oracle.Connection
	if simplifyInit || len(pr.Frontier()) > 0 {
		conn, err = p.dialer.Dial(ctx, workerIndex)
		if err != nil {
			return failedResult(t.unit, err)
		}
		defer func() {
			if err := conn.Close(); err != nil {
				p.logger.Warn("Failed to close the oracle connection of worker ", workerIndex, err)
			}
		}()
	}

	explorer := explore.NewExplorer(conn, p.explorerOptions())
	if simplifyInit {
		if err = explorer.Simplify(ctx, pr, pr.Init(), pr.Target()); err != nil {
			return failedResult(t.unit, err)
		}
	}

	report, exploreErr := explorer.Prove(ctx, pr)
	if err = p.cache.Persist(pr); err != nil {
		return failedResult(t.unit, err)
	}
	if exploreErr != nil {
		result := failedResult(t.unit, exploreErr)
		result.Status = pr.Status()
		result.Summary = pr.Summary()
		result.Load = load
		return result
	}
	if err = p.cache.Record(t.unit); err != nil {
		return failedResult(t.unit, err)
	}

	result := Result{
		ID:      t.unit.ID(),
		Unit:    t.unit,
		Passed:  pr.Passed(),
		Status:  report.Status,
		Summary: pr.Summary(),
		Load:    load,
	}
	if !result.Passed {
		result.Reason = failureReason(pr)
	} else if t.unit.IsSetup() {
		if final, ok := cache.FinalState(pr); ok {
			result.final = &final
		}
	}
	p.logger.Debug("Worker ", workerIndex, " finished ", t.unit.ID(), logging.StructuredLogInfo{
		"proof": t.unit.ID(), "worker": workerIndex, "load": load, "status": result.Status,
		"iterations": report.Iterations, "depth": report.TotalDepth,
	})
	return result
}
