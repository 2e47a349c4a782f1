// Package proving schedules the proofs of verification units over a fixed pool of workers. Setup units run first;
// tests of a contract whose setup failed are reported without being explored.
package proving

import (
	"context"
	"slices"

	"github.com/crytic/kprove/logging"
	"github.com/crytic/kprove/logging/colors"
	"github.com/crytic/kprove/proving/cache"
	"github.com/crytic/kprove/proving/config"
	"github.com/crytic/kprove/proving/explore"
	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/kprove/proving/oracle"
	"github.com/crytic/kprove/proving/proof"
	"github.com/crytic/kprove/proving/units"
	"github.com/crytic/kprove/utils"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Prover runs the proofs of a set of units against the oracle.
type Prover struct {
	// config describes the project configuration the prover was created with.
	config config.ProjectConfig

	// cache loads, initializes and persists proofs.
	cache *cache.Cache

	// dialer opens a fresh oracle connection per task.
	dialer oracle.Dialer

	// metrics tracks processed units.
	metrics *Metrics

	// oracleMetrics tracks the oracle calls made through dialer.
	oracleMetrics *oracle.Metrics

	// Events describes the event system for the Prover.
	Events ProverEvents

	// logger describes the Logger used by the prover.
	logger *logging.Logger
}

// NewProver returns an instance of a new Prover provided a project configuration, the proof cache and the dialer
// workers reach the oracle with. Metrics are registered with reg; a nil reg leaves them unregistered.
func NewProver(projectConfig config.ProjectConfig, proofCache *cache.Cache, dialer oracle.Dialer, reg prometheus.Registerer) *Prover {
	oracleMetrics := oracle.NewMetrics(reg)
	return &Prover{
		config:        projectConfig,
		cache:         proofCache,
		dialer:        &oracle.InstrumentedDialer{Dialer: dialer, Metrics: oracleMetrics},
		metrics:       NewMetrics(reg),
		oracleMetrics: oracleMetrics,
		logger:        logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.PROVER_SERVICE),
	}
}

// Config returns the project configuration the prover was created with.
func (p *Prover) Config() config.ProjectConfig {
	return p.config
}

// Metrics returns the prover metrics.
func (p *Prover) Metrics() *Metrics {
	return p.metrics
}

// OracleMetrics returns the metrics of the oracle calls made by workers.
func (p *Prover) OracleMetrics() *oracle.Metrics {
	return p.oracleMetrics
}

// explorerOptions derives the explorer options from the proving configuration.
func (p *Prover) explorerOptions() explore.Options {
	return explore.Options{
		MaxDepth:              p.config.Proving.MaxDepth,
		MaxIterations:         p.config.Proving.MaxIterations,
		MaxTotalDepth:         p.config.Proving.MaxTotalDepth,
		ImplicationEveryBlock: p.config.Proving.ImplicationEveryBlock,
		SimplifyFrontier:      p.config.Proving.SimplifyFrontier,
	}
}

// task is one unit queued for a worker.
type task struct {
	unit units.Unit

	// setupFinal is the final state of the unit's setup proof, or nil.
	setupFinal *kcfg.CTerm
}

// Run proves the given units. Setup units are proven first; tests of a contract whose setup failed are reported as
// failed without oracle calls and a SetupFailedError is returned alongside the results. Per-unit failures never
// abort the run. An error is also returned when ctx is cancelled; units not processed by then are reported as
// failed.
func (p *Prover) Run(ctx context.Context, selected []units.Unit) (*Results, error) {
	var setups, tests []units.Unit
	for _, unit := range selected {
		if unit.IsSetup() {
			setups = append(setups, unit)
		} else {
			tests = append(tests, unit)
		}
	}
	p.logger.Info("Proving ", colors.Bold, len(tests), colors.Reset, " tests after ", colors.Bold, len(setups),
		colors.Reset, " setups on ", p.config.Proving.Workers, " workers")

	// Setups first
	setupResults, err := p.runPhase(ctx, utils.SliceSelect(setups, func(unit units.Unit) task {
		return task{unit: unit}
	}))
	if err != nil {
		return newResults(setupResults, abandoned(tests, err)), err
	}

	finalStates := make(map[string]*kcfg.CTerm)
	failedSetups := make(map[string]Result)
	for _, result := range setupResults {
		if result.Passed {
			finalStates[result.Unit.Contract] = result.final
		} else {
			failedSetups[result.Unit.Contract] = result
		}
	}

	// Tests of failed groups are never scheduled.
	var testTasks []task
	skipped := make(map[string][]units.Unit)
	var skippedResults []Result
	for _, unit := range tests {
		if _, failed := failedSetups[unit.Contract]; failed {
			skipped[unit.Contract] = append(skipped[unit.Contract], unit)
			result := Result{ID: unit.ID(), Unit: unit, Status: proof.StatusFailed, Reason: setupFailedReason}
			p.metrics.observe(result, 0)
			skippedResults = append(skippedResults, result)
			continue
		}
		testTasks = append(testTasks, task{unit: unit, setupFinal: finalStates[unit.Contract]})
	}

	var failedSetupIDs []string
	for contract, setup := range failedSetups {
		failedSetupIDs = append(failedSetupIDs, setup.ID)
		p.logger.Error("Setup ", colors.Bold, setup.ID, colors.Reset, " failed, skipping ", len(skipped[contract]),
			" tests: ", setup.Reason)
		if err = p.Events.SetupFailed.Publish(SetupFailedEvent{Setup: setup, Skipped: skipped[contract]}); err != nil {
			return newResults(setupResults, skippedResults), err
		}
	}
	slices.Sort(failedSetupIDs)

	testResults, err := p.runPhase(ctx, testTasks)
	results := newResults(setupResults, skippedResults, testResults)
	if err != nil {
		return results, err
	}
	if len(failedSetupIDs) > 0 {
		return results, errors.WithStack(&SetupFailedError{Units: failedSetupIDs})
	}
	return results, nil
}

// runPhase processes the tasks on up to Workers workers fed over a channel. Worker i keeps index i for every task
// it processes. It returns once every task has a result; tasks that were never handed out because ctx was
// cancelled are reported as failed.
func (p *Prover) runPhase(ctx context.Context, tasks []task) ([]Result, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	taskChannel := make(chan task)
	resultChannel := make(chan Result, len(tasks))
	group, groupCtx := errgroup.WithContext(ctx)

	// Feed tasks until all are handed out or the run is cancelled.
	group.Go(func() error {
		defer close(taskChannel)
		for _, t := range tasks {
			select {
			case taskChannel <- t:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
		return nil
	})

	for workerIndex := range min(p.config.Proving.Workers, len(tasks)) {
		group.Go(func() error {
			for t := range taskChannel {
				resultChannel <- p.runTask(ctx, workerIndex, t)
			}
			return nil
		})
	}

	err := group.Wait()
	if err == nil {
		err = ctx.Err()
	}
	close(resultChannel)

	results := make([]Result, 0, len(tasks))
	processed := make(map[string]bool)
	for result := range resultChannel {
		results = append(results, result)
		processed[result.ID] = true
	}
	var unprocessed []units.Unit
	for _, t := range tasks {
		if !processed[t.unit.ID()] {
			unprocessed = append(unprocessed, t.unit)
		}
	}
	return append(results, abandoned(unprocessed, err)...), errors.WithStack(err)
}

// abandoned reports units that were never processed because the run stopped with err.
func abandoned(unprocessed []units.Unit, err error) []Result {
	return utils.SliceSelect(unprocessed, func(unit units.Unit) Result {
		return failedResult(unit, errors.WithStack(err))
	})
}
