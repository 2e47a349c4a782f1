package proving

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/crytic/kprove/proving/cache"
	"github.com/crytic/kprove/proving/config"
	"github.com/crytic/kprove/proving/digest"
	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/kprove/proving/oracle"
	"github.com/crytic/kprove/proving/oracle/oracletest"
	"github.com/crytic/kprove/proving/proof"
	"github.com/crytic/kprove/proving/units"
	"github.com/crytic/kprove/proving/units/unitstest"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vault is a test contract with a setup, two passing tests and a failing one.
var vault = unitstest.Artifact{
	Name:     "VaultTest",
	Methods:  []string{"setUp()", "test_deposit()", "test_withdraw()", "test_overflow()"},
	Bytecode: "6080",
}

// vaultPrograms scripts the oracle for the units of vault.
var vaultPrograms = map[string]oracletest.Program{
	"vaultSetup": {oracletest.Next(), oracletest.Accept()},
	"deposit":    {oracletest.Next(), oracletest.Next(), oracletest.Accept()},
	"withdraw":   {oracletest.Branch("ok", 1, 2), oracletest.Accept(), oracletest.Accept()},
	"overflow":   {oracletest.Next(), oracletest.Reject()},
}

// fixture is a project on disk with a proof cache, templates and a scripted oracle.
type fixture struct {
	dir       string
	templates string
	project   *units.Project
	ledger    *digest.Ledger
	oracle    *oracletest.Oracle
	dialer    *oracletest.Dialer
	config    config.ProjectConfig
}

// newFixture writes the artifacts and opens a ledger. Templates are written separately per unit.
func newFixture(t *testing.T, programs map[string]oracletest.Program, artifacts ...unitstest.Artifact) *fixture {
	dir := t.TempDir()
	outDir := unitstest.WriteProject(t, filepath.Join(dir, "out"), artifacts...)
	project, err := units.Discover(outDir)
	require.NoError(t, err)
	ledger, err := digest.OpenLedger(filepath.Join(outDir, "kprove", "digest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	projectConfig := config.GetDefaultProjectConfig()
	projectConfig.Foundry.Out = outDir
	projectConfig.Proving.Workers = 2
	projectConfig.Proving.MaxDepth = 100
	projectConfig.Proving.SimplifyInit = false

	o := oracletest.New(programs)
	return &fixture{
		dir:       dir,
		templates: projectConfig.TemplateDirectory(),
		project:   project,
		ledger:    ledger,
		oracle:    o,
		dialer:    &oracletest.Dialer{Oracle: o},
		config:    *projectConfig,
	}
}

// template writes the template of a unit starting at the first instruction of prog.
func (f *fixture) template(t *testing.T, id string, prog string, fromSetup bool, constraints ...string) {
	unit, err := units.ParseID(id)
	require.NoError(t, err)
	init := oracletest.State(prog, 0, 0)
	for _, c := range constraints {
		init = init.AddConstraint(json.RawMessage(`"` + c + `"`))
	}
	require.NoError(t, cache.WriteTemplate(f.templates, unit, cache.Template{
		Init:          init,
		Target:        oracletest.Goal(prog),
		InitFromSetup: fromSetup,
	}))
}

// vaultTemplates writes the templates of every unit of vault.
func (f *fixture) vaultTemplates(t *testing.T) {
	f.template(t, "VaultTest.setUp()", "vaultSetup", false)
	f.template(t, "VaultTest.test_deposit()", "deposit", false)
	f.template(t, "VaultTest.test_withdraw()", "withdraw", false)
	f.template(t, "VaultTest.test_overflow()", "overflow", false)
}

// cache creates a proof cache over the fixture.
func (f *fixture) cache() *cache.Cache {
	return cache.New(cache.Options{
		ProofDirectory: f.config.ProofDirectory(),
		Format:         f.config.Proving.Format,
		BMCDepth:       f.config.Proving.BMCDepth,
	}, f.project, f.ledger, cache.NewFileFrontEnd(f.templates))
}

// prover creates a prover over the fixture using the given dialer.
func (f *fixture) prover(dialer oracle.Dialer) *Prover {
	return NewProver(f.config, f.cache(), dialer, prometheus.NewRegistry())
}

// selectAll returns every unit of the project.
func (f *fixture) selectAll(t *testing.T) []units.Unit {
	selected, err := f.project.Select(nil, nil)
	require.NoError(t, err)
	return selected
}

// TestRunProvesUnits checks a full run: results per unit, per-worker connections, events and metrics.
func TestRunProvesUnits(t *testing.T) {
	t.Parallel()
	f := newFixture(t, vaultPrograms, vault)
	f.vaultTemplates(t)
	prover := f.prover(f.dialer)

	var started, finished atomic.Int64
	prover.Events.ProofStarted.Subscribe(func(event ProofStartedEvent) error {
		assert.Less(t, event.WorkerIndex, 2)
		started.Add(1)
		return nil
	})
	prover.Events.ProofFinished.Subscribe(func(event ProofFinishedEvent) error {
		finished.Add(1)
		return nil
	})

	results, err := prover.Run(context.Background(), f.selectAll(t))
	require.NoError(t, err)
	require.Len(t, results.All(), 4)
	assert.False(t, results.Passed())

	for _, id := range []string{"VaultTest.setUp()", "VaultTest.test_deposit()", "VaultTest.test_withdraw()"} {
		result, ok := results.Get(id)
		require.True(t, ok, id)
		assert.True(t, result.Passed, id)
		assert.Equal(t, proof.StatusPassed, result.Status, id)
		assert.Equal(t, cache.LoadFresh, result.Load, id)
		assert.Empty(t, result.Reason, id)
	}
	failed := results.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "VaultTest.test_overflow()", failed[0].ID)
	assert.Equal(t, proof.StatusFailed, failed[0].Status)
	assert.Equal(t, "1 stuck and 0 bounded nodes", failed[0].Reason)
	assert.Equal(t, 1, failed[0].Summary.Stuck)
	assert.NoError(t, failed[0].Err)

	// One fresh connection per task, never shared by two workers, all closed.
	assert.Len(t, f.dialer.Dials(), 4)
	for _, workerIndex := range f.dialer.Dials() {
		assert.Less(t, workerIndex, 2)
	}
	assert.False(t, f.dialer.Shared())
	assert.LessOrEqual(t, f.dialer.MaxOpen(), 2)
	assert.Zero(t, f.dialer.OpenConnections())

	assert.EqualValues(t, 4, started.Load())
	assert.EqualValues(t, 4, finished.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(prover.Metrics().ProofCounter("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prover.Metrics().ProofCounter("failed")))
	assert.Equal(t, float64(f.oracle.Calls("terminal")), testutil.ToFloat64(prover.OracleMetrics().CallCounter("terminal", "ok")))

	// Every proof was persisted.
	proofCache := f.cache()
	for _, result := range results.All() {
		assert.True(t, proofCache.Exists(result.ID), result.ID)
	}
}

// TestRunReusesProofs checks that a second run over unchanged contracts loads every proof without oracle calls.
func TestRunReusesProofs(t *testing.T) {
	t.Parallel()
	f := newFixture(t, vaultPrograms, vault)
	f.vaultTemplates(t)

	_, err := f.prover(f.dialer).Run(context.Background(), f.selectAll(t))
	require.NoError(t, err)
	calls := f.oracle.TotalCalls()
	dials := len(f.dialer.Dials())

	results, err := f.prover(f.dialer).Run(context.Background(), f.selectAll(t))
	require.NoError(t, err)
	for _, result := range results.All() {
		assert.Equal(t, cache.LoadReused, result.Load, result.ID)
	}
	assert.Equal(t, calls, f.oracle.TotalCalls())
	// Completed proofs are reported without connecting to the oracle.
	assert.Len(t, f.dialer.Dials(), dials)
	passed, _ := results.Get("VaultTest.test_deposit()")
	assert.True(t, passed.Passed)

	// Reinitialization explores again.
	reinitCache := cache.New(cache.Options{
		ProofDirectory: f.config.ProofDirectory(),
		Format:         f.config.Proving.Format,
		Reinit:         true,
	}, f.project, f.ledger, cache.NewFileFrontEnd(f.templates))
	results, err = NewProver(f.config, reinitCache, f.dialer, nil).Run(context.Background(), f.selectAll(t))
	require.NoError(t, err)
	for _, result := range results.All() {
		assert.Equal(t, cache.LoadFresh, result.Load, result.ID)
	}
	assert.Greater(t, f.oracle.TotalCalls(), calls)
}

// TestSetupFailureSkipsTests checks that the tests of a contract whose setup failed are reported without being
// dialed, while other contracts proceed.
func TestSetupFailureSkipsTests(t *testing.T) {
	t.Parallel()
	programs := map[string]oracletest.Program{
		"vaultSetup":  vaultPrograms["vaultSetup"],
		"deposit":     vaultPrograms["deposit"],
		"brokenSetup": {oracletest.Next(), oracletest.Reject()},
		"never":       {oracletest.Accept()},
	}
	f := newFixture(t, programs,
		unitstest.Artifact{Name: "VaultTest", Methods: []string{"setUp()", "test_deposit()"}, Bytecode: "6080"},
		unitstest.Artifact{Name: "BrokenTest", Methods: []string{"setUp()", "test_never()", "test_never_either()"}, Bytecode: "6081"},
	)
	f.template(t, "VaultTest.setUp()", "vaultSetup", false)
	f.template(t, "VaultTest.test_deposit()", "deposit", false)
	f.template(t, "BrokenTest.setUp()", "brokenSetup", false)
	f.template(t, "BrokenTest.test_never()", "never", false)
	f.template(t, "BrokenTest.test_never_either()", "never", false)
	prover := f.prover(f.dialer)

	var setupFailed []SetupFailedEvent
	var lock sync.Mutex
	prover.Events.SetupFailed.Subscribe(func(event SetupFailedEvent) error {
		lock.Lock()
		defer lock.Unlock()
		setupFailed = append(setupFailed, event)
		return nil
	})

	results, err := prover.Run(context.Background(), f.selectAll(t))
	var setupErr *SetupFailedError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, []string{"BrokenTest.setUp()"}, setupErr.Units)

	require.Len(t, results.All(), 5)
	for _, id := range []string{"BrokenTest.test_never()", "BrokenTest.test_never_either()"} {
		result, ok := results.Get(id)
		require.True(t, ok)
		assert.False(t, result.Passed)
		assert.Equal(t, "setup failed", result.Reason)
		assert.False(t, f.cache().Exists(id), "skipped tests are never initialized")
	}
	deposit, _ := results.Get("VaultTest.test_deposit()")
	assert.True(t, deposit.Passed)

	// Only the setups and the deposit test reached the oracle.
	assert.Len(t, f.dialer.Dials(), 3)
	require.Len(t, setupFailed, 1)
	assert.Equal(t, "BrokenTest.setUp()", setupFailed[0].Setup.ID)
	assert.Len(t, setupFailed[0].Skipped, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(prover.Metrics().ProofCounter("setup_failed")))
}

// TestSetupStateHandOff checks that a test asking for it starts from the final state of its setup proof.
func TestSetupStateHandOff(t *testing.T) {
	t.Parallel()
	programs := map[string]oracletest.Program{
		"readySetup": {oracletest.Next(), oracletest.Next(), oracletest.Accept()},
	}
	f := newFixture(t, programs, unitstest.Artifact{Name: "ReadyTest", Methods: []string{"setUp()", "test_ready()"}})
	f.template(t, "ReadyTest.setUp()", "readySetup", false)
	f.template(t, "ReadyTest.test_ready()", "unused", true, "ready")

	results, err := f.prover(f.dialer).Run(context.Background(), f.selectAll(t))
	require.NoError(t, err)
	assert.True(t, results.Passed())

	p, err := f.cache().Load("ReadyTest.test_ready()")
	require.NoError(t, err)
	init, err := p.KCFG.Node(p.Init())
	require.NoError(t, err)
	expected := oracletest.State("readySetup", 2, 2).AddConstraint(json.RawMessage(`"ready"`))
	assert.True(t, init.CTerm.Equal(expected))
}

// TestSimplifyInit checks that fresh proofs get their init and target simplified.
func TestSimplifyInit(t *testing.T) {
	t.Parallel()
	programs := map[string]oracletest.Program{"line": {oracletest.Next(), oracletest.Accept()}}
	f := newFixture(t, programs, unitstest.Artifact{Name: "LineTest", Methods: []string{"test_line()"}})
	f.template(t, "LineTest.test_line()", "line", false, "b", "a", "b")
	f.config.Proving.SimplifyInit = true

	results, err := f.prover(f.dialer).Run(context.Background(), f.selectAll(t))
	require.NoError(t, err)
	assert.True(t, results.Passed())
	assert.Equal(t, 2, f.oracle.Calls("simplify"))

	p, err := f.cache().Load("LineTest.test_line()")
	require.NoError(t, err)
	init, err := p.KCFG.Node(p.Init())
	require.NoError(t, err)
	expected := oracletest.State("line", 0, 0).
		AddConstraint(json.RawMessage(`"a"`)).
		AddConstraint(json.RawMessage(`"b"`))
	assert.True(t, init.CTerm.Equal(expected))
	assert.NotEmpty(t, p.Logs(p.Init()))
}

// panicDialer hands out connections whose terminal check panics on states of the "boom" program.
type panicDialer struct {
	*oracletest.Dialer
}

func (d panicDialer) Dial(ctx context.Context, workerIndex int) (oracle.Connection, error) {
	conn, err := d.Dialer.Dial(ctx, workerIndex)
	if err != nil {
		return nil, err
	}
	return panicConnection{Connection: conn}, nil
}

type panicConnection struct {
	oracle.Connection
}

func (c panicConnection) Terminal(ctx context.Context, state kcfg.CTerm) (bool, error) {
	if bytes.Contains(state.Config, []byte(`"boom"`)) {
		panic("terminal check exploded")
	}
	return c.Connection.Terminal(ctx, state)
}

// TestWorkerFailuresAreIsolated checks that a panicking unit and a unit without template fail on their own.
func TestWorkerFailuresAreIsolated(t *testing.T) {
	t.Parallel()
	programs := map[string]oracletest.Program{
		"boom": {oracletest.Accept()},
		"fine": {oracletest.Next(), oracletest.Accept()},
	}
	f := newFixture(t, programs, unitstest.Artifact{
		Name:    "MixedTest",
		Methods: []string{"test_boom()", "test_fine()", "test_untemplated()"},
	})
	f.template(t, "MixedTest.test_boom()", "boom", false)
	f.template(t, "MixedTest.test_fine()", "fine", false)

	results, err := f.prover(panicDialer{Dialer: f.dialer}).Run(context.Background(), f.selectAll(t))
	require.NoError(t, err)

	boom, _ := results.Get("MixedTest.test_boom()")
	assert.False(t, boom.Passed)
	assert.Contains(t, boom.Reason, "worker panicked")
	untemplated, _ := results.Get("MixedTest.test_untemplated()")
	assert.False(t, untemplated.Passed)
	assert.Contains(t, untemplated.Reason, "no template")
	fine, _ := results.Get("MixedTest.test_fine()")
	assert.True(t, fine.Passed)

	assert.Zero(t, f.dialer.OpenConnections(), "connections are closed when a worker panics")
	assert.False(t, f.cache().Exists("MixedTest.test_boom()"))
}

// TestOracleFailureIsNotRecorded checks that a unit whose exploration failed keeps its partial proof but is not
// recorded in the ledger.
func TestOracleFailureIsNotRecorded(t *testing.T) {
	t.Parallel()
	programs := map[string]oracletest.Program{"line": {oracletest.Next(), oracletest.Next(), oracletest.Accept()}}
	f := newFixture(t, programs, unitstest.Artifact{Name: "LineTest", Methods: []string{"test_line()"}})
	f.template(t, "LineTest.test_line()", "line", false)
	f.oracle.FailOn("implies", errors.WithStack(&oracle.CallError{Method: "oracle_implies", Kind: oracle.ErrOracleCrash, Err: errors.New("connection reset")}))

	results, err := f.prover(f.dialer).Run(context.Background(), f.selectAll(t))
	require.NoError(t, err)
	result, _ := results.Get("LineTest.test_line()")
	assert.False(t, result.Passed)
	assert.ErrorIs(t, result.Err, oracle.ErrOracleCrash)
	assert.True(t, f.cache().Exists("LineTest.test_line()"), "partial progress is persisted")

	unit := units.Unit{Contract: "LineTest", Signature: "test_line()"}
	status, err := f.ledger.Check(f.project, unit)
	require.NoError(t, err)
	assert.False(t, status.UpToDate)
}

// TestDialFailure checks that every unit fails when no worker can reach the oracle.
func TestDialFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, vaultPrograms, vault)
	f.vaultTemplates(t)
	f.dialer.FailDial = errors.WithStack(&oracle.CallError{Method: "oracle_version", Kind: oracle.ErrOracleCrash, Err: errors.New("connection refused")})

	results, err := f.prover(f.dialer).Run(context.Background(), f.selectAll(t))
	var setupErr *SetupFailedError
	require.ErrorAs(t, err, &setupErr)
	for _, result := range results.All() {
		assert.False(t, result.Passed, result.ID)
	}
	setup, _ := results.Get("VaultTest.setUp()")
	assert.ErrorIs(t, setup.Err, oracle.ErrOracleCrash)
	assert.Zero(t, f.oracle.TotalCalls())
}

// TestRunCancelled checks that a cancelled run reports every unit as failed without calling the oracle.
func TestRunCancelled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, vaultPrograms, vault)
	f.vaultTemplates(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := f.prover(f.dialer).Run(ctx, f.selectAll(t))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results.All(), 4)
	assert.Len(t, results.Failed(), 4)
	assert.Zero(t, f.oracle.TotalCalls())
	assert.Empty(t, f.dialer.Dials())
}
