package oracle_test

import (
	"context"
	"testing"
	"time"

	"github.com/crytic/kprove/proving/oracle"
	"github.com/crytic/kprove/proving/oracle/oracletest"
	"github.com/crytic/medusa-geth/rpc"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newInProcClient serves the scripted oracle over an in-process JSON-RPC server and returns a client for it.
func newInProcClient(t *testing.T, o *oracletest.Oracle, callTimeout time.Duration) *oracle.Client {
	server, err := oracletest.NewServer(o, "1.4.2")
	require.NoError(t, err)
	t.Cleanup(server.Stop)

	client := oracle.NewClient(rpc.DialInProc(server), "inproc", callTimeout)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// TestClientRoundTrip checks every method over the wire against the scripted semantics.
func TestClientRoundTrip(t *testing.T) {
	t.Parallel()
	o := oracletest.New(map[string]oracletest.Program{
		"p": {oracletest.Next(), oracletest.Branch("c", 2, 3), oracletest.Accept(), oracletest.Reject()},
	})
	client := newInProcClient(t, o, time.Second)
	ctx := context.Background()

	init := oracletest.State("p", 0, 0)
	step, err := client.Step(ctx, init, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, step.Depth, "stepping stops in front of an unresolved branch")
	assert.NotEmpty(t, step.Logs)

	branches, err := client.Branches(ctx, step.State)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.JSONEq(t, `"c#1"`, string(branches[0]))

	taken := step.State.AddConstraint(branches[0])
	final, err := client.Step(ctx, taken, 10)
	require.NoError(t, err)
	terminal, err := client.Terminal(ctx, final.State)
	require.NoError(t, err)
	assert.True(t, terminal)

	implies, err := client.Implies(ctx, final.State, oracletest.Goal("p"))
	require.NoError(t, err)
	assert.True(t, implies.Valid)
	assert.Contains(t, implies.Substitution, "PC")

	simplified, err := client.Simplify(ctx, taken.AddConstraint(branches[0]))
	require.NoError(t, err)
	assert.Len(t, simplified.State.Constraints, 1, "simplification deduplicates constraints")

	same, err := client.SameLoop(ctx, init, init)
	require.NoError(t, err)
	assert.False(t, same, "pc 0 is not a loop head")

	version, err := client.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.4.2", version)
}

// TestClientTimeout checks that a call exceeding the call timeout is classified as a timeout.
func TestClientTimeout(t *testing.T) {
	t.Parallel()
	o := oracletest.New(map[string]oracletest.Program{"p": {oracletest.Hang()}})
	client := newInProcClient(t, o, 50*time.Millisecond)

	_, err := client.Step(context.Background(), oracletest.State("p", 0, 0), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, oracle.ErrOracleTimeout)
	assert.NotErrorIs(t, err, oracle.ErrOracleCrash)

	var callErr *oracle.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "oracle_step", callErr.Method)
	assert.Equal(t, "inproc", callErr.Endpoint)
}

// TestClientCrash checks that a server-side failure is classified as a crash.
func TestClientCrash(t *testing.T) {
	t.Parallel()
	o := oracletest.New(map[string]oracletest.Program{"p": {oracletest.Accept()}})
	o.FailOn("terminal", errors.New("backend exited"))
	client := newInProcClient(t, o, time.Second)

	_, err := client.Terminal(context.Background(), oracletest.State("p", 0, 0))
	assert.ErrorIs(t, err, oracle.ErrOracleCrash)
	assert.ErrorContains(t, err, "backend exited")

	// A closed connection is a crash as well.
	require.NoError(t, client.Close())
	_, err = client.Branches(context.Background(), oracletest.State("p", 0, 0))
	assert.ErrorIs(t, err, oracle.ErrOracleCrash)
}

// TestCheckVersion checks the minimum server version gate.
func TestCheckVersion(t *testing.T) {
	t.Parallel()
	client := newInProcClient(t, oracletest.New(nil), time.Second)
	ctx := context.Background()

	assert.NoError(t, client.CheckVersion(ctx, ""))
	assert.NoError(t, client.CheckVersion(ctx, "1.4.0"))
	assert.Error(t, client.CheckVersion(ctx, "2.0.0"))
	assert.Error(t, client.CheckVersion(ctx, "not-a-version"))
}

// TestInstrumentedDialer checks that calls through an instrumented connection are counted by outcome.
func TestInstrumentedDialer(t *testing.T) {
	t.Parallel()
	o := oracletest.New(map[string]oracletest.Program{"p": {oracletest.Accept()}})
	metrics := oracle.NewMetrics(prometheus.NewRegistry())
	dialer := &oracle.InstrumentedDialer{Dialer: &oracletest.Dialer{Oracle: o}, Metrics: metrics}

	conn, err := dialer.Dial(context.Background(), 0)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		_, err = conn.Terminal(context.Background(), oracletest.State("p", 0, 0))
		require.NoError(t, err)
	}
	o.FailOn("implies", errors.New("boom"))
	_, err = conn.Implies(context.Background(), oracletest.State("p", 0, 0), oracletest.Goal("p"))
	require.Error(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.CallCounter("terminal", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CallCounter("implies", "crash")))
	assert.Equal(t, 3, o.Calls("terminal"))
}
