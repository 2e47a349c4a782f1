package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crytic/kprove/cmd/exitcodes"
	"github.com/crytic/kprove/proving/cache"
	"github.com/crytic/kprove/proving/config"
	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/kprove/proving/oracle/oracletest"
	"github.com/crytic/kprove/proving/proof"
	"github.com/crytic/kprove/proving/units"
	"github.com/crytic/kprove/proving/units/unitstest"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vault is a test contract with a setup, a passing test and a failing one.
var vault = unitstest.Artifact{
	Name:     "VaultTest",
	Methods:  []string{"setUp()", "test_deposit()", "test_overflow()"},
	Bytecode: "6080",
}

// broken is a test contract whose setup never reaches its target.
var broken = unitstest.Artifact{
	Name:     "BrokenTest",
	Methods:  []string{"setUp()", "test_a()"},
	Bytecode: "6081",
}

// programs scripts the oracle for the units of vault and broken.
var programs = map[string]oracletest.Program{
	"setup":    {oracletest.Next(), oracletest.Accept()},
	"deposit":  {oracletest.Next(), oracletest.Next(), oracletest.Accept()},
	"overflow": {oracletest.Next(), oracletest.Reject()},
	"broken":   {oracletest.Reject()},
	"a":        {oracletest.Accept()},
}

// newProject writes the artifacts and one template per unit, then returns a config rooted at the project.
func newProject(t *testing.T, templates map[string]string, artifacts ...unitstest.Artifact) *config.ProjectConfig {
	dir := t.TempDir()
	unitstest.WriteProject(t, filepath.Join(dir, "out"), artifacts...)

	projectConfig := config.GetDefaultProjectConfig()
	projectConfig.Foundry.Root = dir
	projectConfig.Proving.Workers = 2
	projectConfig.Proving.MaxDepth = 100
	projectConfig.Proving.SimplifyInit = false
	for id, prog := range templates {
		unit, err := units.ParseID(id)
		require.NoError(t, err)
		require.NoError(t, cache.WriteTemplate(projectConfig.TemplateDirectory(), unit, cache.Template{
			Init:   oracletest.State(prog, 0, 0),
			Target: oracletest.Goal(prog),
		}))
	}
	return projectConfig
}

// vaultTemplates maps the units of vault to their programs.
var vaultTemplates = map[string]string{
	"VaultTest.setUp()":         "setup",
	"VaultTest.test_deposit()":  "deposit",
	"VaultTest.test_overflow()": "overflow",
}

// exitCode returns the exit code an error carries.
func exitCode(err error) int {
	_, code := exitcodes.GetInnerErrorAndExitCode(err)
	return code
}

// TestRunProveReportsFailedProofs checks the printed results and the exit code of a run with a failing test.
func TestRunProveReportsFailedProofs(t *testing.T) {
	t.Parallel()
	projectConfig := newProject(t, vaultTemplates, vault)
	o := oracletest.New(programs)

	var out bytes.Buffer
	err := runProve(context.Background(), &out, projectConfig, &oracletest.Dialer{Oracle: o}, prometheus.NewRegistry())
	assert.Equal(t, exitcodes.ExitCodeProofFailed, exitCode(err))
	assert.EqualError(t, err, "1 of 3 proofs failed")

	assert.Equal(t, "PROOF PASSED: VaultTest.setUp()\n"+
		"PROOF PASSED: VaultTest.test_deposit()\n"+
		"PROOF FAILED: VaultTest.test_overflow()\n"+
		"  1 stuck and 0 bounded nodes\n", out.String())
}

// TestRunProveSelection checks that excluded tests are never proven and that the proofs can be listed afterwards.
func TestRunProveSelection(t *testing.T) {
	t.Parallel()
	projectConfig := newProject(t, vaultTemplates, vault)
	projectConfig.Proving.ExcludeTests = []string{"test_overflow"}
	o := oracletest.New(programs)

	var out bytes.Buffer
	err := runProve(context.Background(), &out, projectConfig, &oracletest.Dialer{Oracle: o}, nil)
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "test_overflow")

	out.Reset()
	require.NoError(t, listProofs(&out, projectConfig.ProofDirectory()))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"PROOF", "STATUS", "NODES", "FRONTIER", "STUCK", "BOUNDED"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"VaultTest.setUp()", "passed", "3", "0", "0", "0"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"VaultTest.test_deposit()", "passed", "3", "0", "0", "0"}, strings.Fields(lines[2]))
}

// TestRunProveReusesProofs checks that a second run over unchanged contracts reuses every persisted proof without
// reaching the oracle, wherever below the build output the proofs are stored.
func TestRunProveReusesProofs(t *testing.T) {
	t.Parallel()
	for _, proofDir := range []string{"", "proofs"} {
		projectConfig := newProject(t, vaultTemplates, vault)
		projectConfig.Proving.ExcludeTests = []string{"test_overflow"}
		if proofDir != "" {
			projectConfig.Proving.ProofDirectory = proofDir
		}
		o := oracletest.New(programs)
		dialer := &oracletest.Dialer{Oracle: o}

		var first bytes.Buffer
		require.NoError(t, runProve(context.Background(), &first, projectConfig, dialer, nil), proofDir)
		calls := o.TotalCalls()
		dials := len(dialer.Dials())

		var second bytes.Buffer
		require.NoError(t, runProve(context.Background(), &second, projectConfig, dialer, nil), proofDir)
		assert.Equal(t, first.String(), second.String(), proofDir)
		assert.Equal(t, calls, o.TotalCalls(), proofDir)
		assert.Len(t, dialer.Dials(), dials, proofDir)

		ws, err := openWorkspace(projectConfig)
		require.NoError(t, err, proofDir)
		unit, err := ws.project.Unit("VaultTest.test_deposit()")
		require.NoError(t, err)
		_, load, err := ws.cache.LoadOrInit(unit, nil)
		require.NoError(t, err)
		assert.Equal(t, cache.LoadReused, load, proofDir)
		ws.close()

		// Node commands open the proofs written by prove.
		session, err := openProofSession(projectConfig, "VaultTest.test_deposit()")
		require.NoError(t, err, proofDir)
		assert.Equal(t, 3, session.proof.Summary().Nodes)
		session.close()
	}
}

// TestRunProveSetupFailure checks that tests of a failed setup are reported and the run exits with the setup code.
func TestRunProveSetupFailure(t *testing.T) {
	t.Parallel()
	projectConfig := newProject(t, map[string]string{
		"BrokenTest.setUp()":  "broken",
		"BrokenTest.test_a()": "a",
	}, broken)
	o := oracletest.New(programs)

	var out bytes.Buffer
	err := runProve(context.Background(), &out, projectConfig, &oracletest.Dialer{Oracle: o}, nil)
	assert.Equal(t, exitcodes.ExitCodeSetupFailed, exitCode(err))
	assert.Contains(t, out.String(), "PROOF FAILED: BrokenTest.test_a()\n  setup failed\n")
}

// TestRunProveUnknownTest checks that a pattern matching nothing aborts before the oracle is reached.
func TestRunProveUnknownTest(t *testing.T) {
	t.Parallel()
	projectConfig := newProject(t, vaultTemplates, vault)
	projectConfig.Proving.Tests = []string{"test_missing"}
	o := oracletest.New(programs)

	var out bytes.Buffer
	err := runProve(context.Background(), &out, projectConfig, &oracletest.Dialer{Oracle: o}, nil)
	assert.Equal(t, exitcodes.ExitCodeHandledError, exitCode(err))
	var unknownErr *units.UnknownUnitError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, []string{"test_missing"}, unknownErr.Patterns)
	assert.Zero(t, o.TotalCalls())
	assert.Empty(t, out.String())
}

// TestListWithoutProofs checks the output for a proof directory that does not exist.
func TestListWithoutProofs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proofs")
	var out bytes.Buffer
	require.NoError(t, listProofs(&out, dir))
	assert.Equal(t, "No proofs found in "+dir+"\n", out.String())
}

// depositProof returns a fresh proof of the deposit program.
func depositProof(constraints ...string) *proof.Proof {
	init := oracletest.State("deposit", 0, 0)
	for _, c := range constraints {
		init = init.AddConstraint(json.RawMessage(`"` + c + `"`))
	}
	return proof.NewProof("VaultTest.test_deposit()", init, oracletest.Goal("deposit"), nil)
}

// TestStepNode checks repeated stepping and the stop once the oracle makes no progress.
func TestStepNode(t *testing.T) {
	o := oracletest.New(programs)
	p := depositProof()

	var out bytes.Buffer
	require.NoError(t, stepNode(context.Background(), &out, o, p, "0", 2, 1))
	assert.Equal(t, "Stepped node 0 to node 2\nStepped node 2 to node 3\n", out.String())

	out.Reset()
	require.NoError(t, stepNode(context.Background(), &out, o, p, "3", 1, 1))
	assert.Equal(t, "Node 3 cannot be advanced\n", out.String())

	assert.Error(t, stepNode(context.Background(), &out, o, p, "0", 1, 1), "node 0 is no longer on the frontier")
	assert.Error(t, stepNode(context.Background(), &out, o, p, "3", 0, 1))
}

// TestSectionAndRemoveNode checks that a sectioned edge can be removed again with the nodes below it.
func TestSectionAndRemoveNode(t *testing.T) {
	o := oracletest.New(programs)
	p := depositProof()

	var out bytes.Buffer
	require.NoError(t, stepNode(context.Background(), &out, o, p, "0", 1, 2))

	out.Reset()
	require.NoError(t, sectionEdge(context.Background(), &out, o, p, "0,2", 2))
	assert.Equal(t, "Split edge 0 -> 2 through nodes 3\n", out.String())
	edge, ok := p.KCFG.Successor(0).(*kcfg.Edge)
	require.True(t, ok)
	assert.Equal(t, kcfg.NodeID(3), edge.Dst)
	assert.Equal(t, 1, edge.Depth)

	out.Reset()
	require.NoError(t, removeNode(&out, p, "3"))
	assert.Equal(t, "Removed 2 nodes from VaultTest.test_deposit()\n", out.String())
	assert.False(t, p.KCFG.Contains(2))
	assert.Equal(t, []kcfg.NodeID{0}, p.Frontier())

	assert.Error(t, removeNode(&out, p, "1"), "the target node cannot be removed")
	assert.Error(t, sectionEdge(context.Background(), &out, o, p, "0", 2))
}

// TestSimplifyNode checks that the simplified state is printed and only stored with replace.
func TestSimplifyNode(t *testing.T) {
	o := oracletest.New(programs)
	p := depositProof("b", "a", "b")

	var out bytes.Buffer
	require.NoError(t, simplifyNode(context.Background(), &out, o, p, "0", false))
	var printed kcfg.CTerm
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	assert.Len(t, printed.Constraints, 2)
	node, err := p.KCFG.Node(0)
	require.NoError(t, err)
	assert.Len(t, node.CTerm.Constraints, 3)

	out.Reset()
	require.NoError(t, simplifyNode(context.Background(), &out, o, p, "0", true))
	node, err = p.KCFG.Node(0)
	require.NoError(t, err)
	assert.Len(t, node.CTerm.Constraints, 2)
	assert.Equal(t, 2, o.Calls("simplify"))
}

// TestParseEdge checks the accepted edge notation.
func TestParseEdge(t *testing.T) {
	src, dst, err := parseEdge("4, 7")
	require.NoError(t, err)
	assert.Equal(t, kcfg.NodeID(4), src)
	assert.Equal(t, kcfg.NodeID(7), dst)

	for _, arg := range []string{"4", "a,7", "4,-1", ""} {
		_, _, err = parseEdge(arg)
		assert.Error(t, err, arg)
	}
}

// TestLoadProjectConfig checks config file lookup and root resolution.
func TestLoadProjectConfig(t *testing.T) {
	dir := t.TempDir()
	written := config.GetDefaultProjectConfig()
	written.Proving.Workers = 3
	configPath := filepath.Join(dir, "kprove.yaml")
	require.NoError(t, written.WriteToFile(configPath))

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "")
	require.NoError(t, cmd.Flags().Set("config", configPath))
	projectConfig, err := loadProjectConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 3, projectConfig.Proving.Workers)
	assert.Equal(t, dir, projectConfig.Foundry.Root)

	require.NoError(t, cmd.Flags().Set("config", filepath.Join(dir, "missing.json")))
	_, err = loadProjectConfig(cmd)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

// TestConfirmOverwrite checks the answers accepted by the overwrite prompt.
func TestConfirmOverwrite(t *testing.T) {
	var out bytes.Buffer
	overwrite, err := confirmOverwrite(strings.NewReader("Y\n"), &out)
	require.NoError(t, err)
	assert.True(t, overwrite)
	assert.Contains(t, out.String(), "Overwrite?")

	overwrite, err = confirmOverwrite(strings.NewReader("no\n"), &out)
	require.NoError(t, err)
	assert.False(t, overwrite)

	_, err = confirmOverwrite(strings.NewReader(""), &out)
	assert.Error(t, err)
}
