package cmd

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/crytic/kprove/cmd/exitcodes"
	"github.com/crytic/kprove/logging/colors"
	"github.com/crytic/kprove/proving/config"
	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/kprove/proving/oracle"
	"github.com/crytic/kprove/proving/proof"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// proofSession is the persisted proof of one unit, opened by a command which edits it.
type proofSession struct {
	*workspace

	// proof is the loaded proof. Changes are written back by save.
	proof *proof.Proof
}

// openProofSession opens the workspace of the project and loads the persisted proof of the unit with the given id.
func openProofSession(projectConfig *config.ProjectConfig, id string) (*proofSession, error) {
	ws, err := openWorkspace(projectConfig)
	if err != nil {
		return nil, err
	}
	unit, err := ws.project.Unit(id)
	if err != nil {
		ws.close()
		return nil, err
	}
	p, err := ws.cache.Load(unit.ID())
	if err != nil {
		ws.close()
		return nil, err
	}
	return &proofSession{workspace: ws, proof: p}, nil
}

// save persists the proof.
func (s *proofSession) save() error {
	return s.cache.Persist(s.proof)
}

// parseNodeID parses a node id argument.
func parseNodeID(arg string) (kcfg.NodeID, error) {
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || id < 0 {
		return 0, errors.Errorf("invalid node id %q", arg)
	}
	return kcfg.NodeID(id), nil
}

// parseEdge parses an edge argument of the form "<src>,<dst>".
func parseEdge(arg string) (kcfg.NodeID, kcfg.NodeID, error) {
	srcArg, dstArg, ok := strings.Cut(arg, ",")
	if !ok {
		return 0, 0, errors.Errorf("invalid edge %q, expected <source>,<target>", arg)
	}
	src, err := parseNodeID(srcArg)
	if err != nil {
		return 0, 0, err
	}
	dst, err := parseNodeID(dstArg)
	if err != nil {
		return 0, 0, err
	}
	return src, dst, nil
}

// addProofSessionFlags adds the flags shared by the commands editing a persisted proof.
func addProofSessionFlags(cmd *cobra.Command) {
	cmd.Flags().SortFlags = false
	cmd.Flags().String("config", "", "path to config file")
}

// runProofSession loads the configuration of a command editing the proof of the unit with the given id, opens the
// proof and hands it to edit. The proof is persisted when edit returns without error. Interrupts cancel ctx.
func runProofSession(cmd *cobra.Command, id string, edit func(ctx context.Context, session *proofSession) error) error {
	projectConfig, err := loadProjectConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the ", cmd.Name(), " command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	closeLogs, err := setupLogging(projectConfig.Logging)
	if err != nil {
		cmdLogger.Error("Failed to set up logging", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	defer closeLogs()

	session, err := openProofSession(projectConfig, id)
	if err != nil {
		cmdLogger.Error("Failed to open the proof of ", colors.Bold, id, colors.Reset, err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	defer session.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err = edit(ctx, session); err != nil {
		cmdLogger.Error("Failed to run the ", cmd.Name(), " command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	if err = session.save(); err != nil {
		cmdLogger.Error("Failed to persist the proof of ", colors.Bold, id, colors.Reset, err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	return nil
}

// withNodeOracle dials the oracle endpoint of the node commands and closes the connection after fn returns.
func withNodeOracle(ctx context.Context, oracleConfig config.OracleConfig, fn func(o oracle.Oracle) error) error {
	conn, err := oracle.NewEndpointDialer(oracleConfig).Dial(ctx, DefaultNodeOracleWorker)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			cmdLogger.Warn("Failed to close the oracle connection", err)
		}
	}()
	return fn(conn)
}
