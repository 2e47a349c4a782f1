package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/crytic/kprove/proving/explore"
	"github.com/crytic/kprove/proving/oracle"
	"github.com/crytic/kprove/proving/proof"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// stepNodeCmd represents the command provider for stepping a frontier node
var stepNodeCmd = &cobra.Command{
	Use:               "step-node <test> <node>",
	Short:             "Advances a frontier node of a proof",
	Long:              `Advances a frontier node of a persisted proof by the given depth, repeatedly stepping from the node reached.`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: cmdValidUnusedFlags,
	RunE:              cmdRunStepNode,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	addProofSessionFlags(stepNodeCmd)
	stepNodeCmd.Flags().Int("repeat", 1, "number of steps to take")
	stepNodeCmd.Flags().Int("depth", 1, "number of rewrite steps per step")
	rootCmd.AddCommand(stepNodeCmd)
}

// cmdRunStepNode executes the CLI step-node command
func cmdRunStepNode(cmd *cobra.Command, args []string) error {
	repeat, err := cmd.Flags().GetInt("repeat")
	if err != nil {
		return err
	}
	depth, err := cmd.Flags().GetInt("depth")
	if err != nil {
		return err
	}
	return runProofSession(cmd, args[0], func(ctx context.Context, session *proofSession) error {
		return withNodeOracle(ctx, session.config.Oracle, func(o oracle.Oracle) error {
			return stepNode(ctx, cmd.OutOrStdout(), o, session.proof, args[1], repeat, depth)
		})
	})
}

// stepNode steps the node named by nodeArg up to repeat times. Stepping stops early when the oracle makes no
// progress.
func stepNode(ctx context.Context, out io.Writer, o oracle.Oracle, p *proof.Proof, nodeArg string, repeat int, depth int) error {
	id, err := parseNodeID(nodeArg)
	if err != nil {
		return err
	}
	if repeat <= 0 {
		return errors.Errorf("repeat must be positive, got %d", repeat)
	}

	explorer := explore.NewExplorer(o, explore.Options{MaxDepth: depth})
	for range repeat {
		next, err := explorer.Step(ctx, p, id, depth)
		if err != nil {
			return err
		}
		if next == id {
			fmt.Fprintf(out, "Node %d cannot be advanced\n", id)
			return nil
		}
		fmt.Fprintf(out, "Stepped node %d to node %d\n", id, next)
		id = next
	}
	return nil
}
