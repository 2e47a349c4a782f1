package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/crytic/kprove/proving/proof"
	"github.com/spf13/cobra"
)

// removeNodeCmd represents the command provider for removing a node from a persisted proof
var removeNodeCmd = &cobra.Command{
	Use:               "remove-node <test> <node>",
	Short:             "Removes a node and the subgraph below it from a proof",
	Long:              `Removes a node of a persisted proof together with every node only reachable through it. The target node is kept.`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: cmdValidUnusedFlags,
	RunE:              cmdRunRemoveNode,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	addProofSessionFlags(removeNodeCmd)
	rootCmd.AddCommand(removeNodeCmd)
}

// cmdRunRemoveNode executes the CLI remove-node command
func cmdRunRemoveNode(cmd *cobra.Command, args []string) error {
	return runProofSession(cmd, args[0], func(ctx context.Context, session *proofSession) error {
		return removeNode(cmd.OutOrStdout(), session.proof, args[1])
	})
}

// removeNode removes the node named by nodeArg from the proof.
func removeNode(out io.Writer, p *proof.Proof, nodeArg string) error {
	id, err := parseNodeID(nodeArg)
	if err != nil {
		return err
	}
	before := p.Summary().Nodes
	if err = p.RemoveNode(id); err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %d nodes from %s\n", before-p.Summary().Nodes, p.ID)
	return nil
}
