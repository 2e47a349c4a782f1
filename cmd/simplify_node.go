package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/crytic/kprove/proving/explore"
	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/kprove/proving/oracle"
	"github.com/crytic/kprove/proving/proof"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// simplifyNodeCmd represents the command provider for simplifying the state of a node
var simplifyNodeCmd = &cobra.Command{
	Use:               "simplify-node <test> <node>",
	Short:             "Simplifies the state of a proof node",
	Long:              `Asks the oracle to simplify the state of a proof node and prints the result. With --replace the node is updated in the persisted proof.`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: cmdValidUnusedFlags,
	RunE:              cmdRunSimplifyNode,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	addProofSessionFlags(simplifyNodeCmd)
	simplifyNodeCmd.Flags().Bool("replace", false, "replace the node's state with the simplified one")
	rootCmd.AddCommand(simplifyNodeCmd)
}

// cmdRunSimplifyNode executes the CLI simplify-node command
func cmdRunSimplifyNode(cmd *cobra.Command, args []string) error {
	replace, err := cmd.Flags().GetBool("replace")
	if err != nil {
		return err
	}
	return runProofSession(cmd, args[0], func(ctx context.Context, session *proofSession) error {
		return withNodeOracle(ctx, session.config.Oracle, func(o oracle.Oracle) error {
			return simplifyNode(ctx, cmd.OutOrStdout(), o, session.proof, args[1], replace)
		})
	})
}

// simplifyNode prints the simplified state of the node named by nodeArg, replacing it in the proof if replace is
// set.
func simplifyNode(ctx context.Context, out io.Writer, o oracle.Oracle, p *proof.Proof, nodeArg string, replace bool) error {
	id, err := parseNodeID(nodeArg)
	if err != nil {
		return err
	}
	var state kcfg.CTerm
	if replace {
		if err = explore.NewExplorer(o, explore.Options{}).Simplify(ctx, p, id); err != nil {
			return err
		}
		node, err := p.KCFG.Node(id)
		if err != nil {
			return err
		}
		state = node.CTerm
	} else {
		node, err := p.KCFG.Node(id)
		if err != nil {
			return err
		}
		result, err := o.Simplify(ctx, node.CTerm)
		if err != nil {
			return err
		}
		state = result.State
	}

	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	fmt.Fprintf(out, "%s\n", b)
	return nil
}
