package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/crytic/kprove/proving/explore"
	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/kprove/proving/oracle"
	"github.com/crytic/kprove/proving/proof"
	"github.com/crytic/kprove/utils"
	"github.com/spf13/cobra"
)

// sectionEdgeCmd represents the command provider for splitting an edge into sections
var sectionEdgeCmd = &cobra.Command{
	Use:               "section-edge <test> <source,target>",
	Short:             "Splits an edge of a proof into consecutive edges",
	Long:              `Splits an edge of a persisted proof into the given number of consecutive edges of near equal depth.`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: cmdValidUnusedFlags,
	RunE:              cmdRunSectionEdge,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	addProofSessionFlags(sectionEdgeCmd)
	sectionEdgeCmd.Flags().Int("sections", 2, "number of sections to split the edge into")
	rootCmd.AddCommand(sectionEdgeCmd)
}

// cmdRunSectionEdge executes the CLI section-edge command
func cmdRunSectionEdge(cmd *cobra.Command, args []string) error {
	sections, err := cmd.Flags().GetInt("sections")
	if err != nil {
		return err
	}
	return runProofSession(cmd, args[0], func(ctx context.Context, session *proofSession) error {
		return withNodeOracle(ctx, session.config.Oracle, func(o oracle.Oracle) error {
			return sectionEdge(ctx, cmd.OutOrStdout(), o, session.proof, args[1], sections)
		})
	})
}

// sectionEdge splits the edge named by edgeArg into the given number of sections.
func sectionEdge(ctx context.Context, out io.Writer, o oracle.Oracle, p *proof.Proof, edgeArg string, sections int) error {
	src, dst, err := parseEdge(edgeArg)
	if err != nil {
		return err
	}
	ids, err := explore.NewExplorer(o, explore.Options{}).SectionEdge(ctx, p, src, dst, sections)
	if err != nil {
		return err
	}
	names := utils.SliceSelect(ids, func(id kcfg.NodeID) string { return strconv.Itoa(int(id)) })
	fmt.Fprintf(out, "Split edge %d -> %d through nodes %s\n", src, dst, strings.Join(names, ", "))
	return nil
}
