package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/crytic/kprove/cmd/exitcodes"
	"github.com/crytic/kprove/proving/cache"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// listCmd represents the command provider for listing persisted proofs
var listCmd = &cobra.Command{
	Use:               "list",
	Short:             "Lists the persisted proofs of a project",
	Long:              `Lists every persisted proof of a project with its status and node counts`,
	Args:              cobra.NoArgs,
	ValidArgsFunction: cmdValidUnusedFlags,
	RunE:              cmdRunList,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	listCmd.Flags().String("config", "", "path to config file")
	rootCmd.AddCommand(listCmd)
}

// cmdRunList executes the CLI list command
func cmdRunList(cmd *cobra.Command, args []string) error {
	projectConfig, err := loadProjectConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the list command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	if err = listProofs(cmd.OutOrStdout(), projectConfig.ProofDirectory()); err != nil {
		cmdLogger.Error("Failed to run the list command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	return nil
}

// listProofs writes a table of the proofs persisted in dir. Unreadable files are listed with their error.
func listProofs(out io.Writer, dir string) error {
	entries, err := cache.List(dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err = fmt.Fprintf(out, "No proofs found in %s\n", dir)
		return errors.WithStack(err)
	}

	writer := tabwriter.NewWriter(out, 4, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "PROOF\tSTATUS\tNODES\tFRONTIER\tSTUCK\tBOUNDED")
	for _, entry := range entries {
		if entry.Err != nil {
			fmt.Fprintf(writer, "%s\tunreadable\t%v\n", entry.Path, entry.Err)
			continue
		}
		summary := entry.Proof.Summary()
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%d\t%d\n", entry.Proof.ID, entry.Proof.Status(),
			summary.Nodes, summary.Frontier, summary.Stuck, summary.Bounded)
	}
	return errors.WithStack(writer.Flush())
}
