package cmd

import (
	"fmt"

	"github.com/crytic/kprove/proving/config"
	"github.com/spf13/cobra"
)

// addInitFlags adds the various flags for the init command
func addInitFlags() error {
	defaultConfig := config.GetDefaultProjectConfig()

	// Output path for configuration
	initCmd.Flags().String("out", "", "output path for the new project configuration file")

	// Build output directory
	initCmd.Flags().String("foundry-out", "",
		fmt.Sprintf("foundry build output directory (default is %q)", defaultConfig.Foundry.Out))

	// Number of workers
	initCmd.Flags().Int("workers", 0,
		fmt.Sprintf("number of proofs explored concurrently (default is %d)", defaultConfig.Proving.Workers))
	return nil
}

// updateProjectConfigWithInitFlags will update the given projectConfig with any CLI arguments that were provided to
// the init command
func updateProjectConfigWithInitFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error
	if cmd.Flags().Changed("foundry-out") {
		projectConfig.Foundry.Out, err = cmd.Flags().GetString("foundry-out")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("workers") {
		projectConfig.Proving.Workers, err = cmd.Flags().GetInt("workers")
		if err != nil {
			return err
		}
	}
	return nil
}
