package cmd

import (
	"fmt"

	"github.com/crytic/kprove/proving/config"
	"github.com/crytic/kprove/proving/proof"
	"github.com/spf13/cobra"
)

// addProveFlags adds the various flags for the prove command
func addProveFlags() error {
	defaultConfig := config.GetDefaultProjectConfig()

	// Prevent alphabetical sorting of usage message
	proveCmd.Flags().SortFlags = false

	// Config file
	proveCmd.Flags().String("config", "", "path to config file")

	// Build output directory
	proveCmd.Flags().String("foundry-out", "",
		fmt.Sprintf("foundry build output directory (unless a config file is provided, default is %q)", defaultConfig.Foundry.Out))

	// Number of workers
	proveCmd.Flags().Int("workers", 0,
		fmt.Sprintf("number of proofs explored concurrently (unless a config file is provided, default is %d)", defaultConfig.Proving.Workers))

	// Exploration bounds
	proveCmd.Flags().Int("max-depth", 0,
		fmt.Sprintf("maximum rewrite steps per oracle step call (unless a config file is provided, default is %d)", defaultConfig.Proving.MaxDepth))
	proveCmd.Flags().Int("max-iterations", 0,
		"maximum exploration iterations per proof. 0 means that the bound is not enforced")
	proveCmd.Flags().Int("max-total-depth", 0,
		"maximum rewrite steps per proof. 0 means that the bound is not enforced")
	proveCmd.Flags().Int("bmc-depth", 0,
		"enable bounded model checking with the given loop bound")

	// Exploration behavior
	proveCmd.Flags().Bool("implication-every-block", false,
		fmt.Sprintf("check subsumption into the target before every expansion (unless a config file is provided, default is %t)", defaultConfig.Proving.ImplicationEveryBlock))
	proveCmd.Flags().Bool("simplify-init", false,
		fmt.Sprintf("simplify the init and target states of fresh proofs (unless a config file is provided, default is %t)", defaultConfig.Proving.SimplifyInit))
	proveCmd.Flags().Bool("simplify-frontier", false,
		fmt.Sprintf("simplify frontier states before expanding them (unless a config file is provided, default is %t)", defaultConfig.Proving.SimplifyFrontier))
	proveCmd.Flags().Bool("reinit", false, "discard persisted proofs and start from scratch")

	// Test selection
	proveCmd.Flags().StringArray("test", []string{}, "test pattern to prove, may be repeated (default is every test)")
	proveCmd.Flags().StringArray("exclude-test", []string{}, "test pattern to skip, may be repeated")

	// Proof persistence
	proveCmd.Flags().String("proof-dir", "",
		fmt.Sprintf("directory proofs are persisted in (unless a config file is provided, default is %q)", defaultConfig.Proving.ProofDirectory))
	proveCmd.Flags().String("format", "",
		fmt.Sprintf("proof file encoding, %q or %q (unless a config file is provided, default is %q)", proof.FormatJSON, proof.FormatCBOR, defaultConfig.Proving.Format))
	proveCmd.Flags().Bool("compress", false, "zstd-compress persisted proofs")

	// Oracle endpoint
	proveCmd.Flags().Int("oracle-port", 0,
		fmt.Sprintf("port of the oracle server of worker 0 (unless a config file is provided, default is %d)", defaultConfig.Oracle.BasePort))

	// Console output
	proveCmd.Flags().Bool("no-color", false, "disable colored terminal output")

	// Metrics
	proveCmd.Flags().String("metrics-addr", "", "address to serve prometheus metrics on while proving")
	return nil
}

// updateProjectConfigWithProveFlags will update the given projectConfig with any CLI arguments that were provided to
// the prove command
func updateProjectConfigWithProveFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error

	// Update the build output directory
	if cmd.Flags().Changed("foundry-out") {
		projectConfig.Foundry.Out, err = cmd.Flags().GetString("foundry-out")
		if err != nil {
			return err
		}
	}

	// Update the number of workers
	if cmd.Flags().Changed("workers") {
		projectConfig.Proving.Workers, err = cmd.Flags().GetInt("workers")
		if err != nil {
			return err
		}
	}

	// Update the exploration bounds
	if cmd.Flags().Changed("max-depth") {
		projectConfig.Proving.MaxDepth, err = cmd.Flags().GetInt("max-depth")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("max-iterations") {
		projectConfig.Proving.MaxIterations, err = cmd.Flags().GetInt("max-iterations")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("max-total-depth") {
		projectConfig.Proving.MaxTotalDepth, err = cmd.Flags().GetInt("max-total-depth")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("bmc-depth") {
		bmcDepth, err := cmd.Flags().GetInt("bmc-depth")
		if err != nil {
			return err
		}
		projectConfig.Proving.BMCDepth = &bmcDepth
	}

	// Update the exploration behavior
	if cmd.Flags().Changed("implication-every-block") {
		projectConfig.Proving.ImplicationEveryBlock, err = cmd.Flags().GetBool("implication-every-block")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("simplify-init") {
		projectConfig.Proving.SimplifyInit, err = cmd.Flags().GetBool("simplify-init")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("simplify-frontier") {
		projectConfig.Proving.SimplifyFrontier, err = cmd.Flags().GetBool("simplify-frontier")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("reinit") {
		projectConfig.Proving.Reinit, err = cmd.Flags().GetBool("reinit")
		if err != nil {
			return err
		}
	}

	// Update the test selection
	if cmd.Flags().Changed("test") {
		projectConfig.Proving.Tests, err = cmd.Flags().GetStringArray("test")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("exclude-test") {
		projectConfig.Proving.ExcludeTests, err = cmd.Flags().GetStringArray("exclude-test")
		if err != nil {
			return err
		}
	}

	// Update the proof persistence
	if cmd.Flags().Changed("proof-dir") {
		projectConfig.Proving.ProofDirectory, err = cmd.Flags().GetString("proof-dir")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("format") {
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}
		projectConfig.Proving.Format = proof.Format(format)
	}
	if cmd.Flags().Changed("compress") {
		projectConfig.Proving.Compress, err = cmd.Flags().GetBool("compress")
		if err != nil {
			return err
		}
	}

	// Update the oracle endpoint
	if cmd.Flags().Changed("oracle-port") {
		projectConfig.Oracle.BasePort, err = cmd.Flags().GetInt("oracle-port")
		if err != nil {
			return err
		}
	}

	// Update the console output
	if cmd.Flags().Changed("no-color") {
		projectConfig.Logging.NoColor, err = cmd.Flags().GetBool("no-color")
		if err != nil {
			return err
		}
	}
	return nil
}
