package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crytic/kprove/logging"
	"github.com/crytic/kprove/logging/colors"
	"github.com/crytic/kprove/proving/cache"
	"github.com/crytic/kprove/proving/config"
	"github.com/crytic/kprove/proving/digest"
	"github.com/crytic/kprove/proving/units"
	"github.com/crytic/kprove/utils"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// cmdValidUnusedFlags returns the flags of the command that have not been set yet, for dynamic completion.
func cmdValidUnusedFlags(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var unusedFlags []string

	// When adding a flag to a command, include the "--" prefix to indicate that it is a flag and not a positional
	// argument.
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			unusedFlags = append(unusedFlags, "--"+flag.Name)
		}
	})
	return unusedFlags, cobra.ShellCompDirectiveNoFileComp
}

// loadProjectConfig obtains the project configuration of a command and navigates through the following
// possibilities:
// #1: We will search for either a custom config file (via --config) or the default (kprove.json).
// If we find it, read it. If we can't read it, throw an error.
// #2: If a custom file was provided (--config was used), and we can't find the file, throw an error.
// #3: If kprove.json can't be found, use the default project configuration.
// A relative foundry root is resolved against the directory of the config file.
func loadProjectConfig(cmd *cobra.Command) (*config.ProjectConfig, error) {
	// Check to see if --config flag was used and store the value of --config flag
	configFlagUsed := cmd.Flags().Changed("config")
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// If --config was not used, look for `kprove.json` in the current work directory
	if !configFlagUsed {
		workingDirectory, err := os.Getwd()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		configPath = filepath.Join(workingDirectory, DefaultProjectConfigFilename)
	}

	// Check to see if the file exists at configPath
	_, existenceError := os.Stat(configPath)

	// Possibility #2: If the --config flag was used, and we couldn't find the file, we'll throw an error
	if configFlagUsed && existenceError != nil {
		return nil, errors.WithStack(existenceError)
	}

	// Possibility #3: --config flag was not used and kprove.json was not found, so use the default project config
	if existenceError != nil {
		cmdLogger.Warn(fmt.Sprintf("Unable to find the config file at %v, will use the default project configuration instead", configPath))
		return config.GetDefaultProjectConfig(), nil
	}

	// Possibility #1: File was found
	cmdLogger.Info("Reading the configuration file at: ", colors.Bold, configPath, colors.Reset)
	projectConfig, err := config.ReadProjectConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(projectConfig.Foundry.Root) {
		projectConfig.Foundry.Root = filepath.Join(filepath.Dir(configPath), projectConfig.Foundry.Root)
	}
	return projectConfig, nil
}

// setupLogging replaces the global logger with one honoring the logging configuration: console output on stdout
// and, when a log directory is configured, a structured log file named after a fresh run id. The returned function
// closes the log file.
func setupLogging(loggingConfig config.LoggingConfig) (func(), error) {
	logging.GlobalLogger = logging.NewLogger(loggingConfig.Level)
	logging.GlobalLogger.AddWriter(os.Stdout, logging.UNSTRUCTURED, !loggingConfig.NoColor)
	if loggingConfig.LogDirectory == "" {
		return func() {}, nil
	}

	if err := utils.MakeDirectory(loggingConfig.LogDirectory); err != nil {
		return nil, err
	}
	logPath := filepath.Join(loggingConfig.LogDirectory, "kprove-"+uuid.NewString()+".log")
	file, err := os.Create(logPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	logging.GlobalLogger.AddWriter(file, logging.STRUCTURED, false)
	cmdLogger.Debug("Writing structured logs to ", logPath)
	return func() {
		logging.GlobalLogger.RemoveWriter(file, logging.STRUCTURED, false)
		if err := file.Close(); err != nil {
			cmdLogger.Warn("Failed to close the log file ", logPath, err)
		}
	}, nil
}

// workspace holds the project, digest ledger and proof cache a command operates on.
type workspace struct {
	config  *config.ProjectConfig
	project *units.Project
	ledger  *digest.Ledger
	cache   *cache.Cache
}

// openWorkspace discovers the build artifacts of the project and opens its digest ledger and proof cache. The
// workspace must be closed to release the ledger.
func openWorkspace(projectConfig *config.ProjectConfig) (*workspace, error) {
	project, err := units.Discover(projectConfig.OutDirectory(), proofDirectoryInOut(projectConfig)...)
	if err != nil {
		return nil, err
	}
	ledger, err := digest.OpenLedger(projectConfig.DigestDatabasePath())
	if err != nil {
		return nil, err
	}
	proofCache := cache.New(cache.Options{
		ProofDirectory: projectConfig.ProofDirectory(),
		Format:         projectConfig.Proving.Format,
		Compress:       projectConfig.Proving.Compress,
		Reinit:         projectConfig.Proving.Reinit,
		BMCDepth:       projectConfig.Proving.BMCDepth,
	}, project, ledger, cache.NewFileFrontEnd(projectConfig.TemplateDirectory()))
	return &workspace{config: projectConfig, project: project, ledger: ledger, cache: proofCache}, nil
}

// proofDirectoryInOut returns the proof directory relative to the build output directory when it lies inside it.
func proofDirectoryInOut(projectConfig *config.ProjectConfig) []string {
	rel, err := filepath.Rel(projectConfig.OutDirectory(), projectConfig.ProofDirectory())
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return []string{rel}
}

// close releases the digest ledger.
func (w *workspace) close() {
	if err := w.ledger.Close(); err != nil {
		cmdLogger.Warn("Failed to close the digest ledger", err)
	}
}
