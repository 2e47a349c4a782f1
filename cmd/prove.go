package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/crytic/kprove/cmd/exitcodes"
	"github.com/crytic/kprove/logging/colors"
	"github.com/crytic/kprove/proving"
	"github.com/crytic/kprove/proving/config"
	"github.com/crytic/kprove/proving/oracle"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// proveCmd represents the command provider for proving
var proveCmd = &cobra.Command{
	Use:               "prove",
	Short:             "Proves the selected tests of a foundry project",
	Long:              `Proves the selected tests of a foundry project, reusing persisted proofs whose code did not change`,
	Args:              cmdValidateProveArgs,
	ValidArgsFunction: cmdValidUnusedFlags,
	RunE:              cmdRunProve,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	// Add all the flags allowed for the prove command
	err := addProveFlags()
	if err != nil {
		cmdLogger.Panic("Failed to initialize the prove command", err)
	}

	// Add the prove command and its associated flags to the root command
	rootCmd.AddCommand(proveCmd)
}

// cmdValidateProveArgs makes sure that there are no positional arguments provided to the prove command
func cmdValidateProveArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		err = fmt.Errorf("prove does not accept any positional arguments, only flags and their associated values")
		cmdLogger.Error("Failed to validate args to the prove command", err)
		return err
	}
	return nil
}

// cmdRunProve executes the CLI prove command
func cmdRunProve(cmd *cobra.Command, args []string) error {
	projectConfig, err := loadProjectConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the prove command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	// Update the project configuration given whatever flags were set using the CLI
	err = updateProjectConfigWithProveFlags(cmd, projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to run the prove command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	if err = projectConfig.Validate(); err != nil {
		cmdLogger.Error("Failed to run the prove command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	closeLogs, err := setupLogging(projectConfig.Logging)
	if err != nil {
		cmdLogger.Error("Failed to set up logging", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	defer closeLogs()

	registry := prometheus.NewRegistry()
	metricsAddr, err := cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		server := serveMetrics(metricsAddr, registry)
		defer server.Close()
	}

	// Stop proving on keyboard interrupts
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return runProve(ctx, cmd.OutOrStdout(), projectConfig, oracle.NewEndpointDialer(projectConfig.Oracle), registry)
}

// serveMetrics exposes the registry on addr/metrics until the returned server is closed.
func serveMetrics(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cmdLogger.Warn("Metrics endpoint stopped", err)
		}
	}()
	cmdLogger.Info("Serving metrics on ", colors.Bold, "http://", addr, "/metrics", colors.Reset)
	return server
}

// runProve selects the units of the project, proves them with workers reaching the oracle through dialer and
// prints one line per unit to out. The returned error carries the exit code of the run.
func runProve(ctx context.Context, out io.Writer, projectConfig *config.ProjectConfig, dialer oracle.Dialer, reg prometheus.Registerer) error {
	ws, err := openWorkspace(projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to open the project", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	defer ws.close()

	// Unknown test patterns abort before any worker starts
	selected, err := ws.project.Select(projectConfig.Proving.Tests, projectConfig.Proving.ExcludeTests)
	if err != nil {
		cmdLogger.Error("Failed to select the tests to prove", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	prover := proving.NewProver(*projectConfig, ws.cache, dialer, reg)
	results, runErr := prover.Run(ctx, selected)
	printResults(out, results)
	return proveExitError(results, runErr)
}

// printResults writes the outcome of every unit.
func printResults(out io.Writer, results *proving.Results) {
	for _, result := range results.All() {
		if result.Passed {
			fmt.Fprintf(out, "PROOF PASSED: %s\n", result.ID)
			continue
		}
		fmt.Fprintf(out, "PROOF FAILED: %s\n", result.ID)
		if result.Reason != "" {
			fmt.Fprintf(out, "  %s\n", result.Reason)
		}
	}
}

// proveExitError maps the outcome of a run to the error carrying its exit code.
func proveExitError(results *proving.Results, runErr error) error {
	var setupErr *proving.SetupFailedError
	switch {
	case errors.As(runErr, &setupErr):
		return exitcodes.NewErrorWithExitCode(runErr, exitcodes.ExitCodeSetupFailed)
	case runErr != nil:
		cmdLogger.Error("Proving stopped", runErr)
		return exitcodes.NewErrorWithExitCode(runErr, exitcodes.ExitCodeHandledError)
	}
	if failed := results.Failed(); len(failed) > 0 {
		return exitcodes.NewErrorWithExitCode(errors.Errorf("%d of %d proofs failed", len(failed), len(results.All())), exitcodes.ExitCodeProofFailed)
	}
	return nil
}
