package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crytic/kprove/proving/proof"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ProjectConfig describes the full configuration of a kprove project.
type ProjectConfig struct {
	// Foundry describes where the build artifacts of the project live.
	Foundry FoundryConfig `json:"foundry" yaml:"foundry"`

	// Proving describes the configuration used when exploring proofs.
	Proving ProvingConfig `json:"proving" yaml:"proving"`

	// Oracle describes how workers reach the symbolic execution server.
	Oracle OracleConfig `json:"oracle" yaml:"oracle"`

	// Logging describes the configuration used for logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// FoundryConfig describes the layout of a foundry project.
type FoundryConfig struct {
	// Root is the project root. Relative paths in this config are resolved against it.
	Root string `json:"root" yaml:"root"`

	// Out is the build output directory holding <File>.sol/<Contract>.json artifacts.
	Out string `json:"out" yaml:"out"`
}

// ProvingConfig describes the configuration options used by the proving.Prover.
type ProvingConfig struct {
	// Workers describes how many proofs are explored concurrently.
	Workers int `json:"workers" yaml:"workers"`

	// MaxDepth describes the maximum number of rewrite steps the oracle takes per step call.
	MaxDepth int `json:"maxDepth" yaml:"maxDepth"`

	// MaxIterations bounds the number of exploration iterations per proof. Zero disables the bound.
	MaxIterations int `json:"maxIterations" yaml:"maxIterations"`

	// MaxTotalDepth bounds the total number of rewrite steps taken per proof. Zero disables the bound.
	MaxTotalDepth int `json:"maxTotalDepth" yaml:"maxTotalDepth"`

	// BMCDepth enables bounded model checking with the given loop bound when set.
	BMCDepth *int `json:"bmcDepth,omitempty" yaml:"bmcDepth,omitempty"`

	// ImplicationEveryBlock checks subsumption into the target before every expansion instead of only at terminal
	// states.
	ImplicationEveryBlock bool `json:"implicationEveryBlock" yaml:"implicationEveryBlock"`

	// SimplifyInit simplifies the init and target states of freshly created proofs.
	SimplifyInit bool `json:"simplifyInit" yaml:"simplifyInit"`

	// SimplifyFrontier simplifies every frontier node before it is expanded.
	SimplifyFrontier bool `json:"simplifyFrontier" yaml:"simplifyFrontier"`

	// Reinit discards every persisted proof and starts from scratch.
	Reinit bool `json:"reinit" yaml:"reinit"`

	// Tests lists the test patterns to prove. When empty, every test* method of every *Test contract is proven.
	Tests []string `json:"tests" yaml:"tests"`

	// ExcludeTests lists test patterns to skip.
	ExcludeTests []string `json:"excludeTests" yaml:"excludeTests"`

	// ProofDirectory is the directory proofs are persisted in. Relative paths resolve against Foundry.Out.
	ProofDirectory string `json:"proofDirectory" yaml:"proofDirectory"`

	// Format is the proof file encoding.
	Format proof.Format `json:"format" yaml:"format"`

	// Compress zstd-compresses persisted proofs.
	Compress bool `json:"compress" yaml:"compress"`
}

// OracleConfig describes how workers reach the symbolic execution server.
type OracleConfig struct {
	// Scheme is the URL scheme of the JSON-RPC endpoint.
	Scheme string `json:"scheme" yaml:"scheme"`

	// Host is the host of the JSON-RPC endpoint.
	Host string `json:"host" yaml:"host"`

	// BasePort is the port of worker 0. Worker i uses BasePort + i.
	BasePort int `json:"basePort" yaml:"basePort"`

	// CallTimeout is the time in seconds a single oracle call may take. Zero disables the timeout.
	CallTimeout int `json:"callTimeout" yaml:"callTimeout"`

	// MinVersion is the lowest server version accepted, or empty to skip the check.
	MinVersion string `json:"minVersion" yaml:"minVersion"`

	// ServerCommand, if set, is started per task with an additional --port argument and stopped when the task
	// finishes.
	ServerCommand []string `json:"serverCommand" yaml:"serverCommand"`

	// StartupTimeout is the time in seconds a started server has to accept connections.
	StartupTimeout int `json:"startupTimeout" yaml:"startupTimeout"`
}

// LoggingConfig describes the configuration options used for logging
type LoggingConfig struct {
	// Level describes whether logs of certain severity levels (eg info, warning, etc.) will be emitted or discarded.
	Level zerolog.Level `json:"level" yaml:"level"`

	// LogDirectory describes the directory where structured log files will be written. If empty, no log files are
	// kept.
	LogDirectory string `json:"logDirectory" yaml:"logDirectory"`

	// NoColor disables ANSI colors on the console.
	NoColor bool `json:"noColor" yaml:"noColor"`
}

// Endpoint returns the JSON-RPC endpoint used by the worker with the given index.
func (o OracleConfig) Endpoint(workerIndex int) string {
	return fmt.Sprintf("%s://%s:%d", o.Scheme, o.Host, o.Port(workerIndex))
}

// Port returns the port used by the worker with the given index.
func (o OracleConfig) Port(workerIndex int) int {
	return o.BasePort + workerIndex
}

// CallTimeoutDuration returns the per-call timeout, or zero if disabled.
func (o OracleConfig) CallTimeoutDuration() time.Duration {
	return time.Duration(o.CallTimeout) * time.Second
}

// OutDirectory returns the absolute-or-root-relative build output directory.
func (p *ProjectConfig) OutDirectory() string {
	if filepath.IsAbs(p.Foundry.Out) {
		return p.Foundry.Out
	}
	return filepath.Join(p.Foundry.Root, p.Foundry.Out)
}

// ProofDirectory returns the directory proofs are persisted in.
func (p *ProjectConfig) ProofDirectory() string {
	if filepath.IsAbs(p.Proving.ProofDirectory) {
		return p.Proving.ProofDirectory
	}
	return filepath.Join(p.OutDirectory(), p.Proving.ProofDirectory)
}

// DigestDatabasePath returns the path of the digest ledger.
func (p *ProjectConfig) DigestDatabasePath() string {
	return filepath.Join(p.OutDirectory(), "kprove", "digest.db")
}

// TemplateDirectory returns the directory the front-end writes init/target templates to.
func (p *ProjectConfig) TemplateDirectory() string {
	return filepath.Join(p.OutDirectory(), "kprove", "templates")
}

// isYAML reports whether a config path should be treated as YAML.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ReadProjectConfigFromFile reads a ProjectConfig from a provided file path. Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON. Fields missing from the file keep their default values.
func ReadProjectConfigFromFile(path string) (*ProjectConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	projectConfig := GetDefaultProjectConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(b, projectConfig)
	} else {
		err = json.Unmarshal(b, projectConfig)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse project config %s", path)
	}
	return projectConfig, nil
}

// WriteToFile writes the ProjectConfig to a provided file path in a JSON-serialized format, or YAML for .yaml and
// .yml paths.
func (p *ProjectConfig) WriteToFile(path string) error {
	var b []byte
	var err error
	if isYAML(path) {
		b, err = yaml.Marshal(p)
	} else {
		b, err = json.MarshalIndent(p, "", "\t")
	}
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(path, b, 0644))
}

// InvalidConfigurationError is returned by Validate when a configuration value is out of range.
type InvalidConfigurationError struct {
	// Field is the config path of the offending value.
	Field string
	// Reason describes the accepted range.
	Reason string
}

// Error implements the error interface.
func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// invalid creates an InvalidConfigurationError with a stack trace attached.
func invalid(field string, reason string) error {
	return errors.WithStack(&InvalidConfigurationError{Field: field, Reason: reason})
}

// Validate validates that the ProjectConfig meets certain requirements.
// Returns an InvalidConfigurationError describing the first violation, if any.
func (p *ProjectConfig) Validate() error {
	// Verify the worker count is a positive number.
	if p.Proving.Workers <= 0 {
		return invalid("proving.workers", "must be a positive number")
	}

	// Verify the exploration bounds
	if p.Proving.MaxDepth <= 0 {
		return invalid("proving.maxDepth", "must be a positive number")
	}
	if p.Proving.MaxIterations < 0 {
		return invalid("proving.maxIterations", "must not be negative")
	}
	if p.Proving.MaxTotalDepth < 0 {
		return invalid("proving.maxTotalDepth", "must not be negative")
	}
	if p.Proving.BMCDepth != nil && *p.Proving.BMCDepth <= 0 {
		return invalid("proving.bmcDepth", "must be a positive number when set")
	}

	// Verify the proof encoding
	if p.Proving.Format != proof.FormatJSON && p.Proving.Format != proof.FormatCBOR {
		return invalid("proving.format", fmt.Sprintf("must be %q or %q", proof.FormatJSON, proof.FormatCBOR))
	}

	// Verify the oracle endpoint
	if p.Oracle.Scheme == "" || p.Oracle.Host == "" {
		return invalid("oracle", "scheme and host must be set")
	}
	if p.Oracle.BasePort <= 0 || p.Oracle.Port(p.Proving.Workers-1) > 65535 {
		return invalid("oracle.basePort", "must leave room for one port per worker below 65536")
	}
	if p.Oracle.CallTimeout < 0 || p.Oracle.StartupTimeout < 0 {
		return invalid("oracle", "timeouts must not be negative")
	}
	return nil
}
