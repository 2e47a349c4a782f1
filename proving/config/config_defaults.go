package config

import (
	"github.com/crytic/kprove/proving/proof"
	"github.com/rs/zerolog"
)

// GetDefaultProjectConfig obtains a default configuration for a project rooted in the working directory.
func GetDefaultProjectConfig() *ProjectConfig {
	return &ProjectConfig{
		Foundry: FoundryConfig{
			Root: ".",
			Out:  "out",
		},
		Proving: ProvingConfig{
			Workers:               1,
			MaxDepth:              1000,
			MaxIterations:         0,
			MaxTotalDepth:         0,
			BMCDepth:              nil,
			ImplicationEveryBlock: false,
			SimplifyInit:          true,
			SimplifyFrontier:      false,
			Tests:                 []string{},
			ExcludeTests:          []string{},
			ProofDirectory:        "kprove/proofs",
			Format:                proof.FormatJSON,
			Compress:              false,
		},
		Oracle: OracleConfig{
			Scheme:         "http",
			Host:           "localhost",
			BasePort:       3010,
			CallTimeout:    0,
			StartupTimeout: 30,
			ServerCommand:  []string{},
		},
		Logging: LoggingConfig{
			Level:        zerolog.InfoLevel,
			LogDirectory: "",
			NoColor:      false,
		},
	}
}
