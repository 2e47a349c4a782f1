package logging

// SERVICE_KEY is the field name sub-loggers use to identify the package that emitted an event.
const SERVICE_KEY = "service"

// These constants are used to identify the various services that may do some logging
const (
	// PROVER_SERVICE is the constant used to identify the proof scheduler
	PROVER_SERVICE = "prover"
	// EXPLORER_SERVICE is the constant used to identify the explorer
	EXPLORER_SERVICE = "explorer"
	// CACHE_SERVICE is the constant used to identify the proof cache and digest ledger
	CACHE_SERVICE = "cache"
	// ORACLE_SERVICE is the constant used to identify the symbolic-execution server client
	ORACLE_SERVICE = "oracle"
	// CLI_SERVICE is the constant used to identify the cmd package
	CLI_SERVICE = "cli"
)
