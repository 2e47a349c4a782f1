package cmd

// DefaultProjectConfigFilename describes the default config filename for a given project folder.
const DefaultProjectConfigFilename = "kprove.json"

// DefaultNodeOracleWorker is the worker index whose oracle endpoint the node commands connect to.
const DefaultNodeOracleWorker = 0
