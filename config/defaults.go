package config

import "time"

// Default runtime limits and analysis parameters for the sales analysis server.
// Env overrides are applied by Load in env.go; internal/runtime and the analysis
// packages reference these when a value is unset.

const (
	// Concurrency
	DefaultMaxConcurrentRequests = 10
	DefaultMaxOpenDatasets       = 16

	// Row bounds
	DefaultMaxRowsPerFile = 200_000
	DefaultPageSize       = 50 // rows per segment_products page
	DefaultMaxFiles       = 36 // three years of monthly files
)

const (
	// Clustering; the seed keeps assignments reproducible run to run
	DefaultClusterSeed    = 42
	DefaultClusterMaxIter = 300
	DefaultClusterNInit   = 10

	// Ranking
	DefaultTopN        = 5
	DefaultTopProducts = 10
)

const (
	// Timeouts
	DefaultOperationTimeout      = 30 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second

	// Dataset handle cache
	DefaultDatasetIdleTTL       = 30 * time.Minute
	DefaultDatasetCleanupPeriod = time.Minute
)
