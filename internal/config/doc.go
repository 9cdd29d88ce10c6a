// Package config provides configuration management for evalpipe.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have sensible defaults for a local run: in-memory
// bus and lock, statistics stored in a SQLite file, no HTTP API.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	topology := cfg.Topology()
package config
