// Package config provides concurrency and codec tuning for high load.
package config

import (
	"runtime"
)

// Config holds tuned parameters for the codec, store and tunnel.
type Config struct {
	// Codec defaults
	DefaultBase int // B, the alphabet size new models are created with

	// Channel buffer sizes
	AdminBroadcastBuffer int // per admin feed client outbound queue
	TunnelRelayBuffer    int // bytes per read from a tunnel leg

	// Connection pools
	StoreMaxOpenConns int
	StoreMaxIdleConns int

	// Worker pools
	EncodeWorkers int // concurrent Obfuscate goroutines a batch job may run

	// Rate limiting
	MaxTunnelConnsPerHost int
	MaxAdminClients       int
}

// DefaultConfig returns sensible defaults for production.
func DefaultConfig() *Config {
	numCPU := runtime.NumCPU()

	return &Config{
		DefaultBase: 64,

		AdminBroadcastBuffer: 256,
		TunnelRelayBuffer:    4096,

		StoreMaxOpenConns: numCPU * 4,
		StoreMaxIdleConns: numCPU * 2,

		EncodeWorkers: numCPU,

		MaxTunnelConnsPerHost: 200,
		MaxAdminClients:       50,
	}
}

// StressTestConfig returns aggressive settings for load testing the tunnel
// and store under many concurrent connections.
func StressTestConfig() *Config {
	numCPU := runtime.NumCPU()

	return &Config{
		DefaultBase: 64,

		AdminBroadcastBuffer: 512,
		TunnelRelayBuffer:    8192,

		StoreMaxOpenConns: numCPU * 8,
		StoreMaxIdleConns: numCPU * 4,

		EncodeWorkers: numCPU * 2,

		MaxTunnelConnsPerHost: 500,
		MaxAdminClients:       200,
	}
}

// LowResourceConfig returns minimal settings for development.
func LowResourceConfig() *Config {
	return &Config{
		DefaultBase: 16,

		AdminBroadcastBuffer: 16,
		TunnelRelayBuffer:    1024,

		StoreMaxOpenConns: 5,
		StoreMaxIdleConns: 2,

		EncodeWorkers: 2,

		MaxTunnelConnsPerHost: 20,
		MaxAdminClients:       10,
	}
}

// Recommendations provides suggestions based on observed metrics.
type Recommendations struct {
	IncreaseEncodeWorkers bool
	IncreaseAdminBuffer   bool
	IncreaseStoreConns    bool
	Notes                 []string
}

// Analyze examines a metrics.Collector.Snapshot() map and returns tuning
// recommendations.
func Analyze(snapshot map[string]interface{}) *Recommendations {
	rec := &Recommendations{
		Notes: make([]string, 0),
	}

	if encode, ok := snapshot["encode"].(map[string]interface{}); ok {
		if maxLat, ok := encode["max_latency_ms"].(float64); ok && maxLat > 100 {
			rec.IncreaseEncodeWorkers = true
			rec.Notes = append(rec.Notes, "encode latency exceeds 100ms - increase encode workers")
		}
		if retries, ok := encode["algorithm_retries"].(int64); ok && retries > 0 {
			rec.Notes = append(rec.Notes, "algorithm retries observed - model may be too sparse for its base")
		}
	}

	if store, ok := snapshot["store"].(map[string]interface{}); ok {
		if errs, ok := store["write_errors"].(int64); ok && errs > 0 {
			rec.IncreaseStoreConns = true
			rec.Notes = append(rec.Notes, "store write errors detected - check connection pool")
		}
	}

	if admin, ok := snapshot["admin"].(map[string]interface{}); ok {
		if clients, ok := admin["active_clients"].(int64); ok && clients > 100 {
			rec.IncreaseAdminBuffer = true
			rec.Notes = append(rec.Notes, "many admin clients connected - increase broadcast buffer")
		}
	}

	return rec
}

// ApplyRecommendations modifies config based on recommendations.
func ApplyRecommendations(cfg *Config, rec *Recommendations) *Config {
	if rec.IncreaseEncodeWorkers {
		cfg.EncodeWorkers *= 2
	}
	if rec.IncreaseAdminBuffer {
		cfg.AdminBroadcastBuffer *= 2
	}
	if rec.IncreaseStoreConns {
		cfg.StoreMaxOpenConns = int(float64(cfg.StoreMaxOpenConns) * 1.5)
		cfg.StoreMaxIdleConns = int(float64(cfg.StoreMaxIdleConns) * 1.5)
	}
	return cfg
}
