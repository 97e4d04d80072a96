// Package config builds server configurations from the environment.
//
// Every setting has a default; a variable that is unset or empty selects
// it. A numeric variable that does not parse also falls back to the
// default, and the problem is logged rather than treated as fatal.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/dreamware/stratus/internal/aggregator"
	"github.com/dreamware/stratus/internal/archive"
	"github.com/dreamware/stratus/internal/balancer"
	"github.com/dreamware/stratus/internal/scheduler"
	"github.com/dreamware/stratus/internal/snapshot"
)

// Environment variable names.
const (
	EnvHeartbeatSchedule = "HEARTBEAT_SCHEDULE"
	EnvWaitTime          = "WAIT_TIME"
	EnvFreshCount        = "FRESH_COUNT"
	EnvWorkerCount       = "WORKER_COUNT"
	EnvDatabaseDir       = "databaseDir"
	EnvArchiveDir        = "archiveDir"
	EnvBindHost          = "BIND_HOST"
	EnvProbeTimeout      = "PROBE_TIMEOUT"
)

// Aggregator returns the configuration of an aggregation server on port.
func Aggregator(port int) aggregator.Config {
	return aggregator.Config{
		Port:       port,
		BindHost:   getenv(EnvBindHost, ""),
		WaitTime:   getenvMillis(EnvWaitTime, aggregator.DefaultWaitTime),
		FreshCount: getenvInt(EnvFreshCount, archive.DefaultFreshCount),
		Workers:    getenvInt(EnvWorkerCount, scheduler.DefaultWorkers),
		Snapshot: snapshot.Files{
			DatabasePath: getenv(EnvDatabaseDir, snapshot.DefaultDatabasePath),
			ArchivePath:  getenv(EnvArchiveDir, snapshot.DefaultArchivePath),
		},
	}
}

// Balancer returns the configuration of a load balancer on port. Its
// built-in replica shares the aggregator settings.
func Balancer(port int) balancer.Config {
	replica := Aggregator(0)
	return balancer.Config{
		Port:              port,
		BindHost:          replica.BindHost,
		Replica:           replica,
		HeartbeatSchedule: getenvMillis(EnvHeartbeatSchedule, balancer.DefaultHeartbeatSchedule),
		ProbeTimeout:      getenvMillis(EnvProbeTimeout, balancer.DefaultProbeTimeout),
		MaxSpawnAttempts:  balancer.DefaultMaxSpawnAttempts,
	}
}

// ParsePort parses a TCP port argument.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: %s=%q is not an integer, using %d", k, v, def)
		return def
	}
	return n
}

// getenvMillis reads a duration given in whole milliseconds.
func getenvMillis(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("config: %s=%q is not a number of milliseconds, using %v", k, v, def)
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
