package aggregator

import (
	"time"

	"github.com/dreamware/stratus/internal/archive"
	"github.com/dreamware/stratus/internal/scheduler"
	"github.com/dreamware/stratus/internal/snapshot"
)

// DefaultWaitTime is the freshness expiry window used when none is
// configured.
const DefaultWaitTime = 30 * time.Second

// Config holds the settings of one aggregation server.
type Config struct {
	Snapshot   snapshot.Files // database and archive file locations
	BindHost   string         // empty binds all interfaces
	WaitTime   time.Duration  // archive entries older than this expire; <= 0 disables
	Port       int            // 0 picks a free port
	FreshCount int            // update queue bound
	Workers    int            // scheduler pool size
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Snapshot: snapshot.Files{
			DatabasePath: snapshot.DefaultDatabasePath,
			ArchivePath:  snapshot.DefaultArchivePath,
		},
		WaitTime:   DefaultWaitTime,
		FreshCount: archive.DefaultFreshCount,
		Workers:    scheduler.DefaultWorkers,
	}
}
