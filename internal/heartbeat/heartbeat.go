// Package heartbeat maintains this daemon's process-level liveness
// record: a heartbeat is upserted into the backend every configured
// interval under the key "rsync-<pid>@<hostname>", so the surrounding
// content-management system can tell the daemon apart from a crashed
// one.
package heartbeat

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gokrazy/pulprsyncd/internal/backend"
	"github.com/gokrazy/pulprsyncd/internal/log"
)

// Key returns the heartbeat key for the current process:
// "rsync-<pid>@<hostname>".
func Key() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("rsync-%d@%s", os.Getpid(), hostname)
}

// Run upserts a heartbeat into sink every interval until ctx is canceled.
// It writes one heartbeat immediately on entry so a just-started daemon
// doesn't wait a full interval before becoming visible.
func Run(ctx context.Context, sink backend.HeartbeatSink, interval time.Duration, logger log.Logger) {
	key := Key()
	beat := func() {
		if err := sink.Heartbeat(key, time.Now()); err != nil && logger != nil {
			logger.Printf("heartbeat: %v", err)
		}
	}

	beat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}
