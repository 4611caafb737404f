// Package restrict confines the daemon's filesystem access if the
// operating system provides an API for that. The daemon only ever reads
// artifact bytes from the configured media root, so everything else can
// be walled off once startup is complete.
package restrict

import (
	"fmt"
	"log"

	"github.com/landlock-lsm/go-landlock/landlock"
)

// ExtraHook is set when testing to make the landlock rule set more
// permissive.
var ExtraHook func() []landlock.Rule

// MaybeFileSystem restricts the process to read-only access of roDirs
// (plus the OS paths in defaultRoDirs that name-service lookups need) and
// read-write access of rwDirs, best-effort for the running kernel.
func MaybeFileSystem(roDirs []string, rwDirs []string) error {
	re := ExtraHook
	if re == nil {
		re = func() []landlock.Rule {
			return nil
		}
	}
	log.Printf("setting up landlock ACL (paths ro: %d, paths rw: %d)", len(roDirs), len(rwDirs))
	err := landlock.V3.BestEffort().RestrictPaths(
		append(re(), []landlock.Rule{
			landlock.RODirs(defaultRoDirs...).IgnoreIfMissing(),
			landlock.RODirs(roDirs...).IgnoreIfMissing(),
			landlock.RWDirs(rwDirs...).WithRefer(),
		}...)...)
	if err != nil {
		return fmt.Errorf("landlock: %v", err)
	}
	return nil
}
