// Package backend defines the contract between this daemon's protocol
// core and the content-management system that actually owns modules and
// their published artifacts. The core never touches a filesystem or
// database directly; every lookup goes through this seam, which the real
// backend (and, in tests, internal/contentstore/memorystore) implements.
package backend

import (
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Store.Module when no module by that name
// exists. The core treats this identically to a gated module so it never
// leaks which modules exist to an unauthorized client.
var ErrNotFound = errors.New("backend: module not found")

// Store is the read-only query surface the protocol core consumes.
type Store interface {
	// ModuleNames returns every module name, in the order the daemon
	// should list them for an anonymous "list modules" request.
	ModuleNames() ([]string, error)

	// Module looks up a module by name. It returns ErrNotFound if no
	// such module exists.
	Module(name string) (Module, error)
}

// Module is a named view onto a set of published artifacts.
type Module interface {
	// Name is the module's unique, ASCII token name.
	Name() string

	// Gated reports whether this module should be treated as if it did
	// not exist.
	Gated() bool

	// Artifacts returns every artifact published under this module.
	// The core filters the result by relative-path prefix itself; a
	// backend free to return these lazily (e.g. a prefix-indexed
	// iterator) may do so, but this interface asks for the full set
	// since the core needs to scan it in full to synthesize directories.
	Artifacts() ([]Artifact, error)
}

// Artifact is an immutable, fully-materialized file published under a
// module.
type Artifact interface {
	// RelativePath is slash-separated, has no leading slash, and is
	// unique within its module.
	RelativePath() string

	// Size is the artifact's exact byte length.
	Size() uint64

	// ModTime is the artifact's modification time; sub-second precision
	// is preserved separately as seconds and nanoseconds on the wire.
	ModTime() time.Time

	// MD5 is the 16-byte MD5 digest of the artifact's full contents,
	// sent as the block-transfer phase's file checksum.
	MD5() [16]byte

	// Open returns a reader over the artifact's bytes, in order, from
	// the beginning. The caller closes it.
	Open() (io.ReadCloser, error)
}

// HeartbeatSink receives this daemon's periodic liveness record: a
// heartbeat is upserted every configured interval under the key
// "rsync-<pid>@<hostname>".
type HeartbeatSink interface {
	Heartbeat(key string, at time.Time) error
}
