// Package flist synthesizes an rsync file list from a module's flat
// artifact namespace. The content-management backend has no directories
// at all, only artifacts named by their full slash-separated relative
// path; this package derives the directory tree a client expects to see,
// folding each synthesized directory's mtime to the minimum mtime of
// anything beneath it.
package flist

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gokrazy/pulprsyncd/internal/backend"
	"github.com/gokrazy/pulprsyncd/internal/filter"
	"github.com/gokrazy/pulprsyncd/rsync"
)

// Entry is either a synthesized directory or a real artifact. Exactly one
// of Dir/File is non-nil.
type Entry struct {
	// Name is the path fragment as seen by the client, relative to the
	// request path.
	Name string

	Dir  *DirEntry
	File *FileEntry
}

// DirEntry is a synthesized directory; it has no backing artifact.
type DirEntry struct {
	MTime time.Time
}

// FileEntry wraps a real artifact.
type FileEntry struct {
	Artifact backend.Artifact
}

// IsDir reports whether e is a synthesized directory.
func (e Entry) IsDir() bool { return e.Dir != nil }

// MTime returns the entry's modification time regardless of its kind.
func (e Entry) MTime() time.Time {
	if e.Dir != nil {
		return e.Dir.MTime
	}
	return e.File.Artifact.ModTime()
}

// Size returns the entry's reported size: rsync.DirSize for directories,
// the artifact's exact size for files.
func (e Entry) Size() uint64 {
	if e.Dir != nil {
		return rsync.DirSize
	}
	return e.File.Artifact.Size()
}

// Mode returns the entry's on-wire mode.
func (e Entry) Mode() uint32 {
	if e.Dir != nil {
		return rsync.DirMode
	}
	return rsync.FileMode
}

// Flags returns the entry's on-wire status flag word.
func (e Entry) Flags() uint16 {
	if e.Dir != nil {
		return rsync.DirEntryFlags
	}
	return rsync.FileEntryFlags
}

// ErrorReporter receives the warning-level errors this package emits
// while synthesizing a file list (an over-long name, or an empty result).
// The caller typically wires this to rsyncwire.MultiplexWriter.WriteError.
type ErrorReporter func(string)

// Build synthesizes the ordered file list for one request against module.
// p is the request path relative to the module root, possibly empty or
// ending in "/". trailingSlash records whether the client's original
// module-qualified path ended in "/"; without it, a request that resolves
// to a directory collapses to a single entry for the directory itself
// (named after the module when p is empty) instead of listing its
// contents, matching how rsync treats a source path without a trailing
// slash. The result is sorted lexicographically by Name, directories and
// files interleaved, ready to be indexed by the block-transfer phase.
func Build(module backend.Module, p string, trailingSlash, recursive bool, rules filter.Rules, report ErrorReporter) ([]Entry, error) {
	artifacts, err := module.Artifacts()
	if err != nil {
		return nil, fmt.Errorf("flist: listing artifacts: %w", err)
	}

	// An exact artifact match wins over directory synthesis.
	for _, a := range artifacts {
		if a.RelativePath() == p {
			return finalize([]Entry{{Name: p, File: &FileEntry{Artifact: a}}}, rules, report, module.Name(), p)
		}
	}

	// Treat p as a directory.
	hasSlash := trailingSlash || strings.HasSuffix(p, "/")
	q := p
	if q != "" && !strings.HasSuffix(q, "/") {
		q += "/"
	}

	dirs := make(map[string]time.Time)
	files := make(map[string]backend.Artifact)

	setMin := func(name string, t time.Time) {
		if cur, ok := dirs[name]; !ok || t.Before(cur) {
			dirs[name] = t
		}
	}

	for _, a := range artifacts {
		rel := a.RelativePath()
		if !strings.HasPrefix(rel, q) {
			continue
		}
		tail := rel[len(q):]
		lastsep := strings.LastIndex(tail, "/")
		if lastsep < 0 {
			files[tail] = a
			continue
		}

		subdirs := strings.Split(tail[:lastsep], "/")
		setMin(subdirs[0], a.ModTime())
		if recursive {
			cur := subdirs[0]
			for _, part := range subdirs[1:] {
				cur += "/" + part
				setMin(cur, a.ModTime())
			}
			files[tail] = a
		}
	}

	var entries []Entry
	if len(dirs) > 0 || len(files) > 0 {
		// Fold "." to the minimum mtime over every directory and file
		// found directly under q.
		dotMTime := time.Unix(0, math.MaxInt64)
		found := false
		for _, t := range dirs {
			if t.Before(dotMTime) {
				dotMTime = t
				found = true
			}
		}
		for _, a := range files {
			if a.ModTime().Before(dotMTime) {
				dotMTime = a.ModTime()
				found = true
			}
		}
		if found {
			dirs["."] = dotMTime
		}

		if !hasSlash {
			// No trailing slash on the request: show the directory
			// itself, not its contents. A request for the module root
			// is named after the module.
			name := p
			if name == "" {
				name = module.Name()
			}
			entries = []Entry{{Name: name, Dir: &DirEntry{MTime: dirs["."]}}}
		} else {
			entries = make([]Entry, 0, len(dirs)+len(files))
			for name, t := range dirs {
				entries = append(entries, Entry{Name: name, Dir: &DirEntry{MTime: t}})
			}
			for name, a := range files {
				entries = append(entries, Entry{Name: name, File: &FileEntry{Artifact: a}})
			}
		}
	}

	return finalize(entries, rules, report, module.Name(), p)
}

func finalize(entries []Entry, rules filter.Rules, report ErrorReporter, moduleName, requestPath string) ([]Entry, error) {
	out := entries[:0]
	for _, e := range entries {
		matchPath := e.Name
		if e.IsDir() {
			matchPath += "/"
		}
		if len(rules) > 0 && rules.Excluded(matchPath) {
			continue
		}
		if len(e.Name) > int(rsync.MaxNameLen) {
			if report != nil {
				report("No long path support! Files are missing!")
			}
			continue
		}
		out = append(out, e)
	}

	if len(out) == 0 {
		if report != nil {
			report(fmt.Sprintf(`rsync: link_stat "/%s" (in %s) failed: No such file or directory (2)`, requestPath, moduleName))
		}
		return nil, nil
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
