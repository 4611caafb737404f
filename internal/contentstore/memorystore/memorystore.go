// Package memorystore is an in-memory backend.Store, used by this
// module's own tests and suitable as a starting point for a standalone
// deployment that publishes a fixed artifact set without a real
// content-management system behind it.
package memorystore

import (
	"bytes"
	"crypto/md5"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gokrazy/pulprsyncd/internal/backend"
)

// Store is a fixed, in-memory set of modules.
type Store struct {
	mu      sync.RWMutex
	modules map[string]*Module
	order   []string

	lastHeartbeatKey string
	lastHeartbeatAt  time.Time
}

func md5Sum(b []byte) [16]byte {
	return md5.Sum(b)
}

// New returns an empty Store; use AddModule to populate it.
func New() *Store {
	return &Store{modules: make(map[string]*Module)}
}

// AddModule registers m, returning it for chaining with AddArtifact.
func (s *Store) AddModule(name string, gated bool) *Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &Module{name: name, gated: gated}
	if _, exists := s.modules[name]; !exists {
		s.order = append(s.order, name)
	}
	s.modules[name] = m
	return m
}

// ModuleNames implements backend.Store.
func (s *Store) ModuleNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := append([]string(nil), s.order...)
	sort.Strings(names)
	return names, nil
}

// Module implements backend.Store.
func (s *Store) Module(name string) (backend.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[name]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return m, nil
}

// Heartbeat implements backend.HeartbeatSink by recording the most recent
// heartbeat in memory, for tests that want to assert the daemon is
// calling it on schedule.
func (s *Store) Heartbeat(key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeatKey = key
	s.lastHeartbeatAt = at
	return nil
}

// LastHeartbeat returns the most recently recorded heartbeat, for test
// assertions.
func (s *Store) LastHeartbeat() (key string, at time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeatKey, s.lastHeartbeatAt
}

// Module is an in-memory backend.Module.
type Module struct {
	mu        sync.RWMutex
	name      string
	gated     bool
	artifacts []backend.Artifact
}

// Name implements backend.Module.
func (m *Module) Name() string { return m.name }

// Gated implements backend.Module.
func (m *Module) Gated() bool { return m.gated }

// Artifacts implements backend.Module.
func (m *Module) Artifacts() ([]backend.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]backend.Artifact(nil), m.artifacts...), nil
}

// AddArtifact registers a single in-memory artifact with the given
// content, returning m for chaining.
func (m *Module) AddArtifact(relativePath string, content []byte, mtime time.Time) *Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, &artifact{
		relativePath: relativePath,
		content:      content,
		mtime:        mtime,
		md5:          md5Sum(content),
	})
	return m
}

type artifact struct {
	relativePath string
	content      []byte
	mtime        time.Time
	md5          [16]byte
}

func (a *artifact) RelativePath() string  { return a.relativePath }
func (a *artifact) Size() uint64          { return uint64(len(a.content)) }
func (a *artifact) ModTime() time.Time    { return a.mtime }
func (a *artifact) MD5() [16]byte         { return a.md5 }
func (a *artifact) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(a.content)), nil
}
