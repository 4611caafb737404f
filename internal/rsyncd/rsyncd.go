// Package rsyncd wires the daemon handshake, argument and filter
// parsing, file-list synthesis and encoding, and the block-transfer
// sender into a single per-connection lifecycle, serving modules out of
// a backend.Store.
package rsyncd

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/gokrazy/pulprsyncd/internal/backend"
	"github.com/gokrazy/pulprsyncd/internal/filter"
	"github.com/gokrazy/pulprsyncd/internal/flist"
	"github.com/gokrazy/pulprsyncd/internal/flistwire"
	"github.com/gokrazy/pulprsyncd/internal/log"
	"github.com/gokrazy/pulprsyncd/internal/rsyncopts"
	"github.com/gokrazy/pulprsyncd/internal/rsyncwire"
	"github.com/gokrazy/pulprsyncd/internal/sender"
	"github.com/gokrazy/pulprsyncd/rsync"
)

// Option configures a Server.
type Option interface {
	apply(*Server)
}

type optionFunc func(*Server)

func (f optionFunc) apply(s *Server) { f(s) }

// WithLogger installs logger as the server's diagnostic sink and as the
// process-wide default logger.
func WithLogger(logger log.Logger) Option {
	return optionFunc(func(s *Server) {
		s.logger = logger
		log.SetLogger(logger)
	})
}

// WithSeedFunc overrides the per-connection checksum seed generator; used
// by tests that need deterministic seeds. Production callers should leave
// this unset, which defaults to a process-global random source.
func WithSeedFunc(f func() uint32) Option {
	return optionFunc(func(s *Server) { s.seedFunc = f })
}

// Server holds everything needed to handle incoming daemon connections
// against a backend.Store.
type Server struct {
	store    backend.Store
	logger   log.Logger
	seedFunc func() uint32

	metrics Metrics
}

// Metrics receives connection-scoped counters; see internal/metrics for
// the Prometheus-backed implementation.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	FlistEntriesSent(n int)
	BytesSent(n int64)
}

// NewServer constructs a Server backed by store.
func NewServer(store backend.Store, opts ...Option) *Server {
	s := &Server{
		store:    store,
		seedFunc: defaultSeed,
		metrics:  noopMetrics{},
	}
	for _, o := range opts {
		o.apply(s)
	}
	if s.logger == nil {
		s.logger = log.New(os.Stderr)
	}
	return s
}

// WithMetrics installs a Metrics sink; see internal/metrics.Recorder.
func WithMetrics(m Metrics) Option {
	return optionFunc(func(s *Server) { s.metrics = m })
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()    {}
func (noopMetrics) ConnectionClosed()    {}
func (noopMetrics) FlistEntriesSent(int) {}
func (noopMetrics) BytesSent(int64)      {}

// Serve accepts connections on ln until it returns an error (typically
// from ln.Close()), handling each one in its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			defer conn.Close()
			s.metrics.ConnectionOpened()
			defer s.metrics.ConnectionClosed()
			if err := s.HandleConn(conn, conn.RemoteAddr()); err != nil {
				s.logger.Printf("[%s] handle: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

func (s *Server) formatModuleList() (string, error) {
	names, err := s.store.ModuleNames()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, name := range names {
		mod, err := s.store.Module(name)
		if err != nil {
			continue
		}
		if mod.Gated() {
			// A gated module is treated as if it did not exist, so it is
			// never listed either.
			continue
		}
		fmt.Fprintf(&b, "%s\t\n", name)
	}
	return b.String(), nil
}

// HandleConn drives one connection end to end: the daemon handshake,
// argument/filter parsing, file-list synthesis and encoding, and the
// block-transfer sender plus tail sequence.
func (s *Server) HandleConn(rw io.ReadWriter, remoteAddr net.Addr) error {
	crd := &rsyncwire.CountingReader{R: rw}
	cwr := &rsyncwire.CountingWriter{W: rw}
	rd := bufio.NewReader(crd)
	c := rsyncwire.NewConn(rd, cwr)

	if err := c.WriteLine(fmt.Sprintf("@RSYNCD: %d.0", rsync.ProtocolVersion)); err != nil {
		return err
	}

	// Discard the client's version banner.
	if _, err := c.ReadLine(); err != nil {
		return err
	}

	cmdLine, err := c.ReadLine()
	if err != nil {
		return err
	}
	cmd := strings.TrimSpace(cmdLine)

	if cmd == "" || cmd == "#list" {
		s.logger.Printf("[%s] module listing requested", remoteAddr)
		list, err := s.formatModuleList()
		if err != nil {
			return err
		}
		if _, err := c.Write([]byte(list)); err != nil {
			return err
		}
		return c.WriteLine("@RSYNCD: EXIT")
	}

	if strings.HasPrefix(cmd, "#") {
		s.logger.Printf("[%s] unknown command %q", remoteAddr, cmd)
		return c.WriteLine(fmt.Sprintf("@ERROR: Unknown command '%s'", cmd))
	}

	// The command line carries the module name alone; the path within the
	// module arrives later as the dst positional in the argv block.
	mod, err := s.store.Module(cmd)
	if err != nil || mod.Gated() {
		s.logger.Printf("[%s] unknown or gated module %q", remoteAddr, cmd)
		return c.WriteLine(fmt.Sprintf("@ERROR: Unknown module '%s'", cmd))
	}
	s.logger.Printf("[%s] module %q selected", remoteAddr, cmd)

	if err := c.WriteLine("@RSYNCD: OK"); err != nil {
		return err
	}

	return s.handleSession(c, cwr, mod, remoteAddr)
}

// handleSession runs everything after "@RSYNCD: OK": the argv block, the
// checksum seed (sent unconditionally, even when argument parsing
// failed), the filter block, and then the flist + transfer phases.
func (s *Server) handleSession(c *rsyncwire.Conn, cwr *rsyncwire.CountingWriter, mod backend.Module, remoteAddr net.Addr) error {
	argv, argvErr := readArgv(c)

	var opts rsyncopts.Options
	var parseErr error
	if argvErr == nil {
		opts, parseErr = rsyncopts.Parse(argv)
	} else {
		parseErr = argvErr
	}

	// The client expects the NUL + seed prelude at this point no matter
	// what; a parse failure is only reported once muxing is up.
	if err := c.WriteByte(0); err != nil {
		return err
	}
	seed := s.seedFunc()
	if err := c.WriteInt32(int32(seed)); err != nil {
		return err
	}

	c.StartMux(func(msg string) {
		s.logger.Printf("[%s] peer error: %s", remoteAddr, strings.TrimRight(msg, "\n"))
	})

	if parseErr != nil {
		if mw := c.MultiplexWriter(); mw != nil {
			mw.WriteError(fmt.Sprintf("pulprsyncd: parsing arguments: %v\n", parseErr))
		}
		return fmt.Errorf("rsyncd: parsing arguments: %w", parseErr)
	}

	rules, err := readFilterRules(c)
	if err != nil {
		return err
	}

	reportErr := flist.ErrorReporter(func(msg string) {
		if mw := c.MultiplexWriter(); mw != nil {
			mw.WriteError(msg + "\n")
		}
	})

	// dst is module-qualified ("module", "module/", "module/sub/path");
	// strip the module prefix but remember whether a trailing slash asked
	// for the directory's contents rather than the directory itself.
	relPath := strings.TrimPrefix(opts.Dst, mod.Name())
	relPath = strings.TrimLeft(relPath, "/")
	trailingSlash := strings.HasSuffix(opts.Dst, "/")
	s.logger.Printf("[%s] request path %q (recursive=%v)", remoteAddr, relPath, opts.Recursive)

	entries, buildErr := flist.Build(mod, relPath, trailingSlash, opts.Recursive, rules, reportErr)
	if buildErr != nil {
		reportErr(fmt.Sprintf("pulprsyncd: %v", buildErr))
	}

	// The terminator goes out even when synthesis failed, so the client
	// sees a well-formed (if empty) file list instead of hanging.
	if err := flistwire.WriteAll(c, entries); err != nil {
		return err
	}
	s.metrics.FlistEntriesSent(len(entries))
	if buildErr != nil {
		return fmt.Errorf("rsyncd: synthesizing file list: %w", buildErr)
	}
	if len(entries) == 0 {
		return nil
	}

	xfer := &sender.Transfer{
		Conn:    c,
		Entries: entries,
		Logger:  s.logger,
	}
	if err := xfer.Run(); err != nil {
		return err
	}
	if err := xfer.Tail(); err != nil {
		return err
	}
	s.metrics.BytesSent(cwr.BytesWritten)

	return nil
}

// readArgv reads the argv block that follows "@RSYNCD: OK": a sequence of
// NUL-terminated strings, stopping at the first empty one.
func readArgv(c *rsyncwire.Conn) ([]string, error) {
	var argv []string
	for {
		s, err := c.ReadNulString()
		if err != nil {
			return argv, err
		}
		if s == "" {
			return argv, nil
		}
		argv = append(argv, s)
	}
}

// readFilterRules reads the (u32 rule_len, rule_len bytes) records
// terminated by rule_len == 0, expanding each into filter.Rules and
// reporting unsupported lines as multiplexed warnings without aborting
// the connection.
func readFilterRules(c *rsyncwire.Conn) (filter.Rules, error) {
	var rules filter.Rules
	for {
		hdr, err := c.ReadN(4)
		if err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(hdr)
		if n == 0 {
			return rules, nil
		}
		raw, err := c.ReadN(int(n))
		if err != nil {
			return nil, err
		}
		rules.Add(string(raw), func(msg string) {
			if mw := c.MultiplexWriter(); mw != nil {
				mw.WriteError(msg + "\n")
			}
		})
	}
}
