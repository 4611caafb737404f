// Command pulprsyncd is the sender-only rsync daemon entry point: it
// loads the TOML configuration, builds the backend store, starts the
// heartbeat loop, and serves rsync daemon protocol connections on a TCP
// listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gokrazy/pulprsyncd/internal/backend"
	"github.com/gokrazy/pulprsyncd/internal/contentstore/memorystore"
	"github.com/gokrazy/pulprsyncd/internal/heartbeat"
	rsynclog "github.com/gokrazy/pulprsyncd/internal/log"
	"github.com/gokrazy/pulprsyncd/internal/metrics"
	"github.com/gokrazy/pulprsyncd/internal/restrict"
	"github.com/gokrazy/pulprsyncd/internal/rsyncd"
	"github.com/gokrazy/pulprsyncd/internal/rsyncdconfig"
)

func main() {
	configPath := flag.String("config", "", "path to the pulprsyncd TOML config file (default: search "+
		"/etc/pulprsyncd.toml, then ./pulprsyncd.toml)")
	dontRestrict := flag.Bool("dont_restrict", false, "disable landlock sandboxing of media_root (Linux only)")
	flag.Parse()

	if err := run(*configPath, *dontRestrict); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string, dontRestrict bool) error {
	var cfg *rsyncdconfig.Config
	var err error
	if configPath != "" {
		cfg, err = rsyncdconfig.FromFile(configPath)
	} else {
		cfg, _, err = rsyncdconfig.FromDefaultFiles()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := rsynclog.New(os.Stderr)
	rsynclog.SetLogger(logger)

	if !dontRestrict && cfg.MediaRoot != "" {
		if err := restrict.MaybeFileSystem([]string{cfg.MediaRoot}, nil); err != nil {
			logger.Printf("restrict.MaybeFileSystem: %v (continuing unrestricted)", err)
		}
	}

	store, err := storeFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("building backend store: %w", err)
	}

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if hbSink, ok := store.(backend.HeartbeatSink); ok {
		go heartbeat.Run(ctx, hbSink, time.Duration(cfg.HeartbeatIntervalSec)*time.Second, logger)
	}

	if cfg.MonitoringListen != "" {
		go func() {
			logger.Printf("metrics listening on http://%s/metrics", cfg.MonitoringListen)
			if err := metrics.ServeDebug(ctx, cfg.MonitoringListen, reg); err != nil {
				logger.Printf("metrics.ServeDebug: %v", err)
			}
		}()
	}

	srv := rsyncd.NewServer(store,
		rsyncd.WithLogger(logger),
		rsyncd.WithMetrics(recorder),
	)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", cfg.ListenPort, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Printf("pulprsyncd listening on rsync://%s with %d module(s)", ln.Addr(), len(cfg.Modules))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		// Shutdown was requested; net.Listener.Accept's resulting error is
		// expected and not a failure.
		return nil
	}
	return err
}

// storeFromConfig builds the backend.Store this process serves from.
// pulprsyncd ships with only the in-memory reference store wired up by
// default; operators embedding pulprsyncd against a real
// content-management backend replace this function with one that
// constructs their own backend.Store implementation.
func storeFromConfig(cfg *rsyncdconfig.Config) (backend.Store, error) {
	store := memorystore.New()
	for _, m := range cfg.Modules {
		store.AddModule(m.Name, m.Gated)
	}
	return store, nil
}
