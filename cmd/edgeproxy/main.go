// Command edgeproxy is the process entry point: it loads configuration,
// wires the data-plane components together, and runs until a shutdown
// signal drains and stops them. Grounded on the teacher's cmd/server/main.go
// composition sequence (config load -> logger init -> component wiring ->
// start -> signal-driven graceful shutdown), trimmed of the admin-process
// and rate-limit/circuit-breaker branches that SPEC_FULL.md's Non-goals
// exclude.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mir00r/edge-proxy/internal/config"
	"github.com/mir00r/edge-proxy/internal/h2pool"
	"github.com/mir00r/edge-proxy/internal/health"
	"github.com/mir00r/edge-proxy/internal/listener"
	"github.com/mir00r/edge-proxy/internal/metrics"
	"github.com/mir00r/edge-proxy/internal/router"
	"github.com/mir00r/edge-proxy/pkg/logger"
)

// version is stamped by the release process; it stays "dev" for local builds.
var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "c", "", "path to the proxy's YAML configuration file")
	flag.StringVar(&configPath, "config", "", "path to the proxy's YAML configuration file")
	flag.BoolVar(&showVersion, "version", false, "print the version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("edgeproxy " + version)
		return 0
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "edgeproxy: -c/--config is required")
		flag.Usage()
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "edgeproxy: failed to load configuration: %v\n", err)
		return 1
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: "json", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "edgeproxy: failed to initialize logger: %v\n", err)
		return 1
	}

	tlsCert, err := tls.LoadX509KeyPair(cfg.Listen.TLS.Cert, cfg.Listen.TLS.Key)
	if err != nil {
		log.WithError(err).Error("failed to load TLS certificate")
		return 1
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{"h3"},
	}

	pools, err := cfg.ToPools()
	if err != nil {
		log.WithError(err).Error("failed to build backend pools")
		return 1
	}

	m := metrics.New()
	h2 := h2pool.New()
	for _, p := range pools {
		for _, bs := range p.Backends() {
			h2.Register(bs.Backend.Address, 0)
		}
	}

	probers := make([]*health.Prober, 0, len(pools))
	for _, p := range pools {
		pr := health.NewProber(p, h2, log)
		pr.Start()
		probers = append(probers, pr)
	}

	table := router.New(pools)
	dispatcher := listener.NewDispatcher(table, h2, m, log)
	l := listener.New(fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port), tlsConfig, dispatcher, log)

	serveErr := make(chan error, 1)
	go func() { serveErr <- l.ListenAndServe() }()

	log.WithField("upstreams", len(pools)).Info("edge proxy started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("listener exited unexpectedly")
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := l.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("error during listener shutdown")
	}
	for _, pr := range probers {
		pr.Stop()
	}

	log.Info("edge proxy stopped")
	return 0
}
