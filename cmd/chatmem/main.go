// Command chatmem is an interactive chat client that keeps long conversations inside the model's
// context window using pluggable memory strategies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatmemory/internal/factory"
	"chatmemory/pkg/agent"
	agentmetrics "chatmemory/pkg/agent/middleware/metrics"
	"chatmemory/pkg/config"
	"chatmemory/pkg/logx"
	"chatmemory/pkg/metrics"
	"chatmemory/pkg/version"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to chatmem.yaml (default: $CHATMEM_CONFIG or ./chatmem.yaml)")
		session     = flag.String("session", "", "Session name (overrides config)")
		strategy    = flag.String("strategy", "", "Memory strategy (overrides config)")
		initSecrets = flag.Bool("init-secrets", false, "Encrypt provider API keys from the environment into the data directory")
		sessions    = flag.Bool("sessions", false, "List stored sessions and exit")
		deleteID    = flag.String("delete-session", "", "Delete a stored session and exit")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}
	if *debug {
		logx.SetDebugConfig(true)
	}

	os.Exit(run(options{
		configPath:    *configPath,
		session:       *session,
		strategy:      *strategy,
		initSecrets:   *initSecrets,
		listSessions:  *sessions,
		deleteSession: *deleteID,
	}))
}

// options carries the command-line flags into run.
type options struct {
	configPath    string
	session       string
	strategy      string
	initSecrets   bool
	listSessions  bool
	deleteSession string
}

// run contains the main application logic and returns an exit code, so that deferred cleanup
// runs before os.Exit.
func run(opts options) int {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if opts.session != "" {
		cfg.Session = opts.session
	}
	if opts.strategy != "" {
		cfg.Strategy.Kind = opts.strategy
	}

	switch {
	case opts.listSessions:
		if err := printSessions(context.Background(), cfg, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list sessions: %v\n", err)
			return 1
		}
		return 0
	case opts.deleteSession != "":
		if err := removeSession(context.Background(), cfg, opts.deleteSession, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to delete session: %v\n", err)
			return 1
		}
		return 0
	}

	if opts.initSecrets {
		if err := writeSecrets(cfg.Storage.Dir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write secrets: %v\n", err)
			return 1
		}
		return 0
	}
	if err := loadSecrets(cfg.Storage.Dir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		return 1
	}
	defer func() {
		if err := a.close(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintf(os.Stderr, "Shutdown: %v\n", err)
		}
	}()

	if err := a.repl(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "chatmem: %v\n", err)
		return 1
	}
	return 0
}

// newApp wires configuration, storage, the model client and the agent.
func newApp(ctx context.Context, cfg *config.Config, out io.Writer) (*app, error) {
	logger := logx.NewLogger("chatmem")

	usage := agentmetrics.NewInternalRecorder()
	recorders := []agentmetrics.Recorder{usage}
	var server *http.Server
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		recorders = append(recorders, agentmetrics.NewPrometheusRecorder(registry))
		if cfg.Metrics.ListenAddr != "" {
			server = serveMetrics(cfg.Metrics.ListenAddr, registry, logger)
		}
	}

	client, err := agent.NewLLMClientFactory(cfg, agentmetrics.Multi(recorders...)).CreateClient()
	if err != nil {
		return nil, err
	}

	stores, err := factory.OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		stores:     stores,
		strategies: factory.NewStrategyFactory(client, stores, cfg.Strategy, ""),
		usage:      usage,
		server:     server,
		out:        out,
		logger:     logger,
	}
	if cfg.Metrics.PrometheusURL != "" {
		if a.query, err = metrics.NewQueryService(cfg.Metrics.PrometheusURL); err != nil {
			logger.Warn("usage queries disabled: %v", err)
		}
	}

	if err := a.start(ctx, client); err != nil {
		_ = stores.Close(ctx)
		return nil, err
	}
	return a, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *logx.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed: %v", err)
		}
	}()
	logger.Info("serving metrics on http://%s/metrics", addr)
	return server
}
