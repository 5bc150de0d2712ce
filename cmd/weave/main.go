package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rendis/weave/internal/api"
	"github.com/rendis/weave/internal/diagram"
	"github.com/rendis/weave/internal/engine"
	"github.com/rendis/weave/internal/logging"
	"github.com/rendis/weave/internal/pause"
	"github.com/rendis/weave/internal/runner"
	"github.com/rendis/weave/internal/runstate"
	"github.com/rendis/weave/internal/secrets"
	"github.com/rendis/weave/internal/store"
	"github.com/rendis/weave/internal/streaming"
	"github.com/rendis/weave/internal/trace"
	"github.com/rendis/weave/internal/trigger"
	"github.com/rendis/weave/internal/validation"
	weavemcp "github.com/rendis/weave/pkg/mcp"
	"github.com/rendis/weave/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: weave run <graph.json> [key=value ...]")
			os.Exit(2)
		}
		if err := runGraph(os.Args[2], os.Args[3:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "serve":
		if err := serve(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "mcp":
		if err := serveMCP(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "diagram":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: weave diagram <graph.json> [mermaid|ascii]")
			os.Exit(2)
		}
		format := "mermaid"
		if len(os.Args) > 3 {
			format = os.Args[3]
		}
		if err := renderDiagram(os.Args[2], format); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "version":
		printVersion()
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `weave workflow engine

usage:
  weave run <graph.json> [key=value ...]   execute a graph file to completion
  weave serve                              start the HTTP API and trigger loop
  weave mcp                                expose workflow tools over MCP stdio
  weave diagram <graph.json> [format]      render a graph as mermaid or ascii
  weave version                            print version`)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// wiring holds the assembled dependency graph.
type wiring struct {
	store     store.Store
	executor  *engine.Executor
	pause     *pause.Controller
	tracker   *runstate.Tracker
	recorder  *trace.Recorder
	hub       *streaming.MemoryHub
	service   *api.Service
	server    *api.Server
	scheduler *trigger.Scheduler
	logger    *slog.Logger
}

func wire(cfg Config) (*wiring, error) {
	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(weaveDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	reg := runner.NewRegistry()
	if err := runner.RegisterBuiltins(reg, cfg.MCP); err != nil {
		return nil, fmt.Errorf("register runners: %w", err)
	}

	engineCfg := engine.Config{MaxConcurrency: cfg.PoolSize}
	if cfg.BlockTimeout != "" {
		d, err := time.ParseDuration(cfg.BlockTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse block_timeout: %w", err)
		}
		engineCfg.DefaultBlockTimeout = d
	}

	x := engine.NewExecutor(reg, st, st, logger, engineCfg)

	pc := pause.NewController(st, logger)
	if cfg.SnapshotPassphrase != "" {
		cipher, err := secrets.NewAESCipher(secrets.CipherConfig{
			Passphrase: cfg.SnapshotPassphrase,
			Salt:       []byte(cfg.SnapshotSalt),
		})
		if err != nil {
			return nil, fmt.Errorf("build snapshot cipher: %w", err)
		}
		pc.SetCipher(cipher)
	}
	x.SetPauseHandler(pc)

	tracker := runstate.NewTracker()
	x.AddListener(tracker)

	recorder := trace.NewRecorder()
	x.AddListener(recorder)

	hub := streaming.NewMemoryHub()
	x.AddListener(streaming.NewBroadcaster(hub, logger))

	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("build validator: %w", err)
	}

	svc := api.NewService(st, x, pc, validator, logger)
	srv := api.NewServer(api.Deps{
		Store:    st,
		Service:  svc,
		Executor: x,
		Pause:    pc,
		RunState: tracker,
		Hub:      hub,
		Logger:   logger,
	})

	sched := trigger.NewScheduler(st, svc, logger)

	return &wiring{
		store:     st,
		executor:  x,
		pause:     pc,
		tracker:   tracker,
		recorder:  recorder,
		hub:       hub,
		service:   svc,
		server:    srv,
		scheduler: sched,
		logger:    logger,
	}, nil
}

func runGraph(path string, kvArgs []string) error {
	cfg := loadConfig()
	w, err := wire(cfg)
	if err != nil {
		return err
	}
	defer w.store.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var g schema.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("parse graph: %w", err)
	}

	variables := make(map[string]any, len(kvArgs))
	for _, kv := range kvArgs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("variable %q must be key=value", kv)
		}
		variables[k] = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := w.executor.Run(ctx, path, &g, engine.RunOptions{
		Variables: variables,
		Trigger:   "manual",
	})
	if result == nil {
		return err
	}

	out, marshalErr := json.MarshalIndent(result, "", "  ")
	if marshalErr != nil {
		return marshalErr
	}
	fmt.Println(string(out))

	if result.Status != schema.RunStatusCompleted {
		return fmt.Errorf("run finished with status %s", result.Status)
	}
	return nil
}

func renderDiagram(path, format string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var g schema.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("parse graph: %w", err)
	}

	model, err := diagram.Build(&g, nil)
	if err != nil {
		return err
	}

	switch format {
	case "mermaid":
		fmt.Print(diagram.RenderMermaid(model))
	case "ascii":
		fmt.Print(diagram.RenderASCII(model))
	default:
		return fmt.Errorf("unknown diagram format %q", format)
	}
	return nil
}

func serveMCP() error {
	cfg := loadConfig()
	w, err := wire(cfg)
	if err != nil {
		return err
	}
	defer w.store.Close()

	mcpSrv := weavemcp.NewWeaveServer(weavemcp.WeaveServerDeps{
		Service:  w.service,
		Store:    w.store,
		Executor: w.executor,
		Pause:    w.pause,
		Logger:   w.logger,
	})
	w.executor.AddListener(mcpSrv.Notifier())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return mcpSrv.Serve(ctx)
}

func serve() error {
	cfg := loadConfig()
	w, err := wire(cfg)
	if err != nil {
		return err
	}
	defer w.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := w.scheduler.RecoverMissed(ctx); err != nil {
		w.logger.Warn("trigger recovery failed", "error", err)
	}
	if err := w.scheduler.Start(ctx); err != nil {
		return err
	}
	defer w.scheduler.Stop()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: w.server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		w.logger.Info("serving", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
