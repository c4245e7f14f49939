package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pylon/pkg/dashboard"
	"pylon/pkg/relay"

	"github.com/spf13/cobra"
)

// serveConfig holds flag overrides for the serve command.
type serveConfig struct {
	listen   string
	root     string
	operator string
}

// newServeCmd creates the "pylon serve" subcommand.
func newServeCmd() *cobra.Command {
	var cfg serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring daemon",
		Long:  "Watches the transcript store, recomputes the dashboard state on a fixed\ntick, serves the query API and SSE stream, and pushes scoped state to\nconfigured relay targets.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.listen, "listen", "", "listen address (default from config, 127.0.0.1:9400)")
	cmd.Flags().StringVar(&cfg.root, "root", "", "transcript store root (default from config or ~/.claude/projects)")
	cmd.Flags().StringVar(&cfg.operator, "operator", "", "operator name attached to local sessions")

	return cmd
}

func runServe(cmd *cobra.Command, flags serveConfig) error {
	paths, err := ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	if err := ensurePylonHome(paths); err != nil {
		return err
	}

	cfg, err := LoadConfig(paths.ConfigPath)
	if err != nil {
		return err
	}
	if flags.listen != "" {
		cfg.Listen = flags.listen
	}
	if flags.operator != "" {
		cfg.Operator = flags.operator
	}
	root := paths.TranscriptRoot
	if cfg.TranscriptRoot != "" {
		root = cfg.TranscriptRoot
	}
	if flags.root != "" {
		root = flags.root
	}

	if status, pid := DaemonStatus(paths.PIDPath); status == StatusRunning {
		return fmt.Errorf("pylon daemon already running (pid %d)", pid)
	}

	db, err := openDB(paths.StateDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	if err := initEventLog(db); err != nil {
		return err
	}

	store, err := relay.NewStore(db)
	if err != nil {
		return err
	}

	instanceID, err := loadInstanceID(paths.PylonHome)
	if err != nil {
		return err
	}

	manager := relay.NewManager(store, nil, instanceID, cfg.Operator, eventLogger(db))
	defer manager.Close()

	loader := dashboard.NewLoader(root)
	srv := &server{
		loader:  loader,
		agg:     dashboard.Aggregator{Operator: cfg.Operator},
		store:   store,
		manager: manager,
	}
	poller := dashboard.NewPoller(srv.compute, cfg.TickInterval, manager.HasTargets)
	poller.AddListener(manager.OnTick)
	srv.poller = poller

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := WritePIDFile(paths.PIDPath, os.Getpid()); err != nil {
		return err
	}
	defer func() { _ = RemovePIDFile(paths.PIDPath) }()

	go func() {
		// fsnotify keeps the parse cache hot between ticks; the tick
		// itself is the safety net when the watcher fails.
		if err := loader.Watch(ctx); err != nil {
			_ = logEvent(db, "watcher_error", "", err.Error())
		}
	}()
	go poller.Run(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	_ = logEvent(db, "daemon_start", "", fmt.Sprintf("listen=%s root=%s", cfg.Listen, root))
	fmt.Fprintf(cmd.OutOrStdout(), "pylon serving on %s (transcripts: %s)\n", cfg.Listen, root)

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	_ = logEvent(db, "daemon_stop", "", "")
	return nil
}

// eventLogger adapts the SQLite event log to the relay manager's LogFunc.
func eventLogger(db *sql.DB) relay.LogFunc {
	return func(evType, target, detail string) {
		_ = logEvent(db, evType, target, detail)
	}
}
