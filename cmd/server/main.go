// Command server runs the conclave HTTP server: multi-agent turn
// orchestration, project file storage and lexical retrieval.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conclave/internal/ai"
	"conclave/internal/api"
	"conclave/internal/chunking"
	"conclave/internal/config"
	"conclave/internal/filestore"
	"conclave/internal/indexer"
	"conclave/internal/logging"
	"conclave/internal/orchestrator"
	"conclave/internal/search"
	"conclave/internal/store"
)

func main() {
	var (
		addr   = flag.String("addr", "", "listen address, overrides configuration")
		dbPath = flag.String("db", "", "database path, overrides configuration")
	)
	flag.Parse()

	if err := run(*addr, *dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func run(addrOverride, dbOverride string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if dbOverride != "" {
		cfg.Storage.DatabasePath = dbOverride
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	logger := logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefaultLogger(logger)

	st, err := store.Open(cfg.Storage.DatabasePath, logger.WithComponent("store"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", "error", err.Error())
		}
	}()

	ctx := context.Background()
	defaultProjectID, err := st.EnsureDefaultProject(ctx)
	if err != nil {
		return err
	}

	files, err := filestore.New(cfg.Storage.BlobDir, cfg.Storage.InlineThresholdBytes)
	if err != nil {
		return err
	}
	chunker := chunking.New(cfg.Chunking.LinesPerChunk)
	idx := indexer.New(st, files, chunker, logger.WithComponent("indexer"))
	searchSvc := search.New(st, cfg.Search.MaxLimit, cfg.Search.DefaultLimit,
		logger.WithComponent("search"))

	providers := ai.NewRegistry(&cfg.Providers)
	orch := orchestrator.New(st, providers, orchestrator.NewRegistry(st), idx,
		logger.WithComponent("orchestrator"), cfg.Storage.TranscriptsDir, defaultProjectID)

	server := api.NewServer(cfg, st, files, idx, searchSvc, orch, logger.WithComponent("api"))

	listenAddr := addrOverride
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", listenAddr, "default_project_id", defaultProjectID)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
