package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pawsitivecheck/querycache"
	"github.com/pawsitivecheck/querycache/fetch"
	"github.com/pawsitivecheck/querycache/invalidation"
	"github.com/pawsitivecheck/querycache/server"
)

var (
	listenAddr  string
	upstreamURL string
	podID       string
	adminToken  string
	warmPaths   []string
	staleTime   time.Duration
	watchDeps   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caching gateway",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	serveCmd.Flags().StringVar(&upstreamURL, "upstream", "http://localhost:5000", "Upstream REST API base URL")
	serveCmd.Flags().StringVar(&podID, "pod-id", "", "Instance id on the invalidation channel (default: hostname)")
	serveCmd.Flags().StringVar(&adminToken, "admin-token", "", "Token required by /_cache endpoints")
	serveCmd.Flags().StringSliceVar(&warmPaths, "warm", nil, "API paths to prefetch at startup, e.g. /api/products")
	serveCmd.Flags().DurationVar(&staleTime, "stale-time", 0, "Age after which entries are refetched even without invalidation")
	serveCmd.Flags().BoolVar(&watchDeps, "watch-deps", false, "Reload the --deps file when it changes")
}

// resolvePodID defaults to the hostname plus a random suffix, so gateways
// sharing a host do not skip each other's invalidations.
func resolvePodID() string {
	if podID != "" {
		return podID
	}
	host, err := os.Hostname()
	if err != nil {
		host = "querycache"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := loadDeps()
	if err != nil {
		return err
	}
	log := querycache.NewZapLogger(logger)

	cfg := querycache.DefaultConfig()
	cfg.PodID = resolvePodID()
	cfg.RedisAddr = redisAddr
	cfg.RedisDB = redisDB
	cfg.StaleTime = staleTime
	cfg.Logger = log
	cfg.DebugMode = debug
	cfg.ShouldRetry = fetch.Retryable
	cfg.OnError = func(err error) {
		logger.Warn("cache background error", zap.Error(err))
	}

	qc, err := querycache.New(cfg)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	defer qc.Close()

	client, err := fetch.NewClient(fetch.Options{BaseURL: upstreamURL})
	if err != nil {
		return err
	}

	coord := invalidation.NewCoordinator(qc, deps, invalidation.Options{Logger: log, DebugMode: debug})
	if watchDeps {
		if depsPath == "" {
			return errors.New("--watch-deps needs --deps")
		}
		w, err := invalidation.NewWatcher(depsPath, coord.SetDependencyMap, log)
		if err != nil {
			return err
		}
		defer w.Close()
		if err := w.Start(ctx); err != nil {
			return err
		}
	}
	srv := server.New(qc, coord, client, server.Options{
		AdminToken: adminToken,
		Logger:     log,
		DebugMode:  debug,
	})

	if len(warmPaths) > 0 {
		keys, err := server.ParseKeys(warmPaths)
		if err != nil {
			return err
		}
		if err := srv.Warm(ctx, keys, 4); err != nil {
			logger.Warn("cache warm-up incomplete", zap.Error(err))
		}
	}

	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			zap.String("addr", listenAddr),
			zap.String("upstream", upstreamURL),
			zap.String("pod_id", cfg.PodID),
			zap.Int("deps_version", deps.Version))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
