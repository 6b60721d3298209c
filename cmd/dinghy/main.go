// Command dinghy runs the access-limited file sharing server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dinghy-sh/dinghy/internal/authgate"
	"github.com/dinghy-sh/dinghy/internal/blob"
	"github.com/dinghy-sh/dinghy/internal/config"
	"github.com/dinghy-sh/dinghy/internal/counter"
	"github.com/dinghy-sh/dinghy/internal/gate"
	"github.com/dinghy-sh/dinghy/internal/meta"
	"github.com/dinghy-sh/dinghy/internal/rate"
	"github.com/dinghy-sh/dinghy/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:           "dinghy",
		Short:         "Upload a file, share a short key, let it expire after a bounded number of accesses",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), envFile, debug)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "optional .env file loaded before the environment")
	cmd.Flags().BoolVar(&debug, "debug", false, "verbose logging and gin debug mode")
	return cmd
}

func run(ctx context.Context, envFile string, debug bool) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	log, err := newLogger(debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return err
	}

	blobs, err := blob.NewStore(afero.NewOsFs(), cfg.DataDir)
	if err != nil {
		return err
	}
	uploads, err := meta.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer func() { _ = uploads.Close() }()

	counters := counter.NewStore(rdb, "fc")

	srv := server.New(server.Options{
		Log:     log,
		Limiter: rate.New(rdb, rate.Config{Window: cfg.RateWindow(), Threshold: cfg.RateThreshold}),
		Auth: authgate.New(rdb, authgate.Config{
			Username:   cfg.AuthUsername,
			Password:   cfg.AuthPassword,
			Threshold:  cfg.LockoutThreshold,
			FailureTTL: cfg.FailureTTL(),
		}),
		Gate:        gate.New(counters),
		Counters:    counters,
		Blobs:       blobs,
		Uploads:     uploads,
		AccessLimit: cfg.FileAccessLimit,
		Debug:       debug,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
