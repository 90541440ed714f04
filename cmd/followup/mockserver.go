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

	"github.com/spf13/cobra"

	"github.com/foxzi/followup/internal/config"
	"github.com/foxzi/followup/internal/metrics"
	"github.com/foxzi/followup/internal/mockapi"
)

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run an in-memory FollowUp backend for local development",
	RunE:  runMockServer,
}

var (
	mockListen   string
	mockSeed     bool
	mockEmail    string
	mockPassword string
	mockLatency  time.Duration
)

func init() {
	f := mockServerCmd.Flags()
	f.StringVar(&mockListen, "listen", "127.0.0.1:8000", "Listen address")
	f.BoolVar(&mockSeed, "seed", true, "Load demo leads and sequences")
	f.StringVar(&mockEmail, "email", "demo@followup.local", "Demo account email")
	f.StringVar(&mockPassword, "password", "demo-password", "Demo account password")
	f.DurationVar(&mockLatency, "latency", 0, "Artificial latency added to lead and activity reads")
}

func runMockServer(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		srv := metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	mock := mockapi.New(mockapi.WithLogger(logger))
	if _, err := mock.AddUser(mockEmail, mockPassword); err != nil {
		return fmt.Errorf("failed to create demo user: %w", err)
	}
	if mockSeed {
		mock.SeedDemo()
	}
	if mockLatency > 0 {
		mock.SetLatency("GET /api/leads", mockLatency)
		mock.SetLatency("GET /api/agent/activities", mockLatency)
	}

	httpServer := &http.Server{
		Addr:              mockListen,
		Handler:           mock,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mock backend listening", "addr", mockListen, "email", mockEmail)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
