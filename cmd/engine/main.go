package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/marion205/richesreach-broker/internal/broker"
	"github.com/marion205/richesreach-broker/internal/config"
	"github.com/marion205/richesreach-broker/internal/dashboard"
	"github.com/marion205/richesreach-broker/internal/engine"
	"github.com/marion205/richesreach-broker/internal/guardrail"
	"github.com/marion205/richesreach-broker/internal/risk"
	"github.com/marion205/richesreach-broker/internal/store"
	"github.com/marion205/richesreach-broker/internal/webhook"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Optional .env bootstrap before config expansion picks up the variables.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	stdLogger := log.New(os.Stdout, "[ENGINE] ", log.LstdFlags|log.Lshortfile)

	logger.Infof("Starting execution engine in %s mode", cfg.Environment.Mode)
	if !cfg.IsPaperTrading() {
		logger.Warn("LIVE TRADING MODE - real money at risk")
	}

	st, err := store.NewStore(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open order store: %v", err)
	}
	audit, err := store.NewSQLiteAuditLog(cfg.Storage.AuditPath)
	if err != nil {
		log.Fatalf("Failed to open audit log: %v", err)
	}
	defer func() {
		if err := audit.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close audit log")
		}
	}()

	brokerClient := broker.NewCircuitBreakerClient(
		broker.NewHTTPClient(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.APIEndpoint, cfg.Broker.DataURL),
	)

	policy := guardrail.NewPolicyWithLimits(
		cfg.Guardrails.MaxPerOrderNotional,
		cfg.Guardrails.MaxDailyNotional,
		cfg.Guardrails.Whitelist,
	)
	aggregator := risk.NewAggregator(st)

	eng := engine.NewEngine(st, audit, brokerClient, policy, aggregator, stdLogger, engine.Config{
		SerializePerAccount: cfg.Guardrails.SerializePerAccount,
		CallTimeout:         cfg.GetCallTimeout(),
	})

	refresher := engine.NewRefresher(brokerClient, st, stdLogger, cfg.Broker.AccountID, engine.RefresherConfig{
		Interval:    cfg.GetRefreshInterval(),
		CallTimeout: cfg.GetCallTimeout(),
	})

	reconciler := webhook.NewReconciler(st, logger, cfg.Webhook.Secret, cfg.Broker.AccountID)
	webhookServer := webhook.NewServer(webhook.Config{Port: cfg.Webhook.Port}, reconciler, logger)

	var dashboardServer *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashboardServer = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
			AccountID: cfg.Broker.AccountID,
		}, st, audit, aggregator, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return refresher.Run(ctx)
	})
	g.Go(func() error {
		return eng.RunSweeper(ctx, cfg.Broker.AccountID)
	})
	g.Go(func() error {
		if err := webhookServer.Start(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if dashboardServer != nil {
		g.Go(func() error {
			if err := dashboardServer.Start(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received, draining servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := webhookServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Webhook server shutdown failed")
		}
		if dashboardServer != nil {
			if err := dashboardServer.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Dashboard server shutdown failed")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.WithError(err).Fatal("Engine exited with error")
	}
	logger.Info("Engine stopped")
}
