// Command swarm-manager subscribes to every agent's topics and maintains
// the durable presence tables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/swarmnet/internal/config"
	"github.com/HerbHall/swarmnet/internal/ingest"
	"github.com/HerbHall/swarmnet/internal/mqtt"
	"github.com/HerbHall/swarmnet/internal/server"
	"github.com/HerbHall/swarmnet/internal/store"
	"github.com/HerbHall/swarmnet/internal/version"
)

// errStorage marks a shutdown caused by a failed write.
var errStorage = errors.New("storage failure")

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	v, cfg, err := config.LoadManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("swarm-manager exiting", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("swarm-manager stopped")
	_ = logger.Sync()
}

func run(cfg *config.Manager, logger *zap.Logger) error {
	logger.Info("swarm-manager starting",
		zap.String("version", version.Short()),
		zap.String("broker_url", cfg.MQTT.BrokerURL),
		zap.String("filter", cfg.MQTT.Filter()),
		zap.String("database", cfg.Database.Path),
		zap.Bool("order_guard", cfg.Presence.OrderGuard),
	)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel(nil)
	}()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		return err
	}
	presence, err := store.NewPresenceStore(ctx, db, cfg.Presence.OrderGuard)
	if err != nil {
		return err
	}

	ingestor := ingest.New(presence, logger.Named("ingest"))
	sub := mqtt.NewSubscriber(cfg.MQTT, ingestor.Handle, func(err error) {
		cancel(fmt.Errorf("%w: %w", errStorage, err))
	}, logger.Named("mqtt"))
	if err := sub.Start(ctx); err != nil {
		return fmt.Errorf("start subscriber: %w", err)
	}
	defer sub.Stop()

	if cfg.HTTP.Enabled() {
		ready := func(ctx context.Context) error {
			if err := db.Ping(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if !sub.Connected() {
				return errors.New("broker not connected")
			}
			return nil
		}
		srv := server.New(cfg.HTTP, "swarm-manager", logger.Named("http"), ready,
			server.NewPresenceRoutes(presence, cfg.Presence.OnlineThreshold, logger.Named("api")))
		go func() {
			if err := srv.Start(); err != nil {
				cancel(err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}
