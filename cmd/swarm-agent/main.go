// Command swarm-agent watches the local neighbor table and reports device
// arrivals, address changes and departures to the manager over MQTT.
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
	"github.com/HerbHall/swarmnet/internal/discovery"
	"github.com/HerbHall/swarmnet/internal/mqtt"
	"github.com/HerbHall/swarmnet/internal/neighbor"
	"github.com/HerbHall/swarmnet/internal/server"
	"github.com/HerbHall/swarmnet/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	v, cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("swarm-agent starting",
		zap.String("version", version.Short()),
		zap.String("robot_id", cfg.RobotID),
		zap.String("broker_url", cfg.MQTT.BrokerURL),
		zap.Strings("sources", cfg.Discovery.Sources),
	)
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("loaded configuration", zap.String("file", f))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	sources, err := neighbor.NewSources(cfg.Discovery.Sources, logger.Named("neighbor"))
	if err != nil {
		logger.Fatal("invalid discovery sources", zap.Error(err))
	}
	scanner := neighbor.NewScanner(logger.Named("neighbor"), sources...)

	channel := mqtt.NewChannel(
		mqtt.NewPahoDialer(cfg.MQTT, logger.Named("mqtt")),
		cfg.MQTT, cfg.RobotID, logger.Named("mqtt"),
	)
	defer channel.Close()

	var srv *server.Server
	if cfg.HTTP.Enabled() {
		srv = server.New(cfg.HTTP, "swarm-agent", logger.Named("http"), func(context.Context) error {
			if !channel.Connected() {
				return errors.New("broker " + channel.State().String())
			}
			return nil
		})
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("ops HTTP server failed", zap.Error(err))
			}
		}()
	}

	runner := discovery.NewRunner(cfg.Discovery, cfg.RobotID, cfg.MQTT.TopicPrefix, scanner, channel, logger.Named("discovery"))
	if err := runner.Run(ctx); err != nil {
		logger.Error("discovery stopped", zap.Error(err))
	}

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops HTTP shutdown", zap.Error(err))
		}
	}

	logger.Info("swarm-agent stopped")
}
