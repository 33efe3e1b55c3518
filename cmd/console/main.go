package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/monitorpro/console/pkg/console"
	"github.com/monitorpro/console/pkg/logging"
	"github.com/monitorpro/console/pkg/metrics"
	"github.com/monitorpro/console/pkg/runner"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to config file")
	deviceID := flag.String("device", "", "device id to monitor")
	flag.Parse()

	cfg, err := console.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config_load_failed", "error", err.Error())
		os.Exit(1)
	}

	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)

	observer := metrics.NewMemoryObserver()
	session := console.NewSession(cfg, logger, observer, console.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hooks := runner.Hooks{
		OnStart: func() {
			if *deviceID == "" {
				logger.Info("no_device_selected", "hint", "pass -device to bind a device")
				return
			}
			if err := session.Open(ctx, *deviceID); err != nil {
				logger.Error("session_open_failed", "error", err.Error())
			}
		},
		OnStop: func() {
			logger.Info("console_stopping")
		},
	}
	life := runner.NewLifecycleRunner(sessionDrainer{session}, hooks, 10*time.Second)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	if err := life.Run(ctx); err != nil {
		logger.Error("console_shutdown_error", "error", err.Error())
		os.Exit(1)
	}
}

type sessionDrainer struct {
	session *console.Session
}

func (d sessionDrainer) Drain() error {
	return d.session.Close()
}
