package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/udveo/mavlink-tracking-bridge/cmd/bridge/app"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var configPath, device string
	var verbosity int
	pflag.StringVarP(&configPath, "config", "c", "settings.yml", "path to settings file")
	pflag.StringVarP(&device, "device", "d", "", "connection address, e.g. tcp:$ip:$port, udpin:$ip:$port")
	pflag.CountVarP(&verbosity, "verbose", "v", "increase output and logging verbosity")
	pflag.Parse()

	config, err := app.LoadConfig(configPath)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
		os.Exit(1)
	}

	// CLI options override file-sourced values
	if device != "" {
		config.MAVLink.Device = device
	}

	if err = config.Validate(); err != nil {
		logger.Error(err.Error())
		pflag.Usage()
		os.Exit(1)
	}

	level, _ := config.Settings.Level() // validated above
	switch verbosity {
	case 0:
	case 1:
		level = slog.LevelInfo
	default:
		level = slog.LevelDebug
	}
	logLevel.Set(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, config, logger); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
