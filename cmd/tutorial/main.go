// Command tutorial renders a textured model through Vulkan in a resizable
// SDL window.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vkngwrapper/tutorial/internal/app"
	"github.com/vkngwrapper/tutorial/internal/config"
)

func newLogger(level string) (*log.Logger, error) {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "tutorial",
	})

	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)

	return logger.With("session", uuid.NewString()), nil
}

func main() {
	// SDL and the Vulkan driver expect every call from the thread that
	// created the window
	runtime.LockOSThread()

	configPath := flag.String("config", "tutorial.toml", "path to the TOML configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	if *logLevel != "" {
		cfg.Log.Level = *logLevel
		if err := cfg.Validate(); err != nil {
			log.Fatalf("%+v", err)
		}
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", "config", *configPath, "models", cfg.Scene.Models, "present_mode", cfg.Graphics.PresentMode)

	if err := app.New(cfg, logger).Run(ctx); err != nil {
		logger.Errorf("%+v", err)
		stop()
		os.Exit(1)
	}
}
