package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gatewayd/internal/config"
	"gatewayd/internal/fleet"
	"gatewayd/internal/gateway"
	"gatewayd/internal/httpapi"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		addr       string
		configPath string
		fleetPath  string
		logLevel   string
	)
	root := &cobra.Command{
		Use:           "gatewayd",
		Short:         "Inference gateway: routes completion requests across backend instances",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, configPath, fleetPath, logLevel)
		},
	}
	defaultAddr := ":8080"
	if v := os.Getenv("GATEWAYD_ADDR"); v != "" {
		defaultAddr = v
	}
	root.Flags().StringVar(&addr, "addr", defaultAddr, "HTTP listen address, e.g. :8080")
	root.Flags().StringVar(&configPath, "config", "", "Optional config file (.yaml/.json/.toml)")
	root.Flags().StringVar(&fleetPath, "fleet", "", "Fleet file listing backend instances (.yaml/.json/.toml)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	return root
}

func run(addr, configPath, fleetPath, logLevel string) error {
	logger := newLogger(logLevel)

	var cfg config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			logger.Error().Err(err).Str("path", configPath).Msg("failed to load config")
			return err
		}
		cfg = loaded
	}
	if cfg.Addr != "" && addr == ":8080" {
		addr = cfg.Addr
	}
	if cfg.FleetPath != "" && fleetPath == "" {
		fleetPath = cfg.FleetPath
	}
	if cfg.LogLevel != "" {
		logger = newLogger(cfg.LogLevel)
	}

	gw := gateway.New(gateway.Config{
		MaxQueueDepth:   cfg.MaxQueueDepth,
		RouteTimeout:    time.Duration(cfg.RouteTimeoutMs) * time.Millisecond,
		DispatchTimeout: time.Duration(cfg.DispatchTimeoutMs) * time.Millisecond,
		MaxRetries:      cfg.MaxRetries,
		HealthInterval:  time.Duration(cfg.HealthIntervalMs) * time.Millisecond,
		ProbeTimeout:    time.Duration(cfg.ProbeTimeoutMs) * time.Millisecond,
		FailThreshold:   cfg.FailThreshold,
		OKThreshold:     cfg.OKThreshold,
		Logger:          &logger,
	})

	if fleetPath != "" {
		specs, err := fleet.Load(fleetPath)
		if err != nil {
			logger.Error().Err(err).Str("path", fleetPath).Msg("failed to load fleet")
			return err
		}
		for _, spec := range specs {
			if err := gw.Register(spec); err != nil {
				logger.Error().Err(err).Str("instance", spec.ID).Msg("failed to register instance")
				return err
			}
		}
		logger.Info().Int("instances", len(specs)).Msg("fleet loaded")
	}

	gw.Start()
	defer gw.Close()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(logger)

	mux := httpapi.NewMux(gw)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info().Str("addr", addr).Msg("gatewayd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
