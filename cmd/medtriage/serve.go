package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/medtriage/config"
	"github.com/mohammad-safakhou/medtriage/internal/runtime"
	"github.com/mohammad-safakhou/medtriage/internal/server"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
				ServiceVersion: version,
				ServeMetrics:   cfg.Telemetry.Enabled,
			})
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := server.Options{
				CORSOrigins: cfg.Server.CORSOrigins,
				Metrics:     tel.MetricsHandler(),
				Checks:      a.healthChecks(),
			}
			if secret, err := runtime.LoadJWTSecret(cfg); err == nil {
				opts.Secret = secret
			} else {
				a.logger.Printf("warn: %v; /api is unauthenticated", err)
			}
			if serveAddr == "" {
				serveAddr = cfg.Server.Address
			}
			return server.Run(ctx, server.New(a.handler(), opts), serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.address)")
	return serve
}
