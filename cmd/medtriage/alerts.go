package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/medtriage/config"
	"github.com/mohammad-safakhou/medtriage/internal/alerts"
	"github.com/mohammad-safakhou/medtriage/internal/runtime"
)

func alertsCMD(cfgPath *string) *cobra.Command {
	var group, consumer string
	var cmd = &cobra.Command{
		Use:   "alerts",
		Short: "Tail the emergency alert stream through a consumer group",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := runtime.NewRedisClient(ctx, cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer client.Close()

			c := alerts.NewConsumer(client, cfg.Triage.AlertStream, group, consumer)
			if err := c.EnsureGroup(ctx); err != nil {
				return err
			}
			logger := newLogger("ALERTS")
			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				msgs, err := c.Read(ctx, 16, 5*time.Second)
				if err != nil {
					if errors.Is(ctx.Err(), context.Canceled) {
						return nil
					}
					logger.Printf("warn: read alerts: %v", err)
					continue
				}
				ids := make([]string, 0, len(msgs))
				for _, m := range msgs {
					_ = enc.Encode(map[string]interface{}{
						"id":          m.ID,
						"occurred_at": m.OccurredAt,
						"trace_id":    m.TraceID,
						"session":     m.Event.SessionDigest,
						"record":      m.Event.Record,
					})
					ids = append(ids, m.ID)
				}
				if err := c.Ack(ctx, ids...); err != nil {
					logger.Printf("warn: ack alerts: %v", err)
				}
			}
		},
	}
	cmd.Flags().StringVar(&group, "group", "oncall", "consumer group")
	cmd.Flags().StringVar(&consumer, "consumer", "cli", "consumer name")
	return cmd
}
