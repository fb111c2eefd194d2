package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/medtriage/config"
	"github.com/mohammad-safakhou/medtriage/internal/ingest"
	"github.com/mohammad-safakhou/medtriage/internal/llm"
)

func ingestCMD(cfgPath *string) *cobra.Command {
	var file string
	var urls []string
	var intent string
	var batch int
	var timeout time.Duration

	var cmd = &cobra.Command{
		Use:   "ingest",
		Short: "Load guideline passages into the configured index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && len(urls) == 0 {
				return fmt.Errorf("one of --file or --url is required")
			}
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logger := newLogger("INGEST")
			if cfg.Retrieval.Backend == "memory" {
				logger.Printf("warn: retrieval.backend is memory; ingested passages live only for this process")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := llm.NewOpenAIClient(cfg.LLM)
			if err != nil {
				logger.Printf("warn: llm client unavailable: %v", err)
			}
			_, writer, st, err := openIndex(ctx, cfg, client, logger)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}
			loader, err := ingest.NewLoader(writer, ingest.NewFetcher(30*time.Second), ingest.Options{
				ReferenceCollection: cfg.Retrieval.ReferenceCollection,
				GoldenCollection:    cfg.Retrieval.GoldenCollection,
				BatchSize:           batch,
			}, logger)
			if err != nil {
				return err
			}
			if file != "" {
				rep, err := loader.LoadFile(ctx, file)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "file: %d reference, %d golden passages\n", rep.Reference, rep.Golden)
			}
			if len(urls) > 0 {
				rep, err := loader.LoadURLs(ctx, urls, intent)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "urls: %d passages, %d pages failed\n", rep.Reference, rep.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "processed guideline JSON file")
	cmd.Flags().StringSliceVar(&urls, "url", nil, "guideline web page to fetch (repeatable)")
	cmd.Flags().StringVar(&intent, "intent", "GUIDELINE_PATIENT", "intent tag for fetched pages")
	cmd.Flags().IntVar(&batch, "batch", 64, "passages per upsert batch")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall ingest timeout")
	return cmd
}
