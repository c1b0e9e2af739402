package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/hamedsk/corpusqa/config"
	"github.com/hamedsk/corpusqa/internal/chunker"
	"github.com/hamedsk/corpusqa/internal/index"
	idxpostgres "github.com/hamedsk/corpusqa/internal/index/postgres"
	"github.com/hamedsk/corpusqa/internal/ingest"
	srv "github.com/hamedsk/corpusqa/internal/server"
	"github.com/hamedsk/corpusqa/provider"
)

func ingestCMD() *cobra.Command {
	var cfgPath string
	var corpusPath string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, embed and index the corpus",
		Long:  "Reads the JSONL corpus, splits documents into passages, embeds them and writes them to the Postgres index. The in-memory index backend is ingested at serve time instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ingestCfg := cfg.Ingest.Normalize()
			if corpusPath != "" {
				ingestCfg.CorpusPath = corpusPath
			}
			if ingestCfg.CorpusPath == "" {
				return fmt.Errorf("corpus path required (ingest.corpus_path or --corpus)")
			}
			if cfg.Index.Normalize().Backend != "postgres" {
				return fmt.Errorf("standalone ingest requires index.backend=postgres; the memory backend is ingested at serve time")
			}

			ctx := context.Background()
			prov, err := provider.New(cfg.LLM.Normalize())
			if err != nil {
				return err
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			if err := srv.Migrate("file://migrations", dsn, "up", 0); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			var idx index.Index
			if idx, err = idxpostgres.NewWithDSN(ctx, dsn); err != nil {
				return err
			}

			chunkCfg := cfg.Chunking.Normalize()
			ch, err := chunker.New(chunkCfg.MaxTokens, chunkCfg.OverlapTokens)
			if err != nil {
				return err
			}
			logger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
			pipeline := ingest.NewPipeline(
				ingest.JSONLSource{Path: ingestCfg.CorpusPath},
				ch, prov, idx, ingestCfg.WriterBatchSize, logger,
			)
			stats, err := pipeline.Run(ctx)
			if err != nil {
				return err
			}
			logger.Printf("done: %d documents, %d skipped, %d passages, index holds %d",
				stats.Documents, stats.Skipped, stats.Passages, stats.Indexed)
			return nil
		},
	}
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "corpus JSONL path (overrides config)")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return cmd
}
