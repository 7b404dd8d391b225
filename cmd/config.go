package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/errors"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the current active configuration including all settings from file, environment variables, and command-line flags.`,
		Action: withConfig(func(ctx context.Context, _ *cli.Command) error {
			return RunConfigWithConfig(os.Stdout, getConfigFromContext(ctx))
		}),
	}
}

// RunConfigWithConfig prints cfg. API keys are never shown.
func RunConfigWithConfig(w io.Writer, cfg *config.Config) error {
	if cfg == nil {
		return errors.NewConfigError("failed to load configuration", "")
	}

	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "Active Configuration:")

	fmt.Fprintln(w, "\nDatabase:")
	fmt.Fprintf(w, "  Driver: %s\n", cfg.Database.Driver)

	if cfg.Database.Driver == "postgres" {
		fmt.Fprintf(w, "  DSN: %s\n", redact(cfg.Database.DSN))
	} else {
		fmt.Fprintf(w, "  Path: %s\n", cfg.Database.Path)
	}

	fmt.Fprintf(w, "  Max Connections: %d\n", cfg.Database.MaxConnections)
	fmt.Fprintf(w, "  Query Timeout: %s\n", cfg.Database.QueryTimeout)
	fmt.Fprintf(w, "  Max Rows: %d\n", cfg.Database.MaxRows)

	fmt.Fprintln(w, "\nCatalog:")
	fmt.Fprintf(w, "  Source: %s\n", cfg.Catalog.Source)

	if cfg.Catalog.Source == "introspect" {
		fmt.Fprintf(w, "  Schema: %s\n", cfg.Catalog.Schema)
	} else {
		fmt.Fprintf(w, "  File: %s\n", cfg.Catalog.File)
	}

	fmt.Fprintln(w, "\nLanguage Model:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(w, "  Model: %s\n", valueOrDefault(cfg.LLM.Model))
	fmt.Fprintf(w, "  Timeout: %s\n", cfg.LLM.Timeout)
	fmt.Fprintf(w, "  Fallback: %t\n", cfg.LLM.Fallback)

	fmt.Fprintln(w, "\nEmbedding:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.Embedding.Provider)
	fmt.Fprintf(w, "  Model: %s\n", valueOrDefault(cfg.Embedding.Model))
	fmt.Fprintf(w, "  Dimensions: %d\n", cfg.Embedding.Dimensions)
	fmt.Fprintf(w, "  Batch Size: %d\n", cfg.Embedding.BatchSize)
	fmt.Fprintf(w, "  Max Attempts: %d\n", cfg.Embedding.MaxAttempts)

	fmt.Fprintln(w, "\nVector Store:")
	fmt.Fprintf(w, "  Backend: %s\n", cfg.VectorStore.Backend)

	switch cfg.VectorStore.Backend {
	case "pgvector":
		fmt.Fprintf(w, "  DSN: %s\n", redact(cfg.VectorStore.DSN))
	case "memory":
	default:
		fmt.Fprintf(w, "  Path: %s\n", cfg.VectorStore.Path)
	}

	fmt.Fprintln(w, "\nPipeline:")
	fmt.Fprintf(w, "  Freshness Window: %s\n", cfg.Pipeline.FreshnessWindow)
	fmt.Fprintf(w, "  Chunk Size: %d\n", cfg.Pipeline.ChunkSize)
	fmt.Fprintf(w, "  Top K: %d\n", cfg.Pipeline.TopK)
	fmt.Fprintf(w, "  Join Policy: %s\n", cfg.Pipeline.JoinPolicy)
	fmt.Fprintf(w, "  Summary: %t\n", cfg.Pipeline.SummaryEnabled)
	fmt.Fprintf(w, "  Ledger: %s\n", cfg.Pipeline.Ledger)

	fmt.Fprintln(w, "\nCache:")
	fmt.Fprintf(w, "  Directory: %s\n", cfg.Cache.Directory)
	fmt.Fprintf(w, "  Max Size: %d MB\n", cfg.Cache.MaxSizeMB)
	fmt.Fprintf(w, "  TTL: %d hours\n", cfg.Cache.TTLHours)
	fmt.Fprintf(w, "  Cleanup Frequency: %s\n", cfg.Cache.CleanupFreq)
	fmt.Fprintf(w, "  Persistent: %t\n", cfg.Cache.Persistent)

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(w, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintf(w, "  Add Source: %t\n", cfg.Logging.AddSource)

	fmt.Fprintln(w, "\nDebug:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Debug.Enabled)
	fmt.Fprintf(w, "  Verbose: %t\n", cfg.Debug.Verbose)

	if cfg.Debug.Enabled {
		fmt.Fprintln(w, "\nRaw Configuration (JSON):")
		fmt.Fprintln(w, "==========================")

		redacted := *cfg
		redacted.LLM.APIKey = redact(redacted.LLM.APIKey)
		redacted.Embedding.APIKey = redact(redacted.Embedding.APIKey)
		redacted.Database.DSN = redact(redacted.Database.DSN)
		redacted.VectorStore.DSN = redact(redacted.VectorStore.DSN)

		jsonData, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}

		fmt.Fprintln(w, string(jsonData))
	}

	return nil
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}

	return "********"
}

func valueOrDefault(v string) string {
	if v == "" {
		return "(provider default)"
	}

	return v
}
