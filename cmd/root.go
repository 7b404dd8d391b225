package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
)

type configKey struct{}

// NewRootCommand builds the askdb command tree
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "askdb",
		Usage: "Ask questions about your data and index the answers for retrieval",
		Description: `askdb turns natural language questions into validated, read-only queries against
a relational database, chunks and embeds the results, and indexes them per user in
a vector store so they can be retrieved as context later.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config-file", Usage: "path to the JSON configuration file"},
			&cli.StringFlag{Name: "db-path", Usage: "DuckDB file to query"},
			&cli.StringFlag{Name: "catalog-file", Usage: "YAML schema catalog"},
			&cli.StringFlag{Name: "vector-backend", Usage: "memory, duckdb, sqlite or pgvector"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "show detailed progress"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging and raw output"},
		},
		Commands: []*cli.Command{
			IngestCommand(),
			AskCommand(),
			DeleteCommand(),
			CatalogCommand(),
			ConfigCommand(),
		},
	}
}

// Execute runs the CLI with os.Args
func Execute() error {
	err := NewRootCommand().Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)

		if e, ok := err.(*errors.Error); ok {
			for _, s := range e.Suggestions {
				fmt.Fprintln(os.Stderr, "  hint:", s)
			}
		}
	}

	return err
}

// withConfig loads configuration from the root flags, initializes logging
// and hands the action a context carrying the config
func withConfig(action cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if err := logging.InitializeLogger(cfg.Logging); err != nil {
			// an unusable log destination should not stop the command
			logging.SetupFallbackLogger()
			logging.GetLogger().WithError(err).Warn("Logging configuration rejected, using stderr")
		}

		return action(context.WithValue(ctx, configKey{}, cfg), cmd)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	overrides := map[string]interface{}{}

	for _, name := range []string{"config-file", "db-path", "catalog-file", "vector-backend", "log-level"} {
		if v := cmd.String(name); v != "" {
			overrides[name] = v
		}
	}

	for _, name := range []string{"verbose", "debug"} {
		if cmd.IsSet(name) {
			overrides[name] = cmd.Bool(name)
		}
	}

	cfg, err := config.LoadConfigWithOverrides(overrides)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration")
	}

	cfg.ExpandAllPaths()

	return cfg, nil
}

func getConfigFromContext(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configKey{}).(*config.Config)
	return cfg
}
