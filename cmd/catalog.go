package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/catalog"
	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
)

func CatalogCommand() *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "Inspect and reload the schema catalog",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "List the tables the pipeline may query",
				Action: withConfig(func(ctx context.Context, _ *cli.Command) error {
					return withCatalog(ctx, func(c *catalog.Catalog) error {
						return runCatalogShow(os.Stdout, c)
					})
				}),
			},
			{
				Name:  "reload",
				Usage: "Load the catalog from its source and report the new version",
				Action: withConfig(func(ctx context.Context, _ *cli.Command) error {
					return withCatalog(ctx, func(c *catalog.Catalog) error {
						return runCatalogReload(ctx, os.Stdout, c)
					})
				}),
			},
			{
				Name:  "watch",
				Usage: "Reload the catalog file whenever it changes",
				Action: withConfig(func(ctx context.Context, _ *cli.Command) error {
					cfg := getConfigFromContext(ctx)
					if cfg.Catalog.Source != "file" {
						return errors.NewConfigError("only file catalogs can be watched", "catalog.source")
					}

					ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
					defer stop()

					return withCatalog(ctx, func(c *catalog.Catalog) error {
						return c.Watch(ctx, cfg.Catalog.File)
					})
				}),
			},
		},
	}
}

// withCatalog opens only the catalog and its source connection
func withCatalog(ctx context.Context, fn func(*catalog.Catalog) error) error {
	cfg := getConfigFromContext(ctx)
	if cfg == nil {
		return errors.NewConfigError("failed to load configuration", "")
	}

	c, closeFn, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	return fn(c)
}

func openCatalog(ctx context.Context, cfg *config.Config) (*catalog.Catalog, func() error, error) {
	app := &application{cfg: cfg}

	loader, err := app.catalogLoader(cfg)
	if err != nil {
		return nil, nil, err
	}

	c := catalog.New(loader, logging.GetLogger())
	if _, err := c.Reload(ctx); err != nil {
		_ = app.Close()
		return nil, nil, err
	}

	return c, app.Close, nil
}

func runCatalogShow(w io.Writer, c *catalog.Catalog) error {
	snap, err := c.Current()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Catalog v%d (%d tables)\n", snap.Version(), snap.Len())

	for _, t := range snap.Tables() {
		fmt.Fprintf(w, "\n%s", t.Name)

		if t.Summary != "" {
			fmt.Fprintf(w, ": %s", t.Summary)
		}

		fmt.Fprintln(w)

		cols := make([]string, len(t.Columns))
		for i, col := range t.Columns {
			cols[i] = fmt.Sprintf("%s (%s)", col.Name, col.Type)
		}

		fmt.Fprintf(w, "  columns: %s\n", strings.Join(cols, ", "))

		if t.UserColumn != "" {
			fmt.Fprintf(w, "  user column: %s\n", t.UserColumn)
		} else {
			fmt.Fprintln(w, "  user column: none (shared)")
		}

		if t.TimeColumn != "" {
			fmt.Fprintf(w, "  time column: %s\n", t.TimeColumn)
		}

		for _, rel := range t.Relationships {
			fmt.Fprintf(w, "  %s -> %s.%s\n", rel.Column, rel.RefTable, rel.RefColumn)
		}
	}

	return nil
}

func runCatalogReload(ctx context.Context, w io.Writer, c *catalog.Catalog) error {
	snap, err := c.Reload(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Catalog reloaded: v%d, %d tables (%s)\n", snap.Version(), snap.Len(), strings.Join(snap.Names(), ", "))

	return nil
}
