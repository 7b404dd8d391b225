package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/pipeline"
)

func IngestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Extract, embed and index data for a user",
		Description: `Run either a question or a list of tables through the pipeline and index the
results in the vector store. Tables ingested recently are skipped unless --force is given.`,
		ArgsUsage: " [question]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "owner of the indexed documents"},
			&cli.StringSliceFlag{Name: "table", Aliases: []string{"t"}, Usage: "table to ingest (repeatable)"},
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "ignore the freshness window"},
			&cli.IntFlag{Name: "max-rows", Usage: "lower the configured row cap"},
			&cli.IntFlag{Name: "chunk-size", Usage: "override the configured chunk size"},
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON"},
		},
		Action: withConfig(func(ctx context.Context, cmd *cli.Command) error {
			ec := pipeline.ExecutionContext{
				UserID:       cmd.String("user"),
				TargetTables: cmd.StringSlice("table"),
				ForceRefresh: cmd.Bool("force"),
				MaxRows:      int(cmd.Int("max-rows")),
				ChunkSize:    int(cmd.Int("chunk-size")),
				Question:     strings.Join(cmd.Args().Slice(), " "),
			}

			app, err := newApplication(ctx, getConfigFromContext(ctx))
			if err != nil {
				return err
			}
			defer app.Close()

			return runIngest(ctx, os.Stdout, app, ec, cmd.Bool("json"), !cmd.Bool("json"))
		}),
	}
}

func runIngest(ctx context.Context, w io.Writer, app *application, ec pipeline.ExecutionContext, asJSON, progress bool) error {
	if ec.Question == "" && len(ec.TargetTables) == 0 {
		return errors.New(errors.ErrTypeValidation, "give a question or at least one --table")
	}

	var s *spinner.Spinner
	if progress {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		s.Suffix = " Ingesting..."
		s.Start()
	}

	report, err := app.pipeline.Ingest(ctx, ec)

	if s != nil {
		s.Stop()
	}

	if asJSON {
		data, jsonErr := json.MarshalIndent(report, "", "  ")
		if jsonErr != nil {
			return fmt.Errorf("failed to marshal report: %w", jsonErr)
		}

		fmt.Fprintln(w, string(data))
	} else {
		printIngestReport(w, report)
	}

	if err != nil {
		return fmt.Errorf("ingest failed: %s: %w", pipeline.PublicError(err), err)
	}

	return nil
}

func printIngestReport(w io.Writer, report *pipeline.IngestReport) {
	if report == nil {
		return
	}

	fmt.Fprintf(w, "Run %s\n", report.RunID)

	for _, t := range report.Tables {
		if t.Skipped {
			fmt.Fprintf(w, "  %-20s skipped (fresh)\n", t.Table)
			continue
		}

		line := fmt.Sprintf("  %-20s %d rows, %d chunks (%d embedded, %d cached) owner=%s",
			t.Table, t.Rows, t.Chunks, t.Embedded, t.CacheHits, t.Owner)
		if t.Capped {
			line += " [row cap reached]"
		}

		fmt.Fprintln(w, line)
	}

	if report.Failure != "" {
		fmt.Fprintf(w, "Failed: %s\n", report.Failure)
	}
}
