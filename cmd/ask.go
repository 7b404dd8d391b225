package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/pipeline"
)

func AskCommand() *cli.Command {
	return &cli.Command{
		Name:        "ask",
		Usage:       "Retrieve indexed context relevant to a question",
		Description: `Embed the question and return the closest indexed documents the user may read.`,
		ArgsUsage:   " <question>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "whose documents to search"},
			&cli.StringSliceFlag{Name: "table", Aliases: []string{"t"}, Usage: "restrict to a source table (repeatable)"},
			&cli.IntFlag{Name: "top-k", Aliases: []string{"k"}, Usage: "number of results"},
			&cli.BoolFlag{Name: "shared", Value: true, Usage: "include shared documents"},
			&cli.BoolFlag{Name: "json", Usage: "print the result as JSON"},
		},
		Action: withConfig(func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return fmt.Errorf("expected a question")
			}

			req := pipeline.RetrieveRequest{
				UserID:        cmd.String("user"),
				Question:      strings.Join(cmd.Args().Slice(), " "),
				Tables:        cmd.StringSlice("table"),
				TopK:          int(cmd.Int("top-k")),
				IncludeShared: cmd.Bool("shared"),
			}

			app, err := newApplication(ctx, getConfigFromContext(ctx))
			if err != nil {
				return err
			}
			defer app.Close()

			return runAsk(ctx, os.Stdout, app, req, cmd.Bool("json"))
		}),
	}
}

func runAsk(ctx context.Context, w io.Writer, app *application, req pipeline.RetrieveRequest, asJSON bool) error {
	out, err := app.pipeline.Retrieve(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", pipeline.PublicError(err), err)
	}

	if asJSON {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}

		fmt.Fprintln(w, string(data))

		return nil
	}

	fmt.Fprintln(w, out.Summary)

	for i, it := range out.Items {
		fmt.Fprintf(w, "\n%d. [%s] score %.3f\n   %s\n", i+1, it.SourceTable, it.Score, it.Text)
	}

	return nil
}
