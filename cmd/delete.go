package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
)

func DeleteCommand() *cli.Command {
	return &cli.Command{
		Name:        "delete",
		Usage:       "Delete every indexed document of a user",
		Description: `Remove the user's documents from the vector store and forget their ingest history.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "owner to delete", Required: true},
		},
		Action: withConfig(func(ctx context.Context, cmd *cli.Command) error {
			app, err := newApplication(ctx, getConfigFromContext(ctx))
			if err != nil {
				return err
			}
			defer app.Close()

			return runDelete(ctx, os.Stdout, app, cmd.String("user"))
		}),
	}
}

func runDelete(ctx context.Context, w io.Writer, app *application, userID string) error {
	n, err := app.pipeline.Delete(ctx, userID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Deleted %d documents for %s\n", n, userID)

	return nil
}
