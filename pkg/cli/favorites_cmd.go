package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newFavoritesCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorites",
		Aliases: []string{"fav"},
		Short:   "Manage favorite catalog items",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your favorites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			books, err := a.Services.Library.Favorites(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, books)
			}
			printBooks(books)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <book-id>",
		Short: "Add a favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			if err := a.Services.Library.AddFavorite(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printStatus(cmd, fmt.Sprintf("Added %s to favorites", args[0]))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <book-id>",
		Short: "Remove a favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			if err := a.Services.Library.RemoveFavorite(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printStatus(cmd, fmt.Sprintf("Removed %s from favorites", args[0]))
		},
	})

	return cmd
}

// printStatus prints a success line, or {"status": "ok", "message": ...}.
func printStatus(cmd *cobra.Command, msg string) error {
	if getOutputFormat(cmd) == "json" {
		return PrintJSON(os.Stdout, map[string]string{"status": "ok", "message": msg})
	}
	_, _ = fmt.Fprintln(os.Stdout, msg)
	return nil
}
