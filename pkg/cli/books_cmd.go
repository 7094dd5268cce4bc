package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"libraai/internal/domain"
)

func newBooksCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Browse the catalog",
	}

	cmd.AddCommand(newBooksListCmd(e))
	cmd.AddCommand(newBooksGetCmd(e))
	cmd.AddCommand(newBooksCategoriesCmd(e))
	cmd.AddCommand(newBooksReportCmd(e))
	return cmd
}

func newBooksListCmd(e *env) *cobra.Command {
	var (
		q    domain.BookQuery
		page int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog items",
		Example: `  libra books list --search dune
  libra books list --category Fiction --page 2 --page-size 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if page < 1 {
				return fmt.Errorf("--page must be >= 1")
			}
			q.Page.Page = page - 1
			books, err := a.Services.Library.ListBooks(cmd.Context(), q)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, books)
			}
			printBooks(books)
			return nil
		},
	}

	cmd.Flags().StringVar(&q.Search, "search", "", "Search title, author or ISBN")
	cmd.Flags().StringVar(&q.Category, "category", "", "Filter by category")
	cmd.Flags().StringVar(&q.Author, "author", "", "Filter by author")
	cmd.Flags().IntVar(&page, "page", 1, "Page number (1-based)")
	cmd.Flags().IntVar(&q.Page.PageSize, "page-size", domain.DefaultPageSize, "Items per page")
	return cmd
}

func printBooks(books []domain.Book) {
	rows := make([][]string, 0, len(books))
	for _, b := range books {
		rows = append(rows, []string{
			b.ID,
			b.Title,
			b.Author,
			b.Category,
			fmt.Sprintf("%d/%d", b.AvailableCopies, b.TotalCopies),
		})
	}
	PrintTable(os.Stdout, []string{"id", "title", "author", "category", "available"}, rows)
}

func newBooksGetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <book-id>",
		Short: "Show one catalog item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			b, err := a.Services.Library.GetBook(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, b)
			}
			PrintDetail(os.Stdout, map[string]any{
				"id":          b.ID,
				"title":       b.Title,
				"author":      b.Author,
				"isbn":        b.ISBN,
				"category":    b.Category,
				"year":        b.PublicationYear,
				"publisher":   b.Publisher,
				"language":    b.Language,
				"available":   fmt.Sprintf("%d/%d", b.AvailableCopies, b.TotalCopies),
				"rating":      strconv.FormatFloat(b.Rating, 'f', 1, 64),
				"description": b.Description,
			})
			return nil
		},
	}
}

func newBooksCategoriesCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List catalog categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			cats, err := a.Services.Library.Categories(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, cats)
			}
			rows := make([][]string, 0, len(cats))
			for _, c := range cats {
				rows = append(rows, []string{c})
			}
			PrintTable(os.Stdout, []string{"category"}, rows)
			return nil
		},
	}
}

func newBooksReportCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "report <book-id> <description>...",
		Short: "Report a problem with a copy",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			msg, err := a.Services.Library.ReportProblem(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printMessage(cmd, msg)
		},
	}
}
