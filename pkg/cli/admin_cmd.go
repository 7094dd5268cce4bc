package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"libraai/internal/domain"
)

func newAdminCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative console (admins only)",
	}

	books := &cobra.Command{Use: "books", Short: "Manage the catalog"}
	books.AddCommand(newAdminBooksCreateCmd(e))
	books.AddCommand(newAdminBooksUpdateCmd(e))
	books.AddCommand(newAdminBooksDeleteCmd(e))

	users := &cobra.Command{Use: "users", Short: "Manage accounts"}
	users.AddCommand(newAdminUsersListCmd(e))
	users.AddCommand(newAdminUsersCreateCmd(e))
	users.AddCommand(newAdminUsersUpdateCmd(e))
	users.AddCommand(newAdminUsersDeleteCmd(e))

	cmd.AddCommand(books, users)
	cmd.AddCommand(newAdminStatsCmd(e))
	cmd.AddCommand(newAdminUpdateFinesCmd(e))
	return cmd
}

// bookFlags binds the catalog fields shared by create and update.
type bookFlags struct {
	in        domain.BookInput
	available int
	cover     string
}

func (b *bookFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&b.in.Title, "title", "", "Title")
	fs.StringVar(&b.in.Author, "author", "", "Author")
	fs.StringVar(&b.in.ISBN, "isbn", "", "ISBN")
	fs.StringVar(&b.in.Category, "category", "", "Category")
	fs.StringVar(&b.in.Description, "description", "", "Description")
	fs.StringVar(&b.in.Publisher, "publisher", "", "Publisher")
	fs.StringVar(&b.in.Language, "language", "", "Language")
	fs.IntVar(&b.in.PublicationYear, "year", 0, "Publication year")
	fs.IntVar(&b.in.Pages, "pages", 0, "Page count")
	fs.IntVar(&b.in.TotalCopies, "copies", 1, "Total copies")
	fs.IntVar(&b.available, "available", 0, "Available copies (defaults to total)")
	fs.StringVar(&b.cover, "cover", "", "Cover image file (.jpg, .jpeg, .png, .gif, .webp)")
}

// readCover loads the --cover file. The server derives available copies on
// cover uploads, so --available cannot be combined with it.
func (b *bookFlags) readCover(fs *pflag.FlagSet) (*domain.Cover, error) {
	if b.cover == "" {
		return nil, nil
	}
	if fs.Changed("available") {
		return nil, domain.ErrValidation("--available cannot be combined with --cover")
	}
	info, err := os.Stat(b.cover)
	if err != nil {
		return nil, fmt.Errorf("read cover: %w", err)
	}
	if info.Size() > domain.MaxCoverSize {
		return nil, domain.ErrValidation("cover image %s exceeds 10MB", filepath.Base(b.cover))
	}
	data, err := os.ReadFile(b.cover)
	if err != nil {
		return nil, fmt.Errorf("read cover: %w", err)
	}
	cover := &domain.Cover{Filename: filepath.Base(b.cover), Data: data}
	if err := cover.Validate(); err != nil {
		return nil, err
	}
	return cover, nil
}

// overlay copies the flags the user set onto in.
func (b *bookFlags) overlay(fs *pflag.FlagSet, in *domain.BookInput) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "title":
			in.Title = b.in.Title
		case "author":
			in.Author = b.in.Author
		case "isbn":
			in.ISBN = b.in.ISBN
		case "category":
			in.Category = b.in.Category
		case "description":
			in.Description = b.in.Description
		case "publisher":
			in.Publisher = b.in.Publisher
		case "language":
			in.Language = b.in.Language
		case "year":
			in.PublicationYear = b.in.PublicationYear
		case "pages":
			in.Pages = b.in.Pages
		case "copies":
			in.TotalCopies = b.in.TotalCopies
		case "available":
			n := b.available
			in.AvailableCopies = &n
		}
	})
}

func inputFromBook(b *domain.Book) domain.BookInput {
	available := b.AvailableCopies
	return domain.BookInput{
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Description:     b.Description,
		Category:        b.Category,
		PublicationYear: b.PublicationYear,
		Publisher:       b.Publisher,
		Pages:           b.Pages,
		Language:        b.Language,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: &available,
	}
}

func newAdminBooksCreateCmd(e *env) *cobra.Command {
	var bf bookFlags

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Add a catalog item",
		Example: `  libra admin books create --title Dune --author "Frank Herbert" --isbn 9780441013593 --category Fiction --copies 3
  libra admin books create --title Dune --author "Frank Herbert" --isbn 9780441013593 --category Fiction --year 1965 --cover dune.jpg`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			in := bf.in
			if cmd.Flags().Changed("available") {
				n := bf.available
				in.AvailableCopies = &n
			}
			cover, err := bf.readCover(cmd.Flags())
			if err != nil {
				return err
			}
			var b *domain.Book
			if cover != nil {
				b, err = a.Services.Admin.CreateBookWithCover(cmd.Context(), in, *cover)
			} else {
				b, err = a.Services.Admin.CreateBook(cmd.Context(), in)
			}
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, b)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Created book %s (%s)\n", b.ID, b.Title)
			return nil
		},
	}

	bf.register(cmd.Flags())
	return cmd
}

func newAdminBooksUpdateCmd(e *env) *cobra.Command {
	var bf bookFlags

	cmd := &cobra.Command{
		Use:   "update <book-id>",
		Short: "Change fields of a catalog item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			cover, err := bf.readCover(cmd.Flags())
			if err != nil {
				return err
			}
			current, err := a.Services.Library.GetBook(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			in := inputFromBook(current)
			bf.overlay(cmd.Flags(), &in)
			if cmd.Flags().Changed("copies") && !cmd.Flags().Changed("available") {
				// Keep the number of copies out on loan.
				onLoan := current.TotalCopies - current.AvailableCopies
				n := max(in.TotalCopies-onLoan, 0)
				in.AvailableCopies = &n
			}
			var b *domain.Book
			if cover != nil {
				b, err = a.Services.Admin.UpdateBookWithCover(cmd.Context(), args[0], in, *cover)
			} else {
				b, err = a.Services.Admin.UpdateBook(cmd.Context(), args[0], in)
			}
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, b)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Updated book %s\n", b.ID)
			return nil
		},
	}

	bf.register(cmd.Flags())
	return cmd
}

func newAdminBooksDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Remove a catalog item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := a.Services.Admin.DeleteBook(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printStatus(cmd, fmt.Sprintf("Deleted book %s", args[0]))
		},
	}
}

func newAdminUsersListCmd(e *env) *cobra.Command {
	var (
		search string
		page   int
		size   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if page < 1 {
				return fmt.Errorf("--page must be >= 1")
			}
			users, err := a.Services.Admin.ListUsers(cmd.Context(), search, domain.PageRequest{Page: page - 1, PageSize: size})
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, users)
			}
			rows := make([][]string, 0, len(users))
			for _, u := range users {
				rows = append(rows, []string{
					u.ID,
					u.Username,
					u.Email,
					strconv.FormatBool(u.IsAdmin),
					strconv.FormatBool(u.IsActive),
					strconv.Itoa(u.ActiveLoans),
					formatMoney(u.FineAmount),
				})
			}
			PrintTable(os.Stdout, []string{"id", "username", "email", "admin", "active", "loans", "fine"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Search username, email or name")
	cmd.Flags().IntVar(&page, "page", 1, "Page number (1-based)")
	cmd.Flags().IntVar(&size, "page-size", domain.DefaultPageSize, "Items per page")
	return cmd
}

func newAdminUsersCreateCmd(e *env) *cobra.Command {
	var (
		username, email, fullName, password string
		admin                               bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			in := domain.UserInput{Username: &username, Email: &email, IsAdmin: &admin}
			if fullName != "" {
				in.FullName = &fullName
			}
			if password != "" {
				in.Password = &password
			}
			u, err := a.Services.Admin.CreateUser(cmd.Context(), in)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, u)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Created user %s (%s)\n", u.ID, u.Username)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&fullName, "full-name", "", "Full name")
	cmd.Flags().StringVar(&password, "password", "", "Initial password")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant administrator rights")
	return cmd
}

func newAdminUsersUpdateCmd(e *env) *cobra.Command {
	var (
		fine          float64
		active, admin bool
		email         string
		fullName      string
	)

	cmd := &cobra.Command{
		Use:   "update <user-id>",
		Short: "Change fields of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			var in domain.UserInput
			flags := cmd.Flags()
			if flags.Changed("fine") {
				in.Fine = &fine
			}
			if flags.Changed("active") {
				in.IsActive = &active
			}
			if flags.Changed("admin") {
				in.IsAdmin = &admin
			}
			if flags.Changed("email") {
				in.Email = &email
			}
			if flags.Changed("full-name") {
				in.FullName = &fullName
			}
			u, err := a.Services.Admin.UpdateUser(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, u)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Updated user %s\n", u.ID)
			return nil
		},
	}

	cmd.Flags().Float64Var(&fine, "fine", 0, "Outstanding fine")
	cmd.Flags().BoolVar(&active, "active", true, "Whether the account may sign in")
	cmd.Flags().BoolVar(&admin, "admin", false, "Administrator rights")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&fullName, "full-name", "", "Full name")
	return cmd
}

func newAdminUsersDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Remove an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := a.Services.Admin.DeleteUser(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printStatus(cmd, fmt.Sprintf("Deleted user %s", args[0]))
		},
	}
}

func newAdminStatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the dashboard summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			st, err := a.Services.Admin.DashboardStats(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, st)
			}
			PrintDetail(os.Stdout, map[string]any{
				"users":             st.UsersCount,
				"books":             st.BooksCount,
				"active_loans":      st.ActiveBorrowingsCount,
				"overdue_loans":     st.OverdueBorrowings,
				"books_by_category": countsByLabel(st.BooksByCategory),
			})
			return nil
		},
	}
}

func countsByLabel(buckets []domain.CountByLabel) map[string]int {
	out := make(map[string]int, len(buckets))
	for _, b := range buckets {
		label := b.Category
		if label == "" {
			label = b.Title
		}
		if label == "" {
			label = b.Month
		}
		out[label] = b.Count
	}
	return out
}

func newAdminUpdateFinesCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "update-fines",
		Short: "Recompute fines for every overdue borrowing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			res, err := a.Services.Admin.UpdateAllFines(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, res)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Updated %d borrowing(s), %s in fines added\n", res.UpdatedBorrowing, formatMoney(res.TotalFinesAdded))
			return nil
		},
	}
}
