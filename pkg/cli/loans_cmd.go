package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"libraai/internal/domain"
)

func newLoansCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "loans",
		Aliases: []string{"borrowings"},
		Short:   "Borrow, return, renew and reserve",
	}

	cmd.AddCommand(newLoansListCmd(e))
	cmd.AddCommand(newLoansBorrowCmd(e))
	cmd.AddCommand(newLoansReturnCmd(e))
	cmd.AddCommand(newLoansRenewCmd(e))
	cmd.AddCommand(newLoansReserveCmd(e))
	cmd.AddCommand(newLoansReservationsCmd(e))
	return cmd
}

func newLoansListCmd(e *env) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your borrowings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			ctx := cmd.Context()
			loans, err := a.Services.Library.MyLoans(ctx, domain.LoanStatus(status))
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, loans)
			}
			books, err := a.Services.Library.LoanBooks(ctx, loans)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(loans))
			for _, l := range loans {
				title := l.BookID
				if b, ok := books[l.BookID]; ok {
					title = b.Title
				}
				rows = append(rows, []string{
					l.ID,
					title,
					string(l.Status),
					formatDate(l.DueDate),
					strconv.Itoa(l.RenewalsRemaining()),
					formatMoney(l.FineAmount),
				})
			}
			PrintTable(os.Stdout, []string{"id", "book", "status", "due", "renewals left", "fine"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (active, overdue, returned)")
	return cmd
}

func newLoansBorrowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow <book-id>",
		Short: "Borrow a copy of a catalog item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			loan, err := a.Services.Library.Borrow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, loan)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Borrowed %s (loan %s), due %s\n", loan.BookID, loan.ID, formatDate(loan.DueDate))
			return nil
		},
	}
}

func newLoansReturnCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Return a borrowed copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			res, err := a.Services.Library.Return(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, res)
			}
			_, _ = fmt.Fprintln(os.Stdout, res.Message)
			if res.FineAmount > 0 {
				_, _ = fmt.Fprintf(os.Stdout, "Late fine: %s\n", formatMoney(res.FineAmount))
			}
			return nil
		},
	}
}

func newLoansRenewCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "renew <loan-id>",
		Short: "Extend the due date of a borrowing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			ctx := cmd.Context()
			// Loading the list lets the renewal rules run before the request.
			if _, err := a.Services.Library.MyLoans(ctx, ""); err != nil {
				return err
			}
			res, err := a.Services.Library.Renew(ctx, args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, res)
			}
			_, _ = fmt.Fprintf(os.Stdout, "%s New due date %s, %d renewal(s) left\n",
				res.Message, formatDate(res.NewDueDate), res.RenewalsRemaining)
			return nil
		},
	}
}

func newLoansReserveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reserve <book-id>",
		Short: "Reserve a catalog item with no copy available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			res, err := a.Services.Library.Reserve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, res)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Reserved %s until %s\n", res.BookID, formatDate(res.ExpiresAt))
			return nil
		},
	}
}

func newLoansReservationsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reservations",
		Short: "List your reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			res, err := a.Services.Library.MyReservations(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, res)
			}
			rows := make([][]string, 0, len(res))
			for _, r := range res {
				title := r.BookID
				if r.BookInfo != nil && r.BookInfo.Title != "" {
					title = r.BookInfo.Title
				}
				rows = append(rows, []string{r.ID, title, string(r.Status), formatDate(r.ExpiresAt)})
			}
			PrintTable(os.Stdout, []string{"id", "book", "status", "expires"}, rows)
			return nil
		},
	}
}
