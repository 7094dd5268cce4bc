package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// openApprovalURL hands the processor's approval page to the user. The
// processor redirects to callbackURL once the payment is authorized.
var openApprovalURL = func(approvalURL, callbackURL string) error {
	_, _ = fmt.Fprintf(os.Stderr, "Authorize the payment in your browser:\n  %s\nWaiting for the processor to redirect to %s ...\n", approvalURL, callbackURL)
	return nil
}

func newPayCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pay",
		Aliases: []string{"payments"},
		Short:   "Fines and payments",
	}

	cmd.AddCommand(newPayBalanceCmd(e))
	cmd.AddCommand(newPayHistoryCmd(e))
	cmd.AddCommand(newPayOverdueCmd(e))
	cmd.AddCommand(newPayFineCmd(e))
	cmd.AddCommand(newPayExecuteCmd(e))
	return cmd
}

func newPayBalanceCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the outstanding fine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			bal, err := a.Services.Payment.Balance(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, bal)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Outstanding fine: %s %s\n", formatMoney(bal.FineAmount), bal.Currency)
			return nil
		},
	}
}

func newPayHistoryCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List past payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			payments, err := a.Services.Payment.History(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, payments)
			}
			rows := make([][]string, 0, len(payments))
			for _, p := range payments {
				rows = append(rows, []string{p.PaymentID, formatMoney(p.Amount), string(p.Status), p.Description, formatDate(p.CreatedAt)})
			}
			PrintTable(os.Stdout, []string{"payment", "amount", "status", "description", "created"}, rows)
			return nil
		},
	}
}

func newPayOverdueCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List overdue borrowings and their fines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			loans, err := a.Services.Payment.Overdue(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, loans)
			}
			rows := make([][]string, 0, len(loans))
			for _, l := range loans {
				rows = append(rows, []string{l.ID, l.BookTitle, formatDate(l.DueDate), strconv.Itoa(l.DaysOverdue), formatMoney(l.FineAmount)})
			}
			PrintTable(os.Stdout, []string{"id", "book", "due", "days overdue", "fine"}, rows)
			return nil
		},
	}
}

func newPayFineCmd(e *env) *cobra.Command {
	var (
		description string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fine <amount>",
		Short: "Pay some or all of the outstanding fine",
		Long: "Creates a payment with the processor, prints the approval URL and waits for the processor " +
			"to redirect back to a local callback address before executing the payment.\n\n" +
			"The callback listens on LIBRA_CALLBACK_ADDR (default 127.0.0.1:3000), the return URL the " +
			"processor redirects to. If the browser lands elsewhere, copy the paymentId and PayerID from " +
			"its address bar and run:\n\n  libra pay execute <payment-id> <payer-id>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[0])
			}
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}

			listener := a.NewCallbackListener()
			if err := listener.Start(); err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
				defer cancel()
				_ = listener.Close(ctx)
			}()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			receipt, err := a.Services.Payment.Pay(ctx, amount, description, listener, func(approvalURL string) error {
				return openApprovalURL(approvalURL, listener.URL())
			})
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, receipt)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Paid %s (payment %s)\n", formatMoney(receipt.AmountPaid), receipt.PaymentID)
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "Payment description")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "How long to wait for authorization")
	return cmd
}

func newPayExecuteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "execute <payment-id> <payer-id>",
		Short: "Execute a payment authorized outside the CLI",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			receipt, err := a.Services.Payment.Execute(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, receipt)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Paid %s (payment %s)\n", formatMoney(receipt.AmountPaid), receipt.PaymentID)
			return nil
		},
	}
}
