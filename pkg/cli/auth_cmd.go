package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"libraai/internal/domain"
)

func newAuthCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Sign in, sign out and manage the account",
	}

	cmd.AddCommand(newAuthLoginCmd(e))
	cmd.AddCommand(newAuthLogoutCmd(e))
	cmd.AddCommand(newAuthWhoamiCmd(e))
	cmd.AddCommand(newAuthRegisterCmd(e))
	cmd.AddCommand(newAuthForgotPasswordCmd(e))
	cmd.AddCommand(newAuthResetPasswordCmd(e))
	return cmd
}

func newAuthLoginCmd(e *env) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session to the active profile",
		Example: `  libra auth login --email alice@example.com
  libra auth login --email alice@example.com --profile staging`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			pw, err := passwordOrPrompt(password, "Password: ")
			if err != nil {
				return err
			}
			p, err := a.Session.Login(cmd.Context(), email, pw)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, p)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Signed in as %s (%s)\n", p.DisplayName(), p.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newAuthLogoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			a.Session.Logout()
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, map[string]string{"status": "ok"})
			}
			_, _ = fmt.Fprintln(os.Stdout, "Signed out")
			return nil
		},
	}
}

func newAuthWhoamiCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			p, err := a.Session.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, p)
			}
			PrintDetail(os.Stdout, map[string]any{
				"id":        p.ID,
				"username":  p.Username,
				"email":     p.Email,
				"full_name": p.FullName,
				"admin":     p.IsAdmin,
				"fine":      formatMoney(p.FineAmount),
			})
			return nil
		},
	}
}

func newAuthRegisterCmd(e *env) *cobra.Command {
	var req domain.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if req.Password, err = passwordOrPrompt(req.Password, "Choose a password: "); err != nil {
				return err
			}
			p, err := a.Session.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, p)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Account %q created. Sign in with 'libra auth login --email %s'.\n", p.Username, p.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Username, "username", "", "Username")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&req.FullName, "full-name", "", "Full name")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password (prompted when omitted)")
	return cmd
}

func newAuthForgotPasswordCmd(e *env) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Request a password reset email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			msg, err := a.Session.ForgotPassword(cmd.Context(), email)
			if err != nil {
				return err
			}
			return printMessage(cmd, msg)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	return cmd
}

func newAuthResetPasswordCmd(e *env) *cobra.Command {
	var resetToken, password string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password using a reset token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			pw, err := passwordOrPrompt(password, "New password: ")
			if err != nil {
				return err
			}
			msg, err := a.Session.ResetPassword(cmd.Context(), resetToken, pw)
			if err != nil {
				return err
			}
			return printMessage(cmd, msg)
		},
	}

	cmd.Flags().StringVar(&resetToken, "reset-token", "", "Token from the reset email")
	cmd.Flags().StringVar(&password, "password", "", "New password (prompted when omitted)")
	return cmd
}

// printMessage prints a collaborator's confirmation message.
func printMessage(cmd *cobra.Command, msg string) error {
	if getOutputFormat(cmd) == "json" {
		return PrintJSON(os.Stdout, map[string]string{"message": msg})
	}
	_, _ = fmt.Fprintln(os.Stdout, msg)
	return nil
}
