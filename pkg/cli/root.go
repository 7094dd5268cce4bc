package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"libraai/internal/app"
	"libraai/internal/config"
	"libraai/internal/domain"
	"libraai/internal/session"
	"libraai/pkg/client"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = PrintJSON(os.Stdout, errorObject(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", userMessage(err))
		}
		return 1
	}
	return 0
}

// errorObject is the JSON rendering of a failed command.
func errorObject(err error) map[string]any {
	errObj := map[string]any{
		"error": userMessage(err),
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		errObj["http_status"] = apiErr.HTTPStatus
		errObj["code"] = apiErr.Code
	} else if status := statusOf(err); status != 0 {
		errObj["http_status"] = status
		errObj["code"] = status
	}
	return errObj
}

// userMessage prefers the message the API (or a local rule check) gave.
func userMessage(err error) string {
	return domain.UserMessage(err, err.Error())
}

func statusOf(err error) int {
	var (
		unauth   *domain.UnauthorizedError
		denied   *domain.AccessDeniedError
		notFound *domain.NotFoundError
		invalid  *domain.ValidationError
		rule     *domain.BusinessRuleError
	)
	switch {
	case errors.As(err, &unauth):
		return http.StatusUnauthorized
	case errors.As(err, &denied):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.As(err, &rule):
		return http.StatusBadRequest
	}
	return 0
}

// env carries the resolved global settings and the lazily built App.
type env struct {
	host     string
	token    string
	output   string
	profile  string
	logLevel string

	app *app.App
}

func newRootCmd() *cobra.Command {
	e := &env{}

	rootCmd := &cobra.Command{
		Use:           "libra",
		Short:         "LibraAI library client",
		Long:          "Command-line client for the LibraAI library: catalog, borrowings, favorites, fines and the reading assistant.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Load config from profile if flags/env not set
			cfg, err := loadOrNewUserConfig()
			if err != nil {
				return err
			}
			p, err := cfg.ActiveProfile(e.profile)
			if err != nil && !createsProfile(cmd) {
				return err
			}

			// Apply precedence: flag > env > profile > default
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("LIBRA_HOST"); v != "" {
					e.host = v
				} else if p.Host != "" {
					e.host = p.Host
				}
			}
			if !cmd.Flags().Changed("token") {
				if v := os.Getenv("LIBRA_TOKEN"); v != "" {
					e.token = v
				}
			}
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("LIBRA_OUTPUT"); v != "" {
					e.output = v
				} else if p.Output != "" {
					e.output = p.Output
				}
				_ = cmd.Root().PersistentFlags().Set("output", e.output)
			}

			if err := validateOutputFormat(e.output); err != nil {
				return err
			}
			return config.ValidateHost(e.host, false)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if e.app != nil {
				e.app.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&e.host, "host", config.DefaultHost, "API host URL")
	rootCmd.PersistentFlags().StringVar(&e.token, "token", "", "Bearer token (not persisted)")
	rootCmd.PersistentFlags().StringVarP(&e.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&e.profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newAuthCmd(e))
	rootCmd.AddCommand(newBooksCmd(e))
	rootCmd.AddCommand(newLoansCmd(e))
	rootCmd.AddCommand(newFavoritesCmd(e))
	rootCmd.AddCommand(newPayCmd(e))
	rootCmd.AddCommand(newChatCmd(e))
	rootCmd.AddCommand(newAdminCmd(e))

	// Shell completions
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// createsProfile reports whether cmd may name a profile that does not exist
// yet. Signing in saves the session into the named profile.
func createsProfile(cmd *cobra.Command) bool {
	return cmd.Name() == "login" && cmd.Parent() != nil && cmd.Parent().Name() == "auth"
}

// App builds the application on first use and restores the saved session.
// A --token (or LIBRA_TOKEN) session lives in memory only.
func (e *env) App(cmd *cobra.Command) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Host = strings.TrimRight(e.host, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if e.logLevel != "" {
		cfg.LogLevel = e.logLevel
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	var store session.Store = &profileStore{name: e.profile}
	if e.token != "" {
		store = session.NewMemoryStore(&session.Record{Token: e.token})
	}

	a, err := app.New(app.Deps{Cfg: cfg, Store: store, Logger: logger})
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	if s := a.Restore(ctx); s.Status == session.Authenticated && s.Principal == nil {
		if _, err := a.Session.Refresh(ctx); err != nil {
			logger.Warn("could not load signed-in user", "error", err)
		}
	}
	e.app = a
	return a, nil
}

// requireSession fails with the unauthorized message when nobody is signed in.
func requireSession(a *app.App) error {
	if a.Session.State().Status != session.Authenticated {
		return domain.ErrUnauthorized("Not signed in. Run 'libra auth login' first.")
	}
	return nil
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
