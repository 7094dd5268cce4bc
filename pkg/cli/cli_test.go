package cli

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraai/internal/domain"
	"libraai/internal/testutil"
	"libraai/pkg/client"
)

// cliFixture runs root commands against a FakeAPI with an isolated HOME.
type cliFixture struct {
	api  *testutil.FakeAPI
	home string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"LIBRA_HOST", "LIBRA_TOKEN", "LIBRA_OUTPUT", "LIBRA_MUTATION_POLICY",
		"LIBRA_CALLBACK_ADDR", "LOG_LEVEL", "ENV",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("LOG_LEVEL", "error")
	return &cliFixture{api: testutil.NewFakeAPI(t), home: home}
}

// run executes the root command and returns what it wrote to stdout.
func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--host", f.api.URL}, args...))
	out := captureStdout(t)
	err := cmd.Execute()
	return out(), err
}

// signIn stores a session for a new account in the default profile.
func (f *cliFixture) signIn(t *testing.T, username string, admin bool) domain.Principal {
	t.Helper()
	p := f.api.AddUser(username, username+"@example.com", "secret1", admin)
	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: defaultProfile,
		Profiles: map[string]Profile{
			defaultProfile: {Token: f.api.IssueToken(p.ID), User: &p},
		},
	}))
	return p
}

func TestVersion(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "libra version dev (commit: none)\n", out)

	out, err = f.run(t, "version", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"dev","commit":"none"}`, out)
}

func TestAuth_LoginWhoamiLogout(t *testing.T) {
	f := newCLIFixture(t)
	alice := f.api.AddUser("alice", "alice@example.com", "secret1", false)

	out, err := f.run(t, "auth", "login", "--email", "alice@example.com", "--password", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "Signed in as alice (alice@example.com)\n", out)

	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	saved := cfg.Profiles[defaultProfile]
	assert.NotEmpty(t, saved.Token)
	require.NotNil(t, saved.User)
	assert.Equal(t, alice.ID, saved.User.ID)

	out, err = f.run(t, "auth", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "username:   alice")
	assert.Contains(t, out, "fine:       0.00")

	out, err = f.run(t, "auth", "logout")
	require.NoError(t, err)
	assert.Equal(t, "Signed out\n", out)

	cfg, err = LoadUserConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Profiles[defaultProfile].Token)
	assert.Nil(t, cfg.Profiles[defaultProfile].User)

	_, err = f.run(t, "auth", "whoami")
	require.Error(t, err)
	assert.True(t, domain.IsUnauthorized(err))
}

func TestAuth_LoginRejected(t *testing.T) {
	f := newCLIFixture(t)
	f.api.AddUser("alice", "alice@example.com", "secret1", false)

	_, err := f.run(t, "auth", "login", "--email", "alice@example.com", "--password", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Incorrect email or password", userMessage(err))

	_, statErr := os.Stat(ConfigPath())
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "nothing is saved on failure")
}

func TestAuth_LoginIntoNamedProfile(t *testing.T) {
	f := newCLIFixture(t)
	f.api.AddUser("bob", "bob@example.com", "secret1", false)

	_, err := f.run(t, "auth", "login", "--profile", "work", "--email", "bob@example.com", "--password", "secret1")
	require.NoError(t, err)

	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Profiles["work"].Token)
	assert.Empty(t, cfg.Profiles[defaultProfile].Token)
}

func TestAuth_RevokedSessionIsDropped(t *testing.T) {
	f := newCLIFixture(t)
	f.signIn(t, "alice", false)

	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	f.api.RevokeToken(cfg.Profiles[defaultProfile].Token)

	_, err = f.run(t, "favorites", "list")
	require.Error(t, err)
	assert.True(t, domain.IsUnauthorized(err))

	cfg, err = LoadUserConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Profiles[defaultProfile].Token)
}

func TestAuth_Register(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "auth", "register",
		"--username", "carol", "--email", "carol@example.com", "--full-name", "Carol C", "--password", "secret1")
	require.NoError(t, err)
	assert.Contains(t, out, `Account "carol" created`)

	_, err = os.Stat(ConfigPath())
	assert.True(t, errors.Is(err, os.ErrNotExist), "registering does not sign in")

	_, err = f.run(t, "auth", "register",
		"--username", "dave", "--email", "not-an-email", "--full-name", "Dave", "--password", "secret1")
	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 1, f.api.Calls(http.MethodPost, "/auth/register"), "invalid registration is not sent")
}

func TestAuth_PasswordReset(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "auth", "forgot-password", "--email", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "If the email exists, a reset link has been sent\n", out)

	out, err = f.run(t, "auth", "reset-password", "--reset-token", "reset-ok", "--password", "newpass1", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Password reset successfully"}`, out)

	_, err = f.run(t, "auth", "reset-password", "--reset-token", "stale", "--password", "newpass1")
	require.Error(t, err)
	assert.Equal(t, "Invalid or expired reset token", userMessage(err))

	_, err = f.run(t, "auth", "reset-password", "--reset-token", "reset-ok", "--password", "abc")
	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestAuth_TokenFlagIsNotPersisted(t *testing.T) {
	f := newCLIFixture(t)
	p := f.api.AddUser("erin", "erin@example.com", "secret1", false)
	tok := f.api.IssueToken(p.ID)

	out, err := f.run(t, "--token", tok, "auth", "whoami", "-o", "json")
	require.NoError(t, err)
	var got domain.Principal
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "erin", got.Username)

	_, err = os.Stat(filepath.Join(f.home, ".libra", "config.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestBooks(t *testing.T) {
	f := newCLIFixture(t)
	dune := f.api.AddBook(domain.Book{Title: "Dune", Author: "Frank Herbert", ISBN: "1", Category: "Fiction", AvailableCopies: 2, TotalCopies: 3})
	f.api.AddBook(domain.Book{Title: "Cosmos", Author: "Carl Sagan", ISBN: "2", Category: "Science", AvailableCopies: 1, TotalCopies: 1})

	out, err := f.run(t, "books", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, out, "Dune")
	assert.Contains(t, out, "2/3")

	out, err = f.run(t, "books", "list", "--search", "cosmos", "-o", "json")
	require.NoError(t, err)
	var books []domain.Book
	require.NoError(t, json.Unmarshal([]byte(out), &books))
	require.Len(t, books, 1)
	assert.Equal(t, "Cosmos", books[0].Title)

	out, err = f.run(t, "books", "get", dune.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "title:        Dune")

	out, err = f.run(t, "books", "categories")
	require.NoError(t, err)
	assert.Contains(t, out, "Fiction")
	assert.Contains(t, out, "Science")

	_, err = f.run(t, "books", "get", "missing")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)

	_, err = f.run(t, "books", "list", "--page", "0")
	require.Error(t, err)
}

func TestLoans_BorrowRenewReturn(t *testing.T) {
	f := newCLIFixture(t)
	f.signIn(t, "alice", false)
	book := f.api.AddBook(domain.Book{Title: "Dune", Author: "Frank Herbert", ISBN: "1", AvailableCopies: 1, TotalCopies: 1})

	out, err := f.run(t, "loans", "borrow", book.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Borrowed "+book.ID)

	_, err = f.run(t, "loans", "borrow", book.ID)
	require.Error(t, err)
	assert.Equal(t, "Book not available for borrowing", userMessage(err))

	out, err = f.run(t, "loans", "list", "-o", "json")
	require.NoError(t, err)
	var loans []domain.Loan
	require.NoError(t, json.Unmarshal([]byte(out), &loans))
	require.Len(t, loans, 1)
	loanID := loans[0].ID

	out, err = f.run(t, "loans", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Dune", "table output resolves book titles")

	out, err = f.run(t, "loans", "renew", loanID)
	require.NoError(t, err)
	assert.Contains(t, out, "1 renewal(s) left")

	out, err = f.run(t, "loans", "return", loanID)
	require.NoError(t, err)
	assert.Equal(t, "Book returned successfully\n", out)
}

func TestLoans_RenewRejectedWithoutRequest(t *testing.T) {
	f := newCLIFixture(t)
	alice := f.signIn(t, "alice", false)
	book := f.api.AddBook(domain.Book{Title: "Dune", ISBN: "1", AvailableCopies: 0, TotalCopies: 1})
	loan := f.api.AddLoan(domain.Loan{
		UserID:       alice.ID,
		BookID:       book.ID,
		BorrowedAt:   time.Now().Add(-24 * time.Hour),
		DueDate:      time.Now().Add(13 * 24 * time.Hour),
		RenewalCount: 2,
		MaxRenewals:  2,
	})

	_, err := f.run(t, "loans", "renew", loan.ID)
	require.Error(t, err)
	assert.Equal(t, "Maximum renewals reached", userMessage(err))
	assert.Zero(t, f.api.Calls(http.MethodPost, "/borrowings/renew/{borrowing_id}"))
}

func TestLoans_Reserve(t *testing.T) {
	f := newCLIFixture(t)
	f.signIn(t, "alice", false)
	book := f.api.AddBook(domain.Book{Title: "Dune", ISBN: "1", AvailableCopies: 0, TotalCopies: 1})

	out, err := f.run(t, "loans", "reserve", book.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Reserved "+book.ID)

	out, err = f.run(t, "loans", "reservations")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
}

func TestLoans_RequireSession(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "loans", "list")
	require.Error(t, err)
	assert.True(t, domain.IsUnauthorized(err))
	assert.Zero(t, f.api.TotalCalls())
}

func TestFavorites(t *testing.T) {
	f := newCLIFixture(t)
	f.signIn(t, "alice", false)
	book := f.api.AddBook(domain.Book{Title: "Dune", ISBN: "1", AvailableCopies: 1, TotalCopies: 1})

	out, err := f.run(t, "favorites", "add", book.ID)
	require.NoError(t, err)
	assert.Equal(t, "Added "+book.ID+" to favorites\n", out)

	out, err = f.run(t, "favorites", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Dune")

	out, err = f.run(t, "favorites", "remove", book.ID, "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","message":"Removed `+book.ID+` from favorites"}`, out)

	out, err = f.run(t, "favorites", "list", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestPay(t *testing.T) {
	f := newCLIFixture(t)
	t.Setenv("LIBRA_CALLBACK_ADDR", "127.0.0.1:0")
	alice := f.signIn(t, "alice", false)
	f.api.SetFine(alice.ID, 6)

	out, err := f.run(t, "pay", "balance")
	require.NoError(t, err)
	assert.Contains(t, out, "Outstanding fine: 6.00")

	_, err = f.run(t, "pay", "fine", "10")
	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Zero(t, f.api.Calls(http.MethodPost, "/payments/create"))

	prev := openApprovalURL
	t.Cleanup(func() { openApprovalURL = prev })
	openApprovalURL = func(approvalURL, callbackURL string) error {
		u, err := url.Parse(approvalURL)
		if err != nil {
			return err
		}
		resp, err := http.Get(callbackURL + "/payment/success?paymentId=" + u.Query().Get("paymentId") + "&PayerID=PAYER-1")
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	out, err = f.run(t, "pay", "fine", "4", "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "Paid 4.00")

	out, err = f.run(t, "pay", "balance", "-o", "json")
	require.NoError(t, err)
	var bal domain.Balance
	require.NoError(t, json.Unmarshal([]byte(out), &bal))
	assert.Equal(t, 2.0, bal.FineAmount)

	out, err = f.run(t, "pay", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
}

func TestChat(t *testing.T) {
	f := newCLIFixture(t)
	f.signIn(t, "alice", false)
	dir := t.TempDir()
	doc := filepath.Join(dir, "rules.txt")
	require.NoError(t, os.WriteFile(doc, []byte("Loans last fourteen days."), 0o600))
	export := filepath.Join(dir, "chat.html")

	out, err := f.run(t, "chat", "--upload", doc, "--ask", "How long is a loan?", "--export", export)
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded "+doc)
	assert.Contains(t, out, "assistant> You asked: How long is a loan?")
	assert.Contains(t, out, "sources: rules.txt#0")

	page, err := os.ReadFile(export)
	require.NoError(t, err)
	assert.Contains(t, string(page), "How long is a loan?")

	out, err = f.run(t, "chat", "documents")
	require.NoError(t, err)
	assert.Contains(t, out, "rules.txt")
}

func TestChat_Offline(t *testing.T) {
	f := newCLIFixture(t)
	f.signIn(t, "alice", false)
	f.api.SetHealthy(false)

	_, err := f.run(t, "chat", "--ask", "hello")
	require.Error(t, err)
	assert.Zero(t, f.api.Calls(http.MethodPost, "/chat/ask"))
}

func TestChat_Loop(t *testing.T) {
	f := newCLIFixture(t)
	f.signIn(t, "alice", false)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--host", f.api.URL, "chat"})
	cmd.SetIn(strings.NewReader("\nfirst question\n/quit\nnever asked\n"))
	out := captureStdout(t)
	require.NoError(t, cmd.Execute())
	got := out()

	assert.Contains(t, got, "assistant> "+chatGreeting)
	assert.Contains(t, got, "assistant> You asked: first question")
	assert.NotContains(t, got, "never asked")
	assert.Equal(t, 1, f.api.Calls(http.MethodPost, "/chat/ask"))
}

func TestAdmin(t *testing.T) {
	f := newCLIFixture(t)
	f.signIn(t, "root", true)
	bob := f.api.AddUser("bob", "bob@example.com", "secret1", false)

	out, err := f.run(t, "admin", "books", "create",
		"--title", "Dune", "--author", "Frank Herbert", "--isbn", "9780441013593", "--category", "Fiction", "--copies", "3", "-o", "json")
	require.NoError(t, err)
	var created domain.Book
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, 3, created.AvailableCopies)

	out, err = f.run(t, "admin", "books", "update", created.ID, "--copies", "5")
	require.NoError(t, err)
	assert.Equal(t, "Updated book "+created.ID+"\n", out)
	stored, ok := f.api.Book(created.ID)
	require.True(t, ok)
	assert.Equal(t, 5, stored.TotalCopies)
	assert.Equal(t, 5, stored.AvailableCopies)
	assert.Equal(t, "Dune", stored.Title, "fields not given are kept")

	_, err = f.run(t, "admin", "books", "create", "--title", "No author")
	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)

	out, err = f.run(t, "admin", "users", "list", "--search", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "bob@example.com")

	_, err = f.run(t, "admin", "users", "update", bob.ID, "--fine", "2.5")
	require.NoError(t, err)
	u, _ := f.api.User(bob.ID)
	assert.Equal(t, 2.5, u.FineAmount)

	out, err = f.run(t, "admin", "users", "delete", bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "Deleted user "+bob.ID+"\n", out)

	out, err = f.run(t, "admin", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "books:")

	out, err = f.run(t, "admin", "update-fines")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated 0 borrowing(s)")

	out, err = f.run(t, "admin", "books", "delete", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Deleted book "+created.ID+"\n", out)
}

func TestAdmin_BookCover(t *testing.T) {
	f := newCLIFixture(t)
	f.signIn(t, "root", true)
	dir := t.TempDir()
	png := filepath.Join(dir, "dune.png")
	require.NoError(t, os.WriteFile(png, []byte("png-bytes"), 0o600))

	out, err := f.run(t, "admin", "books", "create",
		"--title", "Dune", "--author", "Frank Herbert", "--isbn", "9780441013593", "--category", "Fiction",
		"--year", "1965", "--copies", "2", "--cover", png, "-o", "json")
	require.NoError(t, err)
	var created domain.Book
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "/static/images/"+created.ID+".png", created.CoverImage)
	data, ok := f.api.Cover(created.ID)
	require.True(t, ok)
	assert.Equal(t, "png-bytes", string(data))

	gif := filepath.Join(dir, "dune.gif")
	require.NoError(t, os.WriteFile(gif, []byte("gif-bytes"), 0o600))
	out, err = f.run(t, "admin", "books", "update", created.ID, "--copies", "4", "--cover", gif)
	require.NoError(t, err)
	assert.Equal(t, "Updated book "+created.ID+"\n", out)
	stored, ok := f.api.Book(created.ID)
	require.True(t, ok)
	assert.Equal(t, 4, stored.TotalCopies)
	assert.Equal(t, "Dune", stored.Title, "fields not given are kept")
	assert.Equal(t, "/static/images/"+created.ID+".gif", stored.CoverImage)

	tests := []struct {
		name string
		args []string
	}{
		{"available with cover", []string{"admin", "books", "update", created.ID, "--available", "1", "--cover", png}},
		{"unsupported type", []string{"admin", "books", "update", created.ID, "--cover", writeFile(t, dir, "notes.txt")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.run(t, tt.args...)
			var invalid *domain.ValidationError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, 1, f.api.Calls(http.MethodPut, "/books/{book_id}/upload"))
		})
	}
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o600))
	return p
}

func TestAdmin_RejectedForReaders(t *testing.T) {
	f := newCLIFixture(t)
	f.signIn(t, "alice", false)

	_, err := f.run(t, "admin", "stats")
	require.Error(t, err)
	assert.Equal(t, "Admin access required", userMessage(err))
	assert.Zero(t, f.api.Calls(http.MethodGet, "/stats/admin-dashboard"))
}

func TestErrorObject(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want map[string]any
	}{
		{
			name: "api error",
			err:  &client.APIError{HTTPStatus: 500, Code: 500, Message: "boom"},
			want: map[string]any{"error": "boom", "http_status": 500, "code": 500},
		},
		{
			name: "business rule",
			err:  domain.ErrBusinessRule("Maximum renewals reached"),
			want: map[string]any{"error": "Maximum renewals reached", "http_status": 400, "code": 400},
		},
		{
			name: "not signed in",
			err:  domain.ErrUnauthorized("Not signed in"),
			want: map[string]any{"error": "Not signed in", "http_status": 401, "code": 401},
		},
		{
			name: "plain error",
			err:  errors.New("--page must be >= 1"),
			want: map[string]any{"error": "--page must be >= 1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorObject(tt.err))
		})
	}
}

func TestCLI_ConnectionRefused(t *testing.T) {
	newCLIFixture(t)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--host", "http://127.0.0.1:1", "books", "list"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, domain.IsTransport(err))
}

func TestCLI_InvalidGlobalFlags(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "books", "list", "-o", "yaml")
	require.EqualError(t, err, `unsupported output format "yaml": use 'table' or 'json'`)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--host", "localhost:8000", "books", "list"})
	require.Error(t, cmd.Execute())
}

func TestCLI_ProductionRequiresHTTPS(t *testing.T) {
	f := newCLIFixture(t)
	f.signIn(t, "alice", false)
	t.Setenv("ENV", "production")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--host", "http://library.example.com", "books", "list"})
	err := cmd.Execute()
	require.ErrorContains(t, err, "must use https in production")

	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: defaultProfile,
		Profiles:       map[string]Profile{defaultProfile: {Host: "http://library.example.com"}},
	}))
	cmd = newRootCmd()
	cmd.SetArgs([]string{"books", "list"})
	require.ErrorContains(t, cmd.Execute(), "must use https in production", "profile hosts are checked too")
	assert.Zero(t, f.api.TotalCalls())

	_, err = f.run(t, "books", "list")
	require.NoError(t, err, "loopback hosts may use plain http")
}

func TestCLI_UnknownProfile(t *testing.T) {
	f := newCLIFixture(t)
	f.signIn(t, "alice", false)

	_, err := f.run(t, "--profile", "wrok", "favorites", "list")
	require.EqualError(t, err, `profile "wrok" not found`)
	assert.Zero(t, f.api.TotalCalls())
}
