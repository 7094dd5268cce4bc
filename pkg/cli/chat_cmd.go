package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"libraai/internal/assistant"
	"libraai/internal/domain"
)

const chatGreeting = "Hi! Ask me anything about the library's documents. Type /quit to leave."

func newChatCmd(e *env) *cobra.Command {
	var (
		questions []string
		uploads   []string
		export    string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the document assistant",
		Long: "Starts an interactive conversation with the document assistant. Use --ask for one-shot " +
			"questions, --upload to add documents first, and --export to save the transcript as HTML.",
		Example: `  libra chat
  libra chat --upload rules.pdf --ask "How long can I keep a book?"
  libra chat --ask "What are the opening hours?" --export transcript.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			ctx := cmd.Context()

			opts := []assistant.Option{}
			if len(questions) == 0 {
				opts = append(opts, assistant.WithGreeting(chatGreeting))
			}
			sess := a.NewAssistant(opts...)
			defer sess.Close()
			if err := sess.Start(ctx); err != nil {
				return err
			}

			for _, path := range uploads {
				res, err := sess.UploadFile(ctx, path)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(os.Stdout, "Uploaded %s: %s (%d chunks)\n", path, res.Message, res.Chunks)
			}

			if len(questions) > 0 {
				for _, q := range questions {
					if err := askAndPrint(cmd, sess, q); err != nil {
						return err
					}
				}
			} else if err := chatLoop(cmd, sess, cmd.InOrStdin()); err != nil {
				return err
			}

			if export != "" {
				return exportTranscript(export, sess.Transcript())
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&questions, "ask", nil, "Ask a question and exit (repeatable)")
	cmd.Flags().StringArrayVar(&uploads, "upload", nil, "Upload a .pdf or .txt document first (repeatable)")
	cmd.Flags().StringVar(&export, "export", "", "Write the transcript to this HTML file")

	cmd.AddCommand(newChatDocumentsCmd(e))
	return cmd
}

func askAndPrint(cmd *cobra.Command, sess *assistant.Session, question string) error {
	turn, err := sess.Ask(cmd.Context(), question)
	if turn != nil {
		if getOutputFormat(cmd) == "json" {
			if perr := PrintJSON(os.Stdout, turn); perr != nil {
				return perr
			}
		} else {
			printTurn(os.Stdout, *turn)
		}
	}
	return err
}

func printTurn(w io.Writer, t domain.Turn) {
	_, _ = fmt.Fprintf(w, "assistant> %s\n", t.Text)
	if len(t.Sources) == 0 {
		return
	}
	refs := make([]string, 0, len(t.Sources))
	for _, s := range t.Sources {
		refs = append(refs, s.Filename+"#"+strconv.Itoa(s.ChunkIndex))
	}
	_, _ = fmt.Fprintf(w, "sources: %s\n", strings.Join(refs, ", "))
}

// chatLoop reads questions line by line until /quit or end of input.
// Rejected questions are reported and the loop carries on.
func chatLoop(cmd *cobra.Command, sess *assistant.Session, in io.Reader) error {
	for _, t := range sess.Transcript() {
		printTurn(os.Stdout, t)
	}
	sc := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprint(os.Stderr, "you> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/status":
			_, _ = fmt.Fprintf(os.Stdout, "assistant is %s\n", sess.Poll(cmd.Context()))
			continue
		case "/docs":
			docs, err := sess.Documents(cmd.Context())
			if err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", userMessage(err))
				continue
			}
			printDocuments(docs)
			continue
		}

		err := askAndPrint(cmd, sess, line)
		switch {
		case errors.Is(err, assistant.ErrUnavailable):
			_, _ = fmt.Fprintln(os.Stderr, "The assistant is offline right now. Try /status in a moment.")
		case errors.Is(err, assistant.ErrClosed):
			return err
		case err != nil && !errors.Is(err, assistant.ErrEmptyQuestion):
			sess.Poll(cmd.Context())
		}
	}
}

func exportTranscript(path string, turns []domain.Turn) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	if err := assistant.RenderHTML(f, "LibraAI assistant", turns); err != nil {
		_ = f.Close()
		return fmt.Errorf("render transcript: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	_, _ = fmt.Fprintf(os.Stderr, "Transcript written to %s\n", path)
	return nil
}

func newChatDocumentsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "documents",
		Short: "List documents the assistant can draw on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.App(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(a); err != nil {
				return err
			}
			sess := a.NewAssistant()
			defer sess.Close()
			docs, err := sess.Documents(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, docs)
			}
			printDocuments(docs)
			return nil
		},
	}
}

func printDocuments(docs []domain.Document) {
	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []string{d.Filename, strconv.Itoa(d.Chunks), formatDate(d.UploadedAt)})
	}
	PrintTable(os.Stdout, []string{"filename", "chunks", "uploaded"}, rows)
}
