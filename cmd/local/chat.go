package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"gem-concierge/internal/usecase"
)

var sessionID string

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the concierge in the terminal",
	Long: `With a message argument, runs a single turn. Without one, reads one
message per line from stdin and keeps the session across lines.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session id")
}

func runChat(cmd *cobra.Command, args []string) error {
	out := &consoleWriter{out: cmd.OutOrStdout(), status: cmd.ErrOrStderr()}
	if len(args) == 1 {
		return service.Consult(cmd.Context(), usecase.ConsultInput{Message: args[0], SessionID: sessionID}, out)
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprint(out.status, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out.status, "> ")
			continue
		}
		err := service.Consult(cmd.Context(), usecase.ConsultInput{Message: line, SessionID: out.session}, out)
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) && ucErr.Code == usecase.ErrorInvalidInput {
			fmt.Fprintf(out.status, "rejected: %s\n", ucErr.Reason)
		}
		fmt.Fprint(out.status, "\n> ")
	}
	return scanner.Err()
}

// consoleWriter prints reply chunks as they arrive and remembers the session
// id so the next line continues the same conversation.
type consoleWriter struct {
	out     io.Writer
	status  io.Writer
	session string
}

func (w *consoleWriter) SessionID(id string) error {
	if w.session != id {
		fmt.Fprintf(w.status, "[session %s]\n", id)
	}
	w.session = id
	return nil
}

func (w *consoleWriter) Chunk(text string) error {
	_, err := io.WriteString(w.out, text)
	return err
}

func (w *consoleWriter) Error(msg string) error {
	_, err := fmt.Fprintf(w.status, "\n%s\n", msg)
	return err
}
