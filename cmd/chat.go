package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/simonyos/mcpchat/internal/chat"
)

var sessionFlag string

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Run one turn from the terminal",
	Long: `Run one conversation turn without the HTTP API. The turn is stored like any
other; pass --session to continue an existing session.

Examples:
  mcpchat chat "What's the weather in Paris?"
  mcpchat chat --session 4f1c... "And tomorrow?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChatTurn,
}

func runChatTurn(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID := sessionFlag
	if sessionID == "" {
		sess, err := a.store.CreateSession(ctx, "")
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		sessionID = sess.ID
		fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("session "+sess.Name+" ("+sess.ID+")"))
	}

	updates, err := a.chat.Complete(ctx, sessionID, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for u := range updates {
		printUpdate(out, u)
	}
	return nil
}

func printUpdate(out io.Writer, u chat.Update) {
	switch {
	case u.Response != "":
		fmt.Fprint(out, u.Response)
	case u.FunctionCall != nil:
		for _, tc := range u.FunctionCall.ToolCalls {
			fmt.Fprintln(out)
			fmt.Fprintln(out, toolStyle.Render("→ "+tc.Function.Name+" "+tc.Function.Arguments))
		}
	case u.ToolResult != nil:
		fmt.Fprintln(out, toolStyle.Render(mutedStyle.Render(truncate(u.ToolResult.Content, 200))))
	case u.Error != "":
		fmt.Fprintln(out)
		fmt.Fprintln(out, errorStyle.Render("error: "+u.Error))
	case u.Finish:
		fmt.Fprintln(out)
	}
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func init() {
	chatCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "session id to continue")
	rootCmd.AddCommand(chatCmd)
}
