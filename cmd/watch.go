package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/simonyos/mcpchat/internal/chat"
	"github.com/simonyos/mcpchat/internal/relay"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow a session's turn events on the NATS relay",
	Long: `Print the updates a running server publishes for a session. Requires nats.url
to be set in the config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.NATS.URL == "" {
			return fmt.Errorf("nats.url is not configured")
		}
		logger := setupLogger(cfg.Logging)

		rc := relay.DefaultConfig()
		rc.URL = cfg.NATS.URL
		rc.SubjectPrefix = cfg.NATS.SubjectPrefix
		p, err := relay.Connect(rc, logger)
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		out := cmd.OutOrStdout()
		err = p.Subscribe(args[0], func(data []byte) {
			var u chat.Update
			if err := json.Unmarshal(data, &u); err != nil {
				logger.Warn("undecodable relay event", "error", err)
				return
			}
			printUpdate(out, u)
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("watching "+relay.Subject(rc.SubjectPrefix, args[0])))

		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
