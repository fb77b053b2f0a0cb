package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/simonyos/mcpchat/internal/config"
	"github.com/simonyos/mcpchat/internal/store"
	"github.com/simonyos/mcpchat/internal/toolserver"
	"github.com/simonyos/mcpchat/internal/tools"
)

var serversCmd = &cobra.Command{
	Use:     "servers",
	Aliases: []string{"server"},
	Short:   "Manage tool servers",
	Long: `Manage the tool servers stored in the database.

Examples:
  mcpchat servers                 # List servers
  mcpchat servers tools github    # Connect and list a server's tools
  mcpchat servers disable github  # Stop offering a server's tools`,
	RunE: runServersList,
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tool servers",
	RunE:  runServersList,
}

var serversToolsCmd = &cobra.Command{
	Use:   "tools <name>",
	Short: "Connect to a server and list its tools",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore) error {
			srv, err := st.GetServerByName(ctx, args[0])
			if err != nil {
				return fmt.Errorf("server %q: %w", args[0], err)
			}

			sc := srv.ToolServerConfig()
			enabled := true
			sc.Enabled = &enabled

			registry := tools.NewRegistry(setupLogger(cfg.Logging))
			defer registry.Close()
			if err := registry.Add(sc); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, sc.CallTimeout()+10*time.Second)
			defer cancel()
			descs, err := tools.NewCatalog(registry, nil).ListServer(ctx, srv.Name)
			if err != nil {
				return err
			}
			if conn, ok := registry.Get(srv.Name); ok {
				state := conn.State().String()
				fmt.Printf("%s %s\n\n", titleStyle.Render(srv.Name), stateStyle(state).Render(state))
			}
			if len(descs) == 0 {
				fmt.Println("No tools.")
				return nil
			}
			for _, d := range descs {
				fmt.Printf("  %s\n", titleStyle.Render(d.QualifiedName))
				if d.Description != "" {
					fmt.Printf("    %s\n", mutedStyle.Render(firstLine(d.Description)))
				}
			}
			return nil
		})
	},
}

func setEnabledCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a tool server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore) error {
				srv, err := st.GetServerByName(ctx, args[0])
				if err != nil {
					return fmt.Errorf("server %q: %w", args[0], err)
				}
				if err := st.SetServerEnabled(ctx, srv.ID, enabled); err != nil {
					return err
				}
				fmt.Printf("%s %sd.\n", srv.Name, use)
				return nil
			})
		},
	}
}

var serversRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"delete", "rm"},
	Short:   "Remove a tool server",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore) error {
			srv, err := st.GetServerByName(ctx, args[0])
			if err != nil {
				return fmt.Errorf("server %q: %w", args[0], err)
			}
			if err := st.DeleteServer(ctx, srv.ID); err != nil {
				return err
			}
			fmt.Printf("Removed %s.\n", srv.Name)
			return nil
		})
	},
}

func runServersList(cmd *cobra.Command, args []string) error {
	return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore) error {
		servers, err := st.ListServers(ctx)
		if err != nil {
			return err
		}
		if len(servers) == 0 {
			fmt.Println("No tool servers configured.")
			fmt.Println(mutedStyle.Render("\nAdd them under servers: in the config file or with POST /server."))
			return nil
		}
		for _, srv := range servers {
			state := successStyle.Render("enabled")
			if !srv.Enabled {
				state = mutedStyle.Render("disabled")
			}
			fmt.Printf("  %s  %s  %s  %s\n",
				titleStyle.Render(srv.Name),
				mutedStyle.Render(srv.Mode),
				serverTarget(srv),
				state,
			)
		}
		return nil
	})
}

// withStore opens the configured database for the duration of fn.
func withStore(ctx context.Context, fn func(context.Context, *config.Config, *store.SQLiteStore) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStore(ctx, cfg, setupLogger(cfg.Logging))
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, cfg, st)
}

func serverTarget(srv *store.Server) string {
	if srv.Mode == toolserver.ModeStdio {
		parts := append([]string{srv.Command}, srv.Args.List...)
		if srv.Args.Line != "" {
			parts = append(parts, srv.Args.Line)
		}
		return strings.Join(parts, " ")
	}
	return srv.URL + srv.SSEEndpoint
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return truncate(line, 100)
}

func init() {
	serversCmd.AddCommand(serversListCmd)
	serversCmd.AddCommand(serversToolsCmd)
	serversCmd.AddCommand(setEnabledCmd("enable", true))
	serversCmd.AddCommand(setEnabledCmd("disable", false))
	serversCmd.AddCommand(serversRemoveCmd)
	rootCmd.AddCommand(serversCmd)
}
