package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.olrik.dev/zsh-tool/internal/core"
	"go.olrik.dev/zsh-tool/internal/rpcserver"
)

// NewServeCommand runs the stdio JSON-RPC server: the long-lived process an
// MCP-style client spawns once and talks to for the lifetime of a session.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP stdio server",
		RunE: func(cmd *cobra.Command, args []string) error {
			core.WatchConfig()

			state, err := rpcserver.NewServerState()
			if err != nil {
				slog.Error("zsh-tool: failed to initialize server state", slog.Any("err", err))
				return err
			}
			state.Run(os.Stdin, os.Stdout)
			return nil
		},
	}
}
