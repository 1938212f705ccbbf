package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goforj/godump"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"go.olrik.dev/zsh-tool/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "zsh-tool",
		Short: "Supervised shell execution for agentic clients",
		Long:  "zsh-tool runs zsh commands under NEVERHANG timeout supervision and A.L.A.N. pattern learning, exposed over stdio JSON-RPC for MCP-style clients.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			messages, err := core.InitializeConfig(cmd)
			for _, message := range messages {
				fmt.Println(message)
			}
			if err != nil {
				return err
			}

			level := slog.LevelInfo
			if verbose > 0 {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(
				tint.NewHandler(os.Stderr, &tint.Options{
					Level:      level,
					TimeFormat: time.DateTime,
				}),
			))

			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	debugCmd := &cobra.Command{
		Use:    "debug",
		Short:  "Dump resolved configuration",
		Hidden: true,
		Run: func(cmd *cobra.Command, args []string) {
			godump.Dump(core.Config.AllSettings())
		},
	}

	rootCmd.AddCommand(
		debugCmd,
		NewServeCommand(),
		NewExecCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
