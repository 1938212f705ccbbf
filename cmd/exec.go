package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/zsh-tool/internal/alan"
	"go.olrik.dev/zsh-tool/internal/core"
	"go.olrik.dev/zsh-tool/internal/executor"
)

// NewExecCommand runs a single command to completion and reports its result
// via the meta file. It is what the serve subcommand re-execs itself as for
// every `zsh` tool call; it is also usable standalone.
func NewExecCommand() *cobra.Command {
	var metaPath string
	var timeoutSecs int
	var usePty bool
	var dbPath string
	var sessionID string

	cmd := &cobra.Command{
		Use:   "exec -- <command>",
		Short: "Run a single command under NEVERHANG supervision",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if metaPath == "" {
				return fmt.Errorf("--meta is required")
			}
			command := strings.Join(args, " ")

			var result executor.Result
			var err error
			if usePty {
				result, err = executor.ExecutePty(command, time.Duration(timeoutSecs)*time.Second)
			} else {
				result, err = executor.ExecutePipe(command, time.Duration(timeoutSecs)*time.Second)
			}

			if err != nil {
				_ = executor.WriteMeta(metaPath, executor.Result{ExitCode: 127})
				fmt.Fprintf(os.Stderr, "zsh-tool exec: %v\n", err)
				os.Exit(127)
			}

			if werr := executor.WriteMeta(metaPath, result); werr != nil {
				fmt.Fprintf(os.Stderr, "zsh-tool exec: failed to write meta: %v\n", werr)
			}

			if dbPath != "" && sessionID != "" {
				if store, serr := alan.Open(dbPath); serr == nil {
					if rerr := store.Record(sessionID, command, result.ExitCode, result.ElapsedMs, result.TimedOut, result.OutputSnippet, result.Pipestatus, core.GetAlanRecentWindowMinutes()); rerr != nil {
						fmt.Fprintf(os.Stderr, "zsh-tool exec: alan record failed: %v\n", rerr)
					}
					store.Close()
				} else {
					fmt.Fprintf(os.Stderr, "zsh-tool exec: alan db open failed: %v\n", serr)
				}
			}

			os.Exit(result.ExitCode)
			return nil
		},
	}

	cmd.Flags().StringVar(&metaPath, "meta", "", "path to write the execution result metadata to")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 120, "timeout in seconds")
	cmd.Flags().BoolVar(&usePty, "pty", false, "run under a pseudo-terminal")
	cmd.Flags().StringVar(&dbPath, "db", "", "A.L.A.N. database path (enables recording with --session-id)")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session id to record observations under")

	return cmd
}
