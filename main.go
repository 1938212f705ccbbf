package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/text"

	"go.olrik.dev/zsh-tool/cmd"
)

func main() {
	text.EnableColors()

	root := cmd.NewRootCommand()
	// Legacy invocation: a leading --meta runs the exec subcommand.
	if len(os.Args) > 1 && os.Args[1] == "--meta" {
		root.SetArgs(append([]string{"exec"}, os.Args[1:]...))
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
