// Command smog is the CLI entry point for the Smalltalk-80 bytecode VM
// built in pkg/vm. Rebuilt on github.com/spf13/cobra (replacing the
// teacher's hand-rolled os.Args switch) while keeping every subcommand the
// teacher's main.go exposed -- run, repl, compile, disassemble -- plus a
// new image subcommand for inspecting/bootstrapping a snapshot.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.5.0"

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "smog",
		Short: "A Smalltalk-80 bytecode virtual machine",
		Long: "smog loads a heap snapshot (a binary class table plus a root " +
			"method to run) and drives it to completion, or inspects one " +
			"without running it.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a vmconfig YAML file")

	root.AddCommand(
		newRunCmd(),
		newReplCmd(),
		newCompileCmd(),
		newDisassembleCmd(),
		newImageCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the smog version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("smog version %s\n", version)
			return nil
		},
	}
}
