package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/kristofer/stvm/pkg/image"
	"github.com/kristofer/stvm/pkg/vm"
)

func newReplCmd() *cobra.Command {
	var snapshotPath string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactively send class>>selector against a loaded image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := buildVM(cfgPath)
			if err != nil {
				return err
			}
			defer v.Shutdown()

			var snap *image.Snapshot
			if snapshotPath != "" {
				snap, err = readSnapshot(snapshotPath)
				if err != nil {
					return err
				}
			}
			if err := v.LoadImage(snap); err != nil {
				return fmt.Errorf("load image: %w", err)
			}
			return runREPL(v)
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "image", "", "snapshot to load before starting (kernel only if omitted)")
	return cmd
}

// runREPL starts an interactive Read-Eval-Print loop on rl, persisting v
// across inputs the way the teacher's REPL persisted its VM and compiler.
// Unlike the teacher's REPL there is no live expression language to parse
// here -- a snapshot already names its root class/selector -- so each line
// is read as "ClassName selector" and sent against the already-loaded
// image, with the result printed.
func runREPL(v *vm.VM) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "smog> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("start readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("smog REPL v%s\n", version)
	fmt.Println("Type 'ClassName selector' to run, :help for help, :quit to exit")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case ":quit", ":exit":
			return nil
		case ":help":
			printREPLHelp()
			continue
		case ":classes":
			printLoadedClasses(v)
			continue
		}

		parts := strings.Fields(line)
		if len(parts) != 2 {
			fmt.Println("expected: ClassName selector")
			continue
		}
		result, err := v.Run(parts[0], parts[1])
		if err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
			continue
		}
		fmt.Printf("=> %v\n", result)
	}
}

func printLoadedClasses(v *vm.VM) {
	if v.Kernel == nil {
		fmt.Println("(no kernel loaded)")
		return
	}
	fmt.Printf("kernel: %+v\n", *v.Kernel)
}

func printREPLHelp() {
	fmt.Println("smog REPL help")
	fmt.Println()
	fmt.Println("  ClassName selector    send selector to a fresh instance of ClassName")
	fmt.Println("  :classes              show the loaded kernel's well-known classes")
	fmt.Println("  :help                 show this message")
	fmt.Println("  :quit, :exit          leave the REPL")
}
