package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Inspect or bootstrap a snapshot without running it",
	}
	cmd.AddCommand(newImageInspectCmd(), newImageBootstrapCmd())
	return cmd
}

func newImageInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <snapshot.img>",
		Short: "List a snapshot's class table and root send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("root: %s>>%s\n", snap.RootClass, snap.RootSelector)
			fmt.Printf("classes (%d):\n", len(snap.Classes))
			for _, c := range snap.Classes {
				super := c.Superclass
				if super == "" {
					super = "(none)"
				}
				fmt.Printf("  %-20s extends %-20s %d methods\n", c.Name, super, len(c.Methods))
			}
			return nil
		},
	}
}

func newImageBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Build the minimal kernel class hierarchy and print its class refs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := buildVM(cfgPath)
			if err != nil {
				return err
			}
			defer v.Shutdown()
			if err := v.LoadImage(nil); err != nil {
				return fmt.Errorf("bootstrap kernel: %w", err)
			}
			fmt.Printf("%+v\n", *v.Kernel)
			return nil
		},
	}
}
