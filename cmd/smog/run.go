package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kristofer/stvm/pkg/image"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <snapshot.img> [rootClass] [rootSelector]",
		Short: "Load a snapshot and run its root class/selector",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			rootClass, rootSelector := snap.RootClass, snap.RootSelector
			if len(args) >= 2 {
				rootClass = args[1]
			}
			if len(args) >= 3 {
				rootSelector = args[2]
			}

			v, err := buildVM(cfgPath)
			if err != nil {
				return err
			}
			defer v.Shutdown()

			if err := v.LoadImage(snap); err != nil {
				return fmt.Errorf("load image: %w", err)
			}
			result, err := v.Run(rootClass, rootSelector)
			if err != nil {
				return fmt.Errorf("run %s>>%s: %w", rootClass, rootSelector, err)
			}
			fmt.Printf("=> %v\n", result)
			return nil
		},
	}
}

func readSnapshot(path string) (*image.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	snap, err := image.BinaryFormat{}.Read(f)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return snap, nil
}
