package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kristofer/stvm/pkg/bytecode"
	"github.com/kristofer/stvm/pkg/image"
)

func newDisassembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "disassemble <snapshot.img>",
		Aliases: []string{"disasm"},
		Short:   "Print a human-readable dump of a snapshot's classes and bytecode",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("=== Snapshot: %s ===\n", args[0])
			fmt.Printf("root: %s>>%s\n\n", snap.RootClass, snap.RootSelector)
			for _, c := range snap.Classes {
				disassembleClass(c)
			}
			return nil
		},
	}
}

func disassembleClass(c image.ClassSpec) {
	fmt.Printf("class %s", c.Name)
	if c.Superclass != "" {
		fmt.Printf(" extends %s", c.Superclass)
	}
	fmt.Printf(" (%d fixed slots, tail kind %d)\n", c.FixedSlots, c.TailKind)
	if len(c.Methods) == 0 {
		fmt.Println("  (no methods)")
	}
	for _, m := range c.Methods {
		disassembleMethod(m)
	}
	fmt.Println()
}

func disassembleMethod(m image.MethodSpec) {
	fmt.Printf("  %s (%d args, %d temps", m.Selector, m.ArgCount, m.TempCount)
	if m.PrimitiveIndex > 0 {
		fmt.Printf(", primitive %d", m.PrimitiveIndex)
	}
	fmt.Println(")")

	if len(m.Literals) > 0 {
		fmt.Println("    literals:")
		for i, lit := range m.Literals {
			fmt.Printf("      [%d] %s\n", i, formatLiteral(lit))
		}
	}

	fmt.Println("    bytecodes:")
	for pc := 0; pc < len(m.Bytecodes); {
		op := m.Bytecodes[pc]
		info := bytecode.Info(op)
		mnemonic := bytecode.Mnemonic(op)
		operands := m.Bytecodes[pc+1 : pc+1+info.ExtraBytes]
		if len(operands) > 0 {
			fmt.Printf("      %4d: %-28s % X\n", pc, mnemonic, operands)
		} else {
			fmt.Printf("      %4d: %s\n", pc, mnemonic)
		}
		pc += 1 + info.ExtraBytes
	}
}

func formatLiteral(lit image.Literal) string {
	switch lit.Kind {
	case image.LiteralNil:
		return "nil"
	case image.LiteralBool:
		return fmt.Sprintf("bool: %t", lit.Bool)
	case image.LiteralSmallInteger:
		return fmt.Sprintf("int: %d", lit.Int)
	case image.LiteralFloat:
		return fmt.Sprintf("float: %g", lit.Flt)
	case image.LiteralString:
		return fmt.Sprintf("string: %q", lit.Str)
	case image.LiteralSymbol:
		return fmt.Sprintf("symbol: #%s", lit.Str)
	default:
		return fmt.Sprintf("unknown kind %d", lit.Kind)
	}
}
