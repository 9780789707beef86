package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kristofer/stvm/pkg/image"
)

// snapshotYAML mirrors image.Snapshot for hand-authored input: bytecodes as
// a hex string (YAML has no native byte-string type the way JSON's base64
// convention does) and a literal's kind as a readable tag instead of
// image.LiteralKind's raw byte value.
type snapshotYAML struct {
	RootClass    string      `yaml:"root_class"`
	RootSelector string      `yaml:"root_selector"`
	Classes      []classYAML `yaml:"classes"`
}

type classYAML struct {
	Name       string       `yaml:"name"`
	Superclass string       `yaml:"superclass"`
	FixedSlots int          `yaml:"fixed_slots"`
	TailKind   byte         `yaml:"tail_kind"`
	Methods    []methodYAML `yaml:"methods"`
}

type methodYAML struct {
	Selector       string        `yaml:"selector"`
	ArgCount       int           `yaml:"arg_count"`
	TempCount      int           `yaml:"temp_count"`
	PrimitiveIndex int           `yaml:"primitive_index"`
	LargeFrame     bool          `yaml:"large_frame"`
	Literals       []literalYAML `yaml:"literals"`
	Bytecodes      string        `yaml:"bytecodes"` // hex-encoded
}

type literalYAML struct {
	Kind string  `yaml:"kind"` // nil, bool, int, float, string, symbol
	Bool bool    `yaml:"bool,omitempty"`
	Int  int64   `yaml:"int,omitempty"`
	Flt  float64 `yaml:"float,omitempty"`
	Str  string  `yaml:"str,omitempty"`
}

func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <input.yaml> [output.img]",
		Short: "Compile a YAML class table into a binary snapshot",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputFile := args[0]
			outputFile := ""
			if len(args) == 2 {
				outputFile = args[1]
			}
			if outputFile == "" {
				ext := filepath.Ext(inputFile)
				outputFile = inputFile[:len(inputFile)-len(ext)] + ".img"
			}

			data, err := os.ReadFile(inputFile)
			if err != nil {
				return fmt.Errorf("read %s: %w", inputFile, err)
			}
			var doc snapshotYAML
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse %s: %w", inputFile, err)
			}
			snap, err := doc.toSnapshot()
			if err != nil {
				return fmt.Errorf("convert %s: %w", inputFile, err)
			}

			out, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("create %s: %w", outputFile, err)
			}
			defer out.Close()
			if err := (image.BinaryFormat{}).Write(snap, out); err != nil {
				return fmt.Errorf("write %s: %w", outputFile, err)
			}
			fmt.Printf("Compiled %s -> %s\n", inputFile, outputFile)
			return nil
		},
	}
}

func (doc snapshotYAML) toSnapshot() (*image.Snapshot, error) {
	snap := &image.Snapshot{
		RootClass:    doc.RootClass,
		RootSelector: doc.RootSelector,
		Classes:      make([]image.ClassSpec, len(doc.Classes)),
	}
	for i, c := range doc.Classes {
		methods := make([]image.MethodSpec, len(c.Methods))
		for j, m := range c.Methods {
			bytecodes, err := hex.DecodeString(m.Bytecodes)
			if err != nil {
				return nil, fmt.Errorf("class %s method %s: bytecodes: %w", c.Name, m.Selector, err)
			}
			literals := make([]image.Literal, len(m.Literals))
			for k, lit := range m.Literals {
				converted, err := lit.toLiteral()
				if err != nil {
					return nil, fmt.Errorf("class %s method %s literal %d: %w", c.Name, m.Selector, k, err)
				}
				literals[k] = converted
			}
			methods[j] = image.MethodSpec{
				Selector:       m.Selector,
				ArgCount:       m.ArgCount,
				TempCount:      m.TempCount,
				PrimitiveIndex: m.PrimitiveIndex,
				LargeFrame:     m.LargeFrame,
				Literals:       literals,
				Bytecodes:      bytecodes,
			}
		}
		snap.Classes[i] = image.ClassSpec{
			Name:       c.Name,
			Superclass: c.Superclass,
			FixedSlots: c.FixedSlots,
			TailKind:   c.TailKind,
			Methods:    methods,
		}
	}
	return snap, nil
}

func (lit literalYAML) toLiteral() (image.Literal, error) {
	switch lit.Kind {
	case "nil", "":
		return image.Literal{Kind: image.LiteralNil}, nil
	case "bool":
		return image.Literal{Kind: image.LiteralBool, Bool: lit.Bool}, nil
	case "int":
		return image.Literal{Kind: image.LiteralSmallInteger, Int: lit.Int}, nil
	case "float":
		return image.Literal{Kind: image.LiteralFloat, Flt: lit.Flt}, nil
	case "string":
		return image.Literal{Kind: image.LiteralString, Str: lit.Str}, nil
	case "symbol":
		return image.Literal{Kind: image.LiteralSymbol, Str: lit.Str}, nil
	default:
		return image.Literal{}, fmt.Errorf("unknown literal kind %q", lit.Kind)
	}
}
