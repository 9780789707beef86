package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kristofer/stvm/pkg/vm"
	"github.com/kristofer/stvm/pkg/vmconfig"
)

// buildVM loads vmconfig.Config from cfgPath (empty means defaults-plus-
// environment only) and constructs a fresh *vm.VM, shared by run/repl/image
// so each subcommand doesn't re-derive its own logger/config plumbing.
func buildVM(cfgPath string) (*vm.VM, error) {
	cfg, err := vmconfig.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return vm.New(cfg, log), nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = ""
	return cfg.Build()
}
