// Package vmconfig loads the VM's ambient tunables: the interrupt-check
// window, the stack-depth guard, and default heap/image sizing, per the
// spec's supplemented AMBIENT STACK section.
//
// Grounded on the `ResistanceIsUseless-picoclaw` and `mna-nenuphar`
// manifests, both of which layer `github.com/caarlos0/env/v11` environment
// overrides on top of a `gopkg.in/yaml.v3`-decoded base config -- the same
// two-step load this package performs.
package vmconfig

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the VM's full set of runtime tunables. Zero-value Config is not
// valid to run with; use Default or Load.
type Config struct {
	// InterruptCheckMillis is the loaded wake-time granularity for the timer
	// semaphore's check (spec §4.7). pkg/vm.New does not read it, and
	// pkg/process/interrupt.go takes no setting from it.
	InterruptCheckMillis int64 `yaml:"interrupt_check_millis" env:"STVM_INTERRUPT_CHECK_MILLIS" envDefault:"20"`

	// MaxStackDepth bounds live send depth per process run before
	// pkg/interp raises ErrStackDepthExceeded (spec §4.4 step 3, and the
	// Open-Questions resolution unifying "sender-chain manipulation" and
	// stack overflow into one policy). Zero means unbounded.
	MaxStackDepth int `yaml:"max_stack_depth" env:"STVM_MAX_STACK_DEPTH" envDefault:"10000"`

	// InitialHeapObjects is a loaded preallocation hint for the heap's
	// slot table. No code reads it: pkg/oop.NewHeap uses its own fixed
	// initial capacity, and the heap grows past that as needed.
	InitialHeapObjects int `yaml:"initial_heap_objects" env:"STVM_INITIAL_HEAP_OBJECTS" envDefault:"1024"`

	// PrimitiveTableSlots records the Open-Question resolution (576, not
	// 1350); pkg/primitive.Table's own size is a compile-time array length,
	// not driven by this field. pkg/vm.New uses it as the method cache's
	// initial capacity.
	PrimitiveTableSlots int `yaml:"primitive_table_slots" env:"STVM_PRIMITIVE_TABLE_SLOTS" envDefault:"576"`

	// LogLevel is the zap level name ("debug", "info", "warn", "error")
	// pkg/vm's logger is built at, per the spec's ambient logging section.
	LogLevel string `yaml:"log_level" env:"STVM_LOG_LEVEL" envDefault:"info"`
}

// Default returns the zero-override configuration: every envDefault tag's
// value, with no YAML file or environment applied.
func Default() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("vmconfig: apply defaults: %w", err)
	}
	return c, nil
}

// Load reads a YAML config file, if path is non-empty, over the struct's
// envDefault values, then applies environment-variable overrides on top,
// matching the picoclaw/nenuphar manifests' layering. Unlike Default, this
// unmarshals YAML before calling env.Parse exactly once, since caarlos0/env
// applies envDefault to any still-zero-valued field -- calling it twice
// would stomp a YAML-supplied zero-like value (e.g. log_level: "") back to
// its default.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("vmconfig: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("vmconfig: parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("vmconfig: apply environment overrides: %w", err)
	}
	return c, nil
}
