// Package vm is the top-level facade of spec §9's design note: "Global
// mutable state... collect into a single Vm record with an explicit
// lifecycle (new, load_image, run, shutdown)." Every other package here
// (pkg/oop, pkg/class, pkg/cache, pkg/context, pkg/process, pkg/primitive,
// pkg/hostservice, pkg/interp, pkg/image, pkg/vmconfig) is an independent
// leaf; VM is the one place that wires them together and is the only type
// a caller outside this module (cmd/smog) needs to know about.
//
// Execution pipeline, once an image is loaded:
//
//	Snapshot -> image.Bootstrap (kernel classes) -> loader (install
//	snapshot's own classes/methods) -> interp.Interpreter.Run (drive the
//	root process to completion)
//
// Grounded on the teacher's pkg/vm.VM: the same role (the one struct a
// caller constructs and calls Run on) generalized from a single
// goroutine's stack-machine fields (stack/sp/locals/globals/constants) to
// this VM's handle-indexed subsystems, and from the teacher's ad hoc
// field-by-field construction to an explicit New/LoadImage/Run/Shutdown
// lifecycle per spec §9.
package vm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kristofer/stvm/pkg/cache"
	"github.com/kristofer/stvm/pkg/class"
	"github.com/kristofer/stvm/pkg/context"
	"github.com/kristofer/stvm/pkg/hostservice"
	"github.com/kristofer/stvm/pkg/image"
	"github.com/kristofer/stvm/pkg/interp"
	"github.com/kristofer/stvm/pkg/oop"
	"github.com/kristofer/stvm/pkg/primitive"
	"github.com/kristofer/stvm/pkg/process"
	"github.com/kristofer/stvm/pkg/vmconfig"
)

// VM bundles every subsystem needed to load and run an image. Zero-value VM
// is not usable; construct one with New.
type VM struct {
	Config vmconfig.Config
	Log    *zap.Logger

	Heap      *oop.Heap
	Classes   *class.Registry
	Cache     *cache.MethodCache
	Contexts  *context.Store
	Scheduler *process.Scheduler
	Host      *hostservice.Registry
	Machine   *primitive.Machine
	Interp    *interp.Interpreter

	Kernel *image.Kernel
}

// New constructs a VM from cfg, wiring pkg/cache's capacity and
// pkg/interp's stack-depth guard to cfg's tunables, per
// pkg/vmconfig.Config's fields. log may be nil (zap.NewNop() is
// substituted), so callers that don't care about structured output don't
// have to build a logger just to call New.
func New(cfg vmconfig.Config, log *zap.Logger) *VM {
	if log == nil {
		log = zap.NewNop()
	}

	heap := oop.NewHeap()
	classes := class.NewRegistry()
	methodCache := cache.New(uint32(cfg.PrimitiveTableSlots))
	classes.OnMutate(func(changed oop.ClassRef) {
		methodCache.Invalidate(changed, classes.Subclasses(changed))
	})

	contexts := context.NewStore()
	scheduler := process.NewScheduler()
	host := hostservice.NewRegistry()

	machine := &primitive.Machine{
		Heap:        heap,
		Classes:     classes,
		Contexts:    contexts,
		Scheduler:   scheduler,
		Host:        host,
		StartMillis: 0,
		Cache:       methodCache,
		Closures:    make(map[oop.Handle]*context.ClosureRecord),
		Symbols:     make(map[oop.Handle]string),
		Semaphores:  make(map[oop.Handle]*process.Semaphore),
	}

	interpreter := interp.New(machine, methodCache, log)
	interpreter.MaxStackDepth = cfg.MaxStackDepth

	return &VM{
		Config:    cfg,
		Log:       log,
		Heap:      heap,
		Classes:   classes,
		Cache:     methodCache,
		Contexts:  contexts,
		Scheduler: scheduler,
		Host:      host,
		Machine:   machine,
		Interp:    interpreter,
	}
}

// LoadImage bootstraps the minimal kernel hierarchy and installs snap's
// classes and methods on top of it, per spec §6.1. It must run exactly
// once per VM, against the fresh heap New built.
func (v *VM) LoadImage(snap *image.Snapshot) error {
	kernel, err := image.Bootstrap(v.Heap, v.Classes)
	if err != nil {
		return fmt.Errorf("vm: bootstrap kernel: %w", err)
	}
	v.Kernel = kernel
	v.Machine.SmallIntegerClass = kernel.SmallInteger
	v.Machine.FloatClass = kernel.Float
	v.Machine.BlockClosureClass = kernel.BlockClosure
	v.Machine.ArrayClass = kernel.Array

	if snap == nil {
		v.Log.Info("loaded kernel with no snapshot")
		return nil
	}

	if err := installSnapshot(v, snap); err != nil {
		return fmt.Errorf("vm: install snapshot: %w", err)
	}
	v.Log.Info("loaded snapshot",
		zap.Int("classes", len(snap.Classes)),
		zap.String("rootClass", snap.RootClass),
		zap.String("rootSelector", snap.RootSelector),
	)
	return nil
}

// Run sends RootSelector to a fresh instance of RootClass as the sole
// initial process and drives it (and any process it spawns) to completion,
// per spec §8's end-to-end scenarios. The returned error, if non-nil, is a
// *RuntimeError carrying the sender chain active at the point of failure.
func (v *VM) Run(rootClass, rootSelector string) (oop.Value, error) {
	rootCls := v.Classes.Named(rootClass)
	if rootCls == nil {
		return nil, fmt.Errorf("vm: unknown root class %q", rootClass)
	}
	method, _, err := v.Classes.Lookup(rootCls.Ref, rootSelector)
	if err != nil {
		return nil, fmt.Errorf("vm: root selector %q not found on %q: %w", rootSelector, rootClass, err)
	}

	recvHandle, err := rootCls.New(v.Heap)
	if err != nil {
		return nil, fmt.Errorf("vm: instantiate root class %q: %w", rootClass, err)
	}

	stack := make([]oop.Value, method.Header.ArgCount()+method.Header.TempCount())
	for i := range stack {
		stack[i] = oop.NilValue
	}
	rootCtx := &context.Context{
		Kind:     context.KindMethod,
		Sender:   0,
		Method:   method,
		Receiver: oop.Reference(recvHandle),
		Stack:    stack,
		StackP:   len(stack),
		NumArgs:  method.NumArgs,
	}
	ref := v.Contexts.New(rootCtx)

	proc := process.NewProcess(ref, 0)
	v.Scheduler.Resume(proc)

	value, failed, runErr := v.Interp.Run(ref)
	if runErr != nil {
		return nil, wrapRuntimeError(v.Contexts, failed, runErr)
	}
	return value, nil
}

// Shutdown releases resources the VM may be holding. Presently a no-op
// beyond flushing the logger: nothing here owns an OS resource (no open
// file, no background goroutine) the way a real image's socket/display
// plugins would, per spec §1's scope.
func (v *VM) Shutdown() error {
	return v.Log.Sync()
}
