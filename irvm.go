// Package irvm compiles methods of a register based IR to x86-64 machine code and runs them on
// stacks it owns, handing control back to Go through VM exits whenever the code needs the
// runtime.
//
// An Engine is created with NewEngine. Methods are added with Engine.CompileFunction, or
// Engine.AddFunction which panics when they do not compile, and run on a Stack with
// Engine.Invoke:
//
//	e, _ := irvm.NewEngine(irvm.NewEngineConfig())
//	id, _, _ := e.CompileFunction(instructions, frameSize, handler)
//	stack, _ := e.NewStack()
//	ret := e.Invoke(stack, id, 0, args, nil)
//
// Running native code requires linux/amd64, or another unix on amd64.
package irvm

import (
	"fmt"

	"github.com/jvmjit/irvm/internal/engine"
	"github.com/jvmjit/irvm/internal/frame"
	"github.com/jvmjit/irvm/internal/ir"
	"github.com/jvmjit/irvm/internal/vmexit"
)

type (
	// IRVMState owns compiled methods and runs them. Its methods are available on Engine.
	IRVMState = engine.IRVMState

	IRMethodID       = ir.IRMethodID
	MethodID         = ir.MethodID
	IRInstructIndex  = ir.IRInstructIndex
	RestartPointID   = ir.RestartPointID
	Operation        = ir.Operation
	Register         = ir.Register
	Stack            = frame.Stack
	Frame            = frame.Frame
	StackView        = frame.StackView
	ExitEvent        = engine.ExitEvent
	ExitHandler      = engine.ExitHandler
	ExitHandlerFunc  = engine.ExitHandlerFunc
	ExitAction       = engine.ExitAction
	ExceptionTable   = engine.ExceptionTable
	ExitVMCompletely = engine.ExitVMCompletely
	RestartAtIndex   = engine.RestartAtIndex
	RestartAtPtr     = engine.RestartAtPtr

	RestartAtRestartPoint    = engine.RestartAtRestartPoint
	RestartWithRegisterState = engine.RestartWithRegisterState
)

// Engine is an IRVMState whose top level exit method is installed, so that the outermost
// method invoked on a stack returns its value from Invoke.
type Engine struct {
	*engine.IRVMState
	stackSize int
	topLevel  ir.IRMethodID
}

// NewEngine returns an Engine configured by config, which defaults to NewEngineConfig when
// nil. Close releases its code region.
func NewEngine(config *EngineConfig) (*Engine, error) {
	if config == nil {
		config = NewEngineConfig()
	}
	s, err := engine.New(engine.Config{
		CodeRegionSize: config.codeRegionSize,
		MaxMethodSize:  config.maxMethodSize,
		Logger:         config.logger,
	})
	if err != nil {
		return nil, err
	}

	// Returning from an outermost frame lands here, with the return value in register 0.
	top, _, err := s.CompileFunction([]ir.Operation{
		&ir.OperationVMExit2{Exit: vmexit.NewTopLevelReturn(0)},
	}, frame.HeaderSize, engine.ExitHandlerFunc(topLevelReturn))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("installing the top level exit method: %w", err)
	}
	s.InitTopLevelExitID(top)
	return &Engine{IRVMState: s, stackSize: config.stackSize, topLevel: top}, nil
}

func topLevelReturn(ev *engine.ExitEvent, _ frame.StackView, _ *engine.IRVMState, _ any) engine.ExitAction {
	in, ok := ev.Input.(vmexit.TopLevelReturnInput)
	if !ok {
		panic(fmt.Errorf("BUG: top level exit method exited with %s", vmexit.ReasonName(ev.Input.Reason())))
	}
	return engine.ExitVMCompletely{ReturnData: in.ReturnValue}
}

// NewStack returns a stack for Invoke, holding the frame of the top level exit method.
// Stacks are not safe for concurrent use: each goroutine invoking methods needs its own.
func (e *Engine) NewStack() (*frame.Stack, error) {
	stack, err := frame.NewStack(e.stackSize)
	if err != nil {
		return nil, err
	}
	stack.PushFrame(0, e.topLevel, 0, nil, frame.HeaderSize)
	return stack, nil
}

// Invoke runs the method id, whose frame is pushed on stack with args in its data slots, and
// returns the value it returns. extra is passed to every exit handler called meanwhile.
func (e *Engine) Invoke(stack *frame.Stack, id ir.IRMethodID, methodID ir.MethodID, args []uint64, extra any) uint64 {
	defer stack.Reset(stack.Mark())
	f := stack.PushFrame(e.LookupIRMethodIDPointer(e.topLevel), id, methodID, args, e.FrameSize(id))
	return e.RunMethod(stack, id, f, extra)
}
