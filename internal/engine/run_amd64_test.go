//go:build unix

package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jvmjit/irvm/internal/frame"
	"github.com/jvmjit/irvm/internal/ir"
	"github.com/jvmjit/irvm/internal/native"
	"github.com/jvmjit/irvm/internal/vmexit"
)

// echoValue holds the value of an Echo exit, and is preserved across it unlike the
// registers the exit does not use.
var echoValue = func() ir.Register {
	a, _ := vmexit.Lookup(vmexit.Echo).Arg(vmexit.ArgValue)
	return a.Register
}()

// pushCall pushes the frame of id as called by the top level exit method.
func pushCall(s *IRVMState, stack *frame.Stack, top, id ir.IRMethodID) frame.Frame {
	return stack.PushFrame(s.LookupIRMethodIDPointer(top), id, 0, nil, s.FrameSize(id))
}

func TestIRVMState_RunMethod_return(t *testing.T) {
	s := newTestState(t)
	top := addTopLevel(s)
	stack := newStack(t, top)

	id, _ := s.AddFunction(returnConst(42, 64), 64, noExits)
	f := pushCall(s, stack, top, id)
	require.Equal(t, uint64(42), s.RunMethod(stack, id, f, nil))
}

func TestIRVMState_RunMethod_launchMismatch(t *testing.T) {
	s := newTestState(t)
	top := addTopLevel(s)
	stack := newStack(t, top)

	a, _ := s.AddFunction(returnConst(1, 64), 64, noExits)
	b, _ := s.AddFunction(returnConst(2, 64), 64, noExits)
	f := pushCall(s, stack, top, a)
	require.Panics(t, func() { s.RunMethod(stack, b, f, nil) })
}

func TestIRVMState_RunMethod_echo(t *testing.T) {
	body := func(frameSize int) []ir.Operation {
		return []ir.Operation{
			&ir.OperationConst64bit{To: 4, Const: 7},
			&ir.OperationVMExit2{Exit: vmexit.NewEcho(ir.FromRegister(4))},
			&ir.OperationRestartPoint{ID: 0},
			&ir.OperationReturn{ReturnVal: reg(echoValue), Temp: 1, FrameSize: frameSize},
		}
	}

	for _, tc := range []struct {
		name   string
		action func(ev *ExitEvent) ExitAction
		exp    uint64
	}{
		{
			name: "restart ip",
			action: func(ev *ExitEvent) ExitAction {
				return RestartAtPtr{Ptr: ev.Input.(vmexit.EchoInput).RestartIP}
			},
			exp: 7,
		},
		{
			name:   "resume after",
			action: func(ev *ExitEvent) ExitAction { return ev.ResumeAfter() },
			exp:    7,
		},
		{
			name:   "index",
			action: func(ev *ExitEvent) ExitAction { return RestartAtIndex{Index: ev.Index} },
			exp:    7,
		},
		{
			name:   "restart point",
			action: func(*ExitEvent) ExitAction { return RestartAtRestartPoint{ID: 0} },
			exp:    7,
		},
		{
			name:   "register state",
			action: func(*ExitEvent) ExitAction { return RestartWithRegisterState{} },
			exp:    7,
		},
		{
			name: "register state with a register set",
			action: func(*ExitEvent) ExitAction {
				var a RestartWithRegisterState
				a.Diff.Set(native.SlotOf(echoValue), 9)
				return a
			},
			exp: 9,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := newTestState(t)
			top := addTopLevel(s)
			stack := newStack(t, top)

			var (
				exits  int
				events []ExitEvent
				extras []any
			)
			id, _ := s.AddFunction(body(64), 64, ExitHandlerFunc(func(ev *ExitEvent, _ frame.StackView, _ *IRVMState, extra any) ExitAction {
				exits++
				events = append(events, *ev)
				extras = append(extras, extra)
				return tc.action(ev)
			}))
			f := pushCall(s, stack, top, id)
			require.Equal(t, tc.exp, s.RunMethod(stack, id, f, "extra"))

			require.Equal(t, 1, exits)
			ev := events[0]
			require.Equal(t, id, ev.IRMethodID)
			require.Equal(t, ir.IRInstructIndex(2), ev.Index)
			require.Equal(t, s.LookupLocationOfIRInstruct(id, 2), ev.RIP)
			require.Equal(t, vmexit.EchoInput{Value: 7, RestartIP: ev.RIP}, ev.Input)
			require.Equal(t, f.RBP, ev.Registers.RBP())
			require.Equal(t, f.RSP(), ev.Registers.RSP())
			require.Equal(t, []any{"extra"}, extras)
		})
	}
}

func TestIRVMState_RunMethod_call(t *testing.T) {
	s := newTestState(t)
	top := addTopLevel(s)
	stack := newStack(t, top)

	type calleeExit struct {
		header        frame.Header
		callerID      ir.IRMethodID
		callerIndex   ir.IRInstructIndex
		exitingFrames int
	}
	var calleeExits []calleeExit
	callee, _ := s.AddFunction([]ir.Operation{
		&ir.OperationVMExit2{Exit: vmexit.NewEcho(ir.Const(1))},
		&ir.OperationConst64bit{To: 1, Const: 5},
		&ir.OperationReturn{ReturnVal: reg(1), Temp: 2, FrameSize: 64},
	}, 64, ExitHandlerFunc(func(ev *ExitEvent, stack frame.StackView, s *IRVMState, _ any) ExitAction {
		c := stack.Exiting()
		e := calleeExit{header: c.Header()}
		e.callerID, e.callerIndex = s.LookupIP(c.PrevRIP())
		require.NoError(t, stack.Walk(func(frame.Cursor) bool {
			e.exitingFrames++
			return true
		}))
		calleeExits = append(calleeExits, e)
		return ev.ResumeAfter()
	}))

	const callerFrameSize = 80
	result := frame.DataOffset(0)
	var callerEchoes []uint64
	caller, _ := s.AddFunction([]ir.Operation{
		&ir.OperationIRCall{
			Temp1:            9,
			Temp2:            10,
			CurrentFrameSize: callerFrameSize,
			Target: ir.ConstantCallTarget{
				Address:      s.LookupIRMethodIDPointer(callee),
				IRMethodID:   callee,
				MethodID:     77,
				NewFrameSize: 64,
			},
			ReturnValue: &result,
		},
		&ir.OperationLoadRBP{To: 3},
		&ir.OperationVMExit2{Exit: vmexit.NewEcho(ir.FromRegister(3))},
		&ir.OperationLoadFPRelative{From: result, To: 1, Width: ir.Unsigned(ir.SizeLong)},
		&ir.OperationReturn{ReturnVal: reg(1), Temp: 2, FrameSize: callerFrameSize},
	}, callerFrameSize, ExitHandlerFunc(func(ev *ExitEvent, _ frame.StackView, _ *IRVMState, _ any) ExitAction {
		callerEchoes = append(callerEchoes, ev.Input.(vmexit.EchoInput).Value)
		return ev.ResumeAfter()
	}))

	f := pushCall(s, stack, top, caller)
	require.Equal(t, uint64(5), s.RunMethod(stack, caller, f, nil))

	require.Equal(t, []calleeExit{{
		header: frame.Header{
			PrevRIP:    uint64(callerReturnAddress(t, s, stack, f)),
			PrevRBP:    uint64(f.RBP),
			IRMethodID: callee,
			MethodID:   77,
			Magic1:     frame.Magic1,
			Magic2:     frame.Magic2,
		},
		callerID:    caller,
		callerIndex: 0,
		// The callee, the caller and the top level frame.
		exitingFrames: 3,
	}}, calleeExits)
	require.Equal(t, []uint64{uint64(f.RBP)}, callerEchoes)
}

// callerReturnAddress returns the return address the caller frame f left in the frame of
// its callee, which native code pushed right below f.
func callerReturnAddress(t *testing.T, s *IRVMState, stack *frame.Stack, f frame.Frame) uintptr {
	prevRIP := stack.Cursor(f.RSP()).PrevRIP()
	id, index := s.LookupIP(prevRIP)
	require.Equal(t, ir.IRInstructIndex(0), index)
	require.Equal(t, stack.Cursor(f.RBP).IRMethodID(), id)
	return prevRIP
}

func TestIRVMState_RunMethod_unwind(t *testing.T) {
	const thrown = 0xe1
	s := newTestState(t)
	top := addTopLevel(s)
	stack := newStack(t, top)
	table := exceptionTable{}

	thrower, _ := s.AddFunction([]ir.Operation{
		&ir.OperationVMExit2{Exit: vmexit.NewEcho(ir.Const(thrown))},
		&ir.OperationConst64bit{To: 1, Const: 1},
		&ir.OperationReturn{ReturnVal: reg(1), Temp: 2, FrameSize: 96},
	}, 96, ExitHandlerFunc(func(ev *ExitEvent, stack frame.StackView, s *IRVMState, _ any) ExitAction {
		action, ok := s.UnwindToHandler(stack, ev.RIP, ev.Input.(vmexit.EchoInput).Value, table)
		if !ok {
			return ExitVMCompletely{ReturnData: 0}
		}
		return action
	}))

	const catcherFrameSize = 64
	catcher, _ := s.AddFunction([]ir.Operation{
		&ir.OperationIRCall{
			Temp1:            9,
			Temp2:            10,
			CurrentFrameSize: catcherFrameSize,
			Target: ir.ConstantCallTarget{
				Address:      s.LookupIRMethodIDPointer(thrower),
				IRMethodID:   thrower,
				NewFrameSize: 96,
			},
		},
		&ir.OperationConst64bit{To: 1, Const: 2},
		&ir.OperationReturn{ReturnVal: reg(1), Temp: 2, FrameSize: catcherFrameSize},
		&ir.OperationConst64bit{To: 1, Const: 99},
		&ir.OperationReturn{ReturnVal: reg(1), Temp: 2, FrameSize: catcherFrameSize},
	}, catcherFrameSize, noExits)
	table[catcher] = []catchEntry{{from: 0, to: 0, handler: 3, catchType: thrown}}

	f := pushCall(s, stack, top, catcher)
	require.Equal(t, uint64(99), s.RunMethod(stack, catcher, f, nil))
}

func TestIRVMState_RunMethod_recompile(t *testing.T) {
	s := newTestState(t)
	top := addTopLevel(s)
	stack := newStack(t, top)

	id, _ := s.AddFunction(returnConst(1, 64), 64, noExits)
	f := pushCall(s, stack, top, id)
	require.Equal(t, uint64(1), s.RunMethod(stack, id, f, nil))
	stack.PopFrame(f)

	s.AddFunctionImplementation(id, returnConst(2, 64))
	f = pushCall(s, stack, top, id)
	require.Equal(t, uint64(2), s.RunMethod(stack, id, f, nil))
}

func TestIRVMState_RunMethod_concurrent(t *testing.T) {
	s := newTestState(t)
	top := addTopLevel(s)

	var exits atomic.Int64
	id, _ := s.AddFunction([]ir.Operation{
		&ir.OperationLoadFPRelative{From: frame.DataOffset(0), To: 1, Width: ir.Unsigned(ir.SizeLong)},
		&ir.OperationVMExit2{Exit: vmexit.NewEcho(ir.FromRegister(1))},
		&ir.OperationLoadFPRelative{From: frame.DataOffset(0), To: 1, Width: ir.Unsigned(ir.SizeLong)},
		&ir.OperationReturn{ReturnVal: reg(1), Temp: 2, FrameSize: 64},
	}, 64, ExitHandlerFunc(func(ev *ExitEvent, _ frame.StackView, _ *IRVMState, _ any) ExitAction {
		exits.Add(1)
		return ev.ResumeAfter()
	}))

	const goroutines, runs = 8, 50
	results := make([][]uint64, goroutines)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		stack := newStack(t, top)
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < runs; i++ {
				f := stack.PushFrame(s.LookupIRMethodIDPointer(top), id, 0, []uint64{uint64(g*runs + i)}, 64)
				results[g] = append(results[g], s.RunMethod(stack, id, f, nil))
				stack.PopFrame(f)
			}
		}(g)
	}
	wg.Wait()

	for g, got := range results {
		exp := make([]uint64, runs)
		for i := range exp {
			exp[i] = uint64(g*runs + i)
		}
		require.Equal(t, exp, got)
	}
	require.Equal(t, int64(goroutines*runs), exits.Load())
}
