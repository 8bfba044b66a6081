package engine

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/jvmjit/irvm/internal/frame"
	"github.com/jvmjit/irvm/internal/ir"
	"github.com/jvmjit/irvm/internal/native"
	"github.com/jvmjit/irvm/internal/vmexit"
)

// runState is the state of one RunMethod.
type runState byte

const (
	runStateLaunching runState = iota
	runStateRunning
	runStateHandlingExit
	runStateTerminated
)

func (s runState) String() (ret string) {
	switch s {
	case runStateLaunching:
		ret = "launching"
	case runStateRunning:
		ret = "running"
	case runStateHandlingExit:
		ret = "handling_exit"
	case runStateTerminated:
		ret = "terminated"
	default:
		ret = fmt.Sprintf("run_state(%d)", byte(s))
	}
	return
}

// run is the state of one RunMethod.
type run struct {
	s     *IRVMState
	stack *frame.Stack
	ctx   *native.Context
	extra any

	// exited is the implementation which performed the last exit.
	exited *compiledMethod
}

// RunMethod runs the method id on the frame f, which must be the innermost frame of stack,
// until a handler ends the execution with ExitVMCompletely, and returns its data.
//
// The frame must have been pushed with a return address into the top level exit method, or
// into another method which eventually returns there, so that returning from id ends up in
// an exit. The goroutine is locked to its thread for the duration of the run.
func (s *IRVMState) RunMethod(stack *frame.Stack, id ir.IRMethodID, f frame.Frame, extra any) uint64 {
	if !native.Supported {
		panic(fmt.Errorf("running native code is not supported on %s", runtime.GOARCH))
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r := &run{s: s, stack: stack, ctx: &native.Context{}, extra: extra}
	var ret uint64
	for state := runStateLaunching; ; {
		switch state {
		case runStateLaunching:
			r.launch(id, f)
			state = runStateRunning
		case runStateRunning:
			native.Run(r.ctx)
			state = runStateHandlingExit
		case runStateHandlingExit:
			action := r.handleExit()
			if done, ok := action.(ExitVMCompletely); ok {
				ret = done.ReturnData
				state = runStateTerminated
				continue
			}
			r.resume(action)
			state = runStateRunning
		case runStateTerminated:
			s.logger.WithField("ir_method", id).Debug("run terminated")
			return ret
		default:
			panic(fmt.Errorf("BUG: run of IR method %d left the loop in state %s", id, state))
		}
	}
}

// checkFramePointers panics unless rbp is above rsp. The top level exit method may run with
// an empty frame.
func checkFramePointers(topLevel bool, rbp, rsp uintptr) {
	if topLevel {
		if rbp < rsp {
			panic(fmt.Errorf("BUG: top level frame pointer %#x below the stack pointer %#x", rbp, rsp))
		}
	} else if rbp <= rsp {
		panic(fmt.Errorf("BUG: frame pointer %#x not above the stack pointer %#x", rbp, rsp))
	}
}

func (r *run) launch(id ir.IRMethodID, f frame.Frame) {
	c, ok := r.stack.Current()
	if !ok || c.RBP() != f.RBP {
		panic(fmt.Errorf("BUG: frame %#x is not the innermost frame of the stack", f.RBP))
	}
	if err := c.Validate(); err != nil {
		panic(fmt.Errorf("BUG: launching IR method %d: %w", id, err))
	}
	if got := c.IRMethodID(); got != id {
		panic(fmt.Errorf("BUG: launching IR method %d on a frame of IR method %d", id, got))
	}

	m := r.s.currentMethod(id)
	r.s.mux.RLock()
	frameSize, topLevel := r.s.frameSizes[id], r.s.isTopLevelExit(id)
	r.s.mux.RUnlock()

	rbp := f.RBP
	rsp := rbp - uintptr(frameSize)
	checkFramePointers(topLevel, rbp, rsp)
	r.ctx.Launch(m.addresses.Start, rbp, rsp)
	r.s.logger.WithFields(logrus.Fields{
		"ir_method": id,
		"rbp":       fmt.Sprintf("%#x", rbp),
	}).Debug("launching")
}

func (r *run) handleExit() ExitAction {
	regs := r.ctx.Registers
	rip := regs.RIP()
	m, ok := r.s.methodAt(rip)
	if !ok {
		panic(fmt.Errorf("BUG: vm exit at %#x outside of compiled code\n%s", rip, &regs))
	}
	input := vmexit.Decode(&regs)

	r.s.mux.RLock()
	handler, topLevel := r.s.handlers[m.irMethodID], r.s.isTopLevelExit(m.irMethodID)
	r.s.mux.RUnlock()

	rbp, rsp := regs.RBP(), regs.RSP()
	checkFramePointers(topLevel, rbp, rsp)

	// rip is right after the exit, so the exit is the floor and execution goes on at the
	// ceiling.
	index := m.index.Ceiling(m.offset(rip))
	r.exited = m
	ev := &ExitEvent{Registers: regs, Input: input, IRMethodID: m.irMethodID, Index: index, RIP: rip}
	r.s.logger.WithFields(logrus.Fields{
		"ir_method": m.irMethodID,
		"ir_index":  index,
		"reason":    vmexit.ReasonName(input.Reason()),
	}).Debug("vm exit")
	return handler.HandleExit(ev, r.stack.View(rbp, rsp), r.s, r.extra)
}

func (r *run) resume(action ExitAction) {
	m := r.exited
	switch a := action.(type) {
	case RestartAtIndex:
		r.ctx.Resume(m.location(a.Index), nil)
	case RestartAtPtr:
		r.ctx.Resume(a.Ptr, nil)
	case RestartAtRestartPoint:
		index, ok := m.restartPoints[a.ID]
		if !ok {
			panic(fmt.Errorf("BUG: IR method %d has no restart point %d", m.irMethodID, a.ID))
		}
		r.ctx.Resume(m.location(index), nil)
	case RestartWithRegisterState:
		r.ctx.Resume(r.ctx.Registers.RIP(), &a.Diff)
		regs := &r.ctx.Registers
		if rbp, rsp := regs.RBP(), regs.RSP(); rbp < rsp {
			panic(fmt.Errorf("BUG: resuming with frame pointer %#x below the stack pointer %#x", rbp, rsp))
		}
	case nil:
		panic(fmt.Errorf("BUG: exit handler of IR method %d returned no action", m.irMethodID))
	default:
		panic(fmt.Errorf("BUG: unknown exit action %T", action))
	}
}
