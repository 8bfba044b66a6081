package engine

import (
	"github.com/jvmjit/irvm/internal/frame"
	"github.com/jvmjit/irvm/internal/ir"
	"github.com/jvmjit/irvm/internal/native"
	"github.com/jvmjit/irvm/internal/vmexit"
)

// ExitEvent is one VM exit, valid until the handler returns.
type ExitEvent struct {
	// Registers is the register state at the exit. Only the registers the exit preserves
	// are meaningful, along with rip, rbp and rsp.
	Registers native.SavedRegisters
	Input     vmexit.Input
	// IRMethodID is the method which exited, and Index the IR instruction execution
	// continues at by default.
	IRMethodID ir.IRMethodID
	Index      ir.IRInstructIndex
	// RIP is the address execution continues at by default, right after the exit.
	RIP uintptr
}

// ResumeAfter returns the action continuing right after the exit.
func (e *ExitEvent) ResumeAfter() RestartAtPtr {
	return RestartAtPtr{Ptr: e.RIP}
}

// ExitHandler handles the VM exits of one IR method. One handler may run on several
// goroutines at once, one per running method, so implementations must be safe for
// concurrent use.
type ExitHandler interface {
	// HandleExit handles ev and decides how execution goes on. stack holds the exiting
	// frame and its callers, and extra is the value passed to RunMethod.
	HandleExit(ev *ExitEvent, stack frame.StackView, s *IRVMState, extra any) ExitAction
}

// ExitHandlerFunc is a function implementing ExitHandler.
type ExitHandlerFunc func(ev *ExitEvent, stack frame.StackView, s *IRVMState, extra any) ExitAction

func (f ExitHandlerFunc) HandleExit(ev *ExitEvent, stack frame.StackView, s *IRVMState, extra any) ExitAction {
	return f(ev, stack, s, extra)
}

// ExitAction is what an ExitHandler decides, one of ExitVMCompletely, RestartAtIndex,
// RestartAtPtr, RestartAtRestartPoint and RestartWithRegisterState.
type ExitAction interface {
	exitAction()
}

// ExitVMCompletely ends RunMethod, which returns ReturnData.
type ExitVMCompletely struct {
	ReturnData uint64
}

// RestartAtIndex resumes at the IR instruction Index of the code which exited.
type RestartAtIndex struct {
	Index ir.IRInstructIndex
}

// RestartAtPtr resumes at the native address Ptr.
type RestartAtPtr struct {
	Ptr uintptr
}

// RestartAtRestartPoint resumes at the restart point ID of the code which exited.
type RestartAtRestartPoint struct {
	ID ir.RestartPointID
}

// RestartWithRegisterState resumes after the exit with the registers of Diff overwritten.
// Setting rip, rbp and rsp in Diff resumes elsewhere, such as in an exception handler of a
// calling frame.
type RestartWithRegisterState struct {
	Diff native.SavedRegistersDiff
}

func (ExitVMCompletely) exitAction()         {}
func (RestartAtIndex) exitAction()           {}
func (RestartAtPtr) exitAction()             {}
func (RestartAtRestartPoint) exitAction()    {}
func (RestartWithRegisterState) exitAction() {}
