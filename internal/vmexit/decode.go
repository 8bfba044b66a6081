package vmexit

import (
	"fmt"

	"github.com/jvmjit/irvm/internal/ir"
	"github.com/jvmjit/irvm/internal/native"
)

type (
	// CPDTypeID identifies a class, primitive or array type.
	CPDTypeID uint32
	// ByteCodeOffset is a position in the bytecode of a method.
	ByteCodeOffset uint16
	FieldID        uint64
	FieldName      uint32
	// CompressedWTF8 identifies an interned string constant.
	CompressedWTF8 uint64
	MethodShapeID  uint64
)

// Input is the decoded register state of one exit. The concrete type is chosen by Reason.
type Input interface {
	Reason() Reason
	// PC is the bytecode offset of the exiting instruction, if it has one.
	PC() (ByteCodeOffset, bool)
}

type withPC struct{ JavaPC ByteCodeOffset }

func (w withPC) PC() (ByteCodeOffset, bool) { return w.JavaPC, true }

type withoutPC struct{}

func (withoutPC) PC() (ByteCodeOffset, bool) { return 0, false }

type AllocateObjectArrayInput struct {
	withPC
	Len       int32
	Type      CPDTypeID
	ResPtr    uintptr
	RestartIP uintptr
}

type MultiAllocateObjectArrayInput struct {
	withPC
	LenStart  uintptr
	ElemType  CPDTypeID
	NumArrays uint8
	ResPtr    uintptr
	RestartIP uintptr
}

type AllocateObjectInput struct {
	withPC
	Type      CPDTypeID
	ResPtr    uintptr
	RestartIP uintptr
}

// RecompileInput is shared by the exits which load or initialize a class and restart the
// recompiled method at a restart point.
type RecompileInput struct {
	withPC
	reason       Reason
	CPDTypeID    CPDTypeID
	ToRecompile  ir.MethodID
	RestartPoint ir.RestartPointID
}

type RunStaticNativeInput struct {
	withPC
	Res       uintptr
	ArgStart  uintptr
	NumArgs   uint16
	MethodID  ir.MethodID
	RestartIP uintptr
}

type TopLevelReturnInput struct {
	withPC
	ReturnValue uint64
}

type CompileFunctionAndRecompileCurrentInput struct {
	withPC
	Current      ir.MethodID
	ToRecompile  ir.MethodID
	RestartPoint ir.RestartPointID
}

type NPEInput struct {
	withPC
}

type PutStaticInput struct {
	withPC
	FieldID   FieldID
	ValuePtr  uintptr
	RestartIP uintptr
}

type GetStaticInput struct {
	withPC
	FieldName   FieldName
	ResValuePtr uintptr
	RestartIP   uintptr
	CPDTypeID   CPDTypeID
}

type LogFramePointerOffsetValueInput struct {
	withPC
	Value     uint64
	RestartIP uintptr
}

type LogWholeFrameInput struct {
	withPC
	RestartIP uintptr
}

// TraceInstructionInput is shared by TraceInstructionBefore and TraceInstructionAfter.
type TraceInstructionInput struct {
	withPC
	reason         Reason
	MethodID       ir.MethodID
	BytecodeOffset ByteCodeOffset
	RestartIP      uintptr
}

type NewStringInput struct {
	withPC
	CompressedWTF8 CompressedWTF8
	Res            uintptr
	RestartIP      uintptr
}

type NewClassInput struct {
	withPC
	Type      CPDTypeID
	Res       uintptr
	RestartIP uintptr
}

type InvokeVirtualResolveInput struct {
	withPC
	ObjectRefPtr       uintptr
	RestartIP          uintptr
	MethodNumber       uint32
	NativeReturnPtr    uintptr
	MethodShapeID      MethodShapeID
	NativeRestartPoint ir.RestartPointID
}

type InvokeInterfaceResolveInput struct {
	withPC
	ObjectRef          uintptr
	RestartIP          uintptr
	NativeReturnPtr    uintptr
	TargetMethodID     ir.MethodID
	NativeRestartPoint ir.RestartPointID
}

// MonitorInput is shared by MonitorEnter and MonitorExit.
type MonitorInput struct {
	withPC
	reason    Reason
	ObjAddr   uintptr
	RestartIP uintptr
}

type ThrowInput struct {
	withPC
	ExceptionPtr uintptr
}

type InstanceOfInput struct {
	withPC
	ValuePtr    uintptr
	ResValuePtr uintptr
	RestartIP   uintptr
	CPDTypeID   CPDTypeID
}

type CheckCastInput struct {
	withPC
	ValuePtr  uintptr
	RestartIP uintptr
	CPDTypeID CPDTypeID
}

// RunNativeInput is shared by RunNativeVirtual and RunNativeSpecial.
type RunNativeInput struct {
	withPC
	reason    Reason
	ResPtr    uintptr
	ArgStart  uintptr
	MethodID  ir.MethodID
	RestartIP uintptr
}

type TodoInput struct {
	withoutPC
}

// RunNativeNewInput is shared by RunStaticNativeNew and RunSpecialNativeNew.
type RunNativeNewInput struct {
	withoutPC
	reason    Reason
	MethodID  ir.MethodID
	RestartIP uintptr
}

type BeforeReturnInput struct {
	withPC
	FrameSize uint64
	RestartIP uintptr
}

type ArrayOutOfBoundsInput struct {
	withPC
	Index  int32
	Length int32
}

type EchoInput struct {
	withoutPC
	Value     uint64
	RestartIP uintptr
}

func (AllocateObjectArrayInput) Reason() Reason                { return AllocateObjectArray }
func (MultiAllocateObjectArrayInput) Reason() Reason           { return MultiAllocateObjectArray }
func (AllocateObjectInput) Reason() Reason                     { return AllocateObject }
func (i RecompileInput) Reason() Reason                        { return i.reason }
func (RunStaticNativeInput) Reason() Reason                    { return RunStaticNative }
func (TopLevelReturnInput) Reason() Reason                     { return TopLevelReturn }
func (CompileFunctionAndRecompileCurrentInput) Reason() Reason { return CompileFunctionAndRecompileCurrent }
func (NPEInput) Reason() Reason                                { return NPE }
func (PutStaticInput) Reason() Reason                          { return PutStatic }
func (GetStaticInput) Reason() Reason                          { return GetStatic }
func (LogFramePointerOffsetValueInput) Reason() Reason         { return LogFramePointerOffsetValue }
func (LogWholeFrameInput) Reason() Reason                      { return LogWholeFrame }
func (i TraceInstructionInput) Reason() Reason                 { return i.reason }
func (NewStringInput) Reason() Reason                          { return NewString }
func (NewClassInput) Reason() Reason                           { return NewClass }
func (InvokeVirtualResolveInput) Reason() Reason               { return InvokeVirtualResolve }
func (InvokeInterfaceResolveInput) Reason() Reason             { return InvokeInterfaceResolve }
func (i MonitorInput) Reason() Reason                          { return i.reason }
func (ThrowInput) Reason() Reason                              { return Throw }
func (InstanceOfInput) Reason() Reason                         { return InstanceOf }
func (CheckCastInput) Reason() Reason                          { return CheckCast }
func (i RunNativeInput) Reason() Reason                        { return i.reason }
func (TodoInput) Reason() Reason                               { return Todo }
func (i RunNativeNewInput) Reason() Reason                     { return i.reason }
func (BeforeReturnInput) Reason() Reason                       { return BeforeReturn }
func (ArrayOutOfBoundsInput) Reason() Reason                   { return ArrayOutOfBounds }
func (EchoInput) Reason() Reason                               { return Echo }

// decoder reads the argument registers of one spec.
type decoder struct {
	spec *Spec
	regs *native.SavedRegisters
}

func (d decoder) raw(a Arg) uint64 {
	s, ok := d.spec.Arg(a)
	if !ok {
		panic(fmt.Sprintf("BUG: %s has no argument %s", d.spec.Name, ArgName(a)))
	}
	return d.regs.Register(s.Register)
}

func (d decoder) ptr(a Arg) uintptr                    { return uintptr(d.raw(a)) }
func (d decoder) i32(a Arg) int32                      { return int32(d.raw(a)) }
func (d decoder) cpdType(a Arg) CPDTypeID              { return CPDTypeID(d.raw(a)) }
func (d decoder) methodID(a Arg) ir.MethodID           { return ir.MethodID(d.raw(a)) }
func (d decoder) restartPoint(a Arg) ir.RestartPointID { return ir.RestartPointID(d.raw(a)) }
func (d decoder) pc() withPC                           { return withPC{JavaPC: ByteCodeOffset(d.raw(ArgJavaPC))} }

// Decode reads the tag register of regs and decodes the arguments of that reason.
// An unknown tag means the native code is corrupt and panics.
func Decode(regs *native.SavedRegisters) Input {
	r := Reason(regs.Register(TagRegister))
	d := decoder{spec: Lookup(r), regs: regs}
	switch r {
	case AllocateObjectArray:
		return AllocateObjectArrayInput{withPC: d.pc(), Len: d.i32(ArgLen), Type: d.cpdType(ArgType),
			ResPtr: d.ptr(ArgResPtr), RestartIP: d.ptr(ArgRestartIP)}
	case MultiAllocateObjectArray:
		return MultiAllocateObjectArrayInput{withPC: d.pc(), LenStart: d.ptr(ArgLenStart), ElemType: d.cpdType(ArgElemType),
			NumArrays: uint8(d.raw(ArgNumArrays)), ResPtr: d.ptr(ArgResPtr), RestartIP: d.ptr(ArgRestartIP)}
	case AllocateObject:
		return AllocateObjectInput{withPC: d.pc(), Type: d.cpdType(ArgType), ResPtr: d.ptr(ArgResPtr), RestartIP: d.ptr(ArgRestartIP)}
	case LoadClassAndRecompile, InitClassAndRecompile:
		return RecompileInput{withPC: d.pc(), reason: r, CPDTypeID: d.cpdType(ArgCPDTypeID),
			ToRecompile: d.methodID(ArgToRecompile), RestartPoint: d.restartPoint(ArgRestartPointID)}
	case RunStaticNative:
		return RunStaticNativeInput{withPC: d.pc(), Res: d.ptr(ArgRes), ArgStart: d.ptr(ArgArgStart),
			NumArgs: uint16(d.raw(ArgNumArgs)), MethodID: d.methodID(ArgMethodID), RestartIP: d.ptr(ArgRestartIP)}
	case TopLevelReturn:
		return TopLevelReturnInput{withPC: d.pc(), ReturnValue: d.raw(ArgRes)}
	case CompileFunctionAndRecompileCurrent:
		return CompileFunctionAndRecompileCurrentInput{withPC: d.pc(), Current: d.methodID(ArgCurrent),
			ToRecompile: d.methodID(ArgToRecompile), RestartPoint: d.restartPoint(ArgRestartPointID)}
	case NPE:
		return NPEInput{withPC: d.pc()}
	case PutStatic:
		return PutStaticInput{withPC: d.pc(), FieldID: FieldID(d.raw(ArgFieldID)), ValuePtr: d.ptr(ArgValuePtr), RestartIP: d.ptr(ArgRestartIP)}
	case GetStatic:
		return GetStaticInput{withPC: d.pc(), FieldName: FieldName(d.raw(ArgFieldName)), ResValuePtr: d.ptr(ArgResValuePtr),
			RestartIP: d.ptr(ArgRestartIP), CPDTypeID: d.cpdType(ArgCPDTypeID)}
	case LogFramePointerOffsetValue:
		return LogFramePointerOffsetValueInput{withPC: d.pc(), Value: d.raw(ArgValue), RestartIP: d.ptr(ArgRestartIP)}
	case LogWholeFrame:
		return LogWholeFrameInput{withPC: d.pc(), RestartIP: d.ptr(ArgRestartIP)}
	case TraceInstructionBefore, TraceInstructionAfter:
		return TraceInstructionInput{withPC: d.pc(), reason: r, MethodID: d.methodID(ArgMethodID),
			BytecodeOffset: ByteCodeOffset(d.raw(ArgBytecodeOffset)), RestartIP: d.ptr(ArgRestartIP)}
	case NewString:
		return NewStringInput{withPC: d.pc(), CompressedWTF8: CompressedWTF8(d.raw(ArgCompressedWTF8)), Res: d.ptr(ArgRes), RestartIP: d.ptr(ArgRestartIP)}
	case NewClass:
		return NewClassInput{withPC: d.pc(), Type: d.cpdType(ArgCPDTypeID), Res: d.ptr(ArgRes), RestartIP: d.ptr(ArgRestartIP)}
	case InvokeVirtualResolve:
		return InvokeVirtualResolveInput{withPC: d.pc(), ObjectRefPtr: d.ptr(ArgObjectRefPtr), RestartIP: d.ptr(ArgRestartIP),
			MethodNumber: uint32(d.raw(ArgMethodNumber)), NativeReturnPtr: d.ptr(ArgNativeReturnPtr),
			MethodShapeID: MethodShapeID(d.raw(ArgMethodShapeID)), NativeRestartPoint: d.restartPoint(ArgNativeRestartPoint)}
	case InvokeInterfaceResolve:
		return InvokeInterfaceResolveInput{withPC: d.pc(), ObjectRef: d.ptr(ArgObjectRef), RestartIP: d.ptr(ArgRestartIP),
			NativeReturnPtr: d.ptr(ArgNativeReturnPtr), TargetMethodID: d.methodID(ArgTargetMethodID),
			NativeRestartPoint: d.restartPoint(ArgNativeRestartPoint)}
	case MonitorEnter, MonitorExit:
		return MonitorInput{withPC: d.pc(), reason: r, ObjAddr: d.ptr(ArgObjAddr), RestartIP: d.ptr(ArgRestartIP)}
	case Throw:
		return ThrowInput{withPC: d.pc(), ExceptionPtr: d.ptr(ArgExceptionPtr)}
	case InstanceOf:
		return InstanceOfInput{withPC: d.pc(), ValuePtr: d.ptr(ArgValuePtr), ResValuePtr: d.ptr(ArgResValuePtr),
			RestartIP: d.ptr(ArgRestartIP), CPDTypeID: d.cpdType(ArgCPDTypeID)}
	case CheckCast:
		return CheckCastInput{withPC: d.pc(), ValuePtr: d.ptr(ArgValuePtr), RestartIP: d.ptr(ArgRestartIP), CPDTypeID: d.cpdType(ArgCPDTypeID)}
	case RunNativeVirtual, RunNativeSpecial:
		return RunNativeInput{withPC: d.pc(), reason: r, ResPtr: d.ptr(ArgResPtr), ArgStart: d.ptr(ArgArgStart),
			MethodID: d.methodID(ArgMethodID), RestartIP: d.ptr(ArgRestartIP)}
	case Todo:
		return TodoInput{}
	case RunStaticNativeNew, RunSpecialNativeNew:
		return RunNativeNewInput{reason: r, MethodID: d.methodID(ArgMethodID), RestartIP: d.ptr(ArgRestartIP)}
	case BeforeReturn:
		return BeforeReturnInput{withPC: d.pc(), FrameSize: d.raw(ArgFrameSize), RestartIP: d.ptr(ArgRestartIP)}
	case ArrayOutOfBounds:
		return ArrayOutOfBoundsInput{withPC: d.pc(), Index: d.i32(ArgIndex), Length: d.i32(ArgLength)}
	case Echo:
		return EchoInput{Value: d.raw(ArgValue), RestartIP: d.ptr(ArgRestartIP)}
	}
	panic(fmt.Sprintf("BUG: no decoder for vm exit reason %s", ReasonName(r)))
}

// ResolvedTarget is the outcome of InvokeVirtualResolve and InvokeInterfaceResolve.
type ResolvedTarget struct {
	Address      uintptr
	IRMethodID   ir.IRMethodID
	MethodID     ir.MethodID
	NewFrameSize uint64
}

// EncodeResolvedTarget records t in the result registers of the resolve exit r, to be read by
// the call site after it resumes.
func EncodeResolvedTarget(r Reason, t ResolvedTarget, diff *native.SavedRegistersDiff) {
	spec := Lookup(r)
	set := func(a Arg, v uint64) {
		s, ok := spec.Result(a)
		if !ok {
			panic(fmt.Sprintf("BUG: %s has no result %s", spec.Name, ArgName(a)))
		}
		diff.SetRegister(s.Register, v)
	}
	set(ArgAddressRes, uint64(t.Address))
	set(ArgIRMethodIDRes, uint64(t.IRMethodID))
	set(ArgMethodIDRes, uint64(t.MethodID))
	set(ArgNewFrameSizeRes, t.NewFrameSize)
}
