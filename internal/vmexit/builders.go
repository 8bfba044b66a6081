package vmexit

import "github.com/jvmjit/irvm/internal/ir"

// Bind returns the ir.ExitArg binding a to src.
func Bind(a Arg, src ir.ExitSource) ir.ExitArg {
	return ir.ExitArg{Name: a, Source: src}
}

// New returns the exit r with the given bindings. It panics if the bindings do not match the
// arguments of r, as an invalid exit would corrupt the registers the runtime decodes.
func New(r Reason, args ...ir.ExitArg) ir.VMExit {
	e := ir.VMExit{Reason: r, Args: args}
	if err := Validate(e); err != nil {
		panic("BUG: " + err.Error())
	}
	return e
}

func javaPC(pc ByteCodeOffset) ir.ExitArg {
	return Bind(ArgJavaPC, ir.Const(uint64(pc)))
}

func restartIP() ir.ExitArg {
	return Bind(ArgRestartIP, ir.RestartIP())
}

// NewAllocateObjectArray stores a new array of length len and element type typ into res.
func NewAllocateObjectArray(len ir.ExitSource, typ CPDTypeID, res ir.FramePointerOffset, pc ByteCodeOffset) ir.VMExit {
	return New(AllocateObjectArray,
		Bind(ArgLen, len),
		Bind(ArgType, ir.Const(uint64(typ))),
		Bind(ArgResPtr, ir.FrameAddress(res)),
		restartIP(),
		javaPC(pc),
	)
}

// NewMultiAllocateObjectArray allocates a multi dimensional array with the dimensions stored
// from lenStart downwards.
func NewMultiAllocateObjectArray(lenStart ir.FramePointerOffset, elemType CPDTypeID, numArrays uint8, res ir.FramePointerOffset, pc ByteCodeOffset) ir.VMExit {
	return New(MultiAllocateObjectArray,
		Bind(ArgLenStart, ir.FrameAddress(lenStart)),
		Bind(ArgElemType, ir.Const(uint64(elemType))),
		Bind(ArgNumArrays, ir.Const(uint64(numArrays))),
		Bind(ArgResPtr, ir.FrameAddress(res)),
		restartIP(),
		javaPC(pc),
	)
}

func NewAllocateObject(typ CPDTypeID, res ir.FramePointerOffset, pc ByteCodeOffset) ir.VMExit {
	return New(AllocateObject,
		Bind(ArgType, ir.Const(uint64(typ))),
		Bind(ArgResPtr, ir.FrameAddress(res)),
		restartIP(),
		javaPC(pc),
	)
}

func NewLoadClassAndRecompile(cpdType CPDTypeID, toRecompile ir.MethodID, restart ir.RestartPointID, pc ByteCodeOffset) ir.VMExit {
	return New(LoadClassAndRecompile,
		Bind(ArgCPDTypeID, ir.Const(uint64(cpdType))),
		Bind(ArgToRecompile, ir.Const(uint64(toRecompile))),
		Bind(ArgRestartPointID, ir.Const(uint64(restart))),
		javaPC(pc),
	)
}

func NewInitClassAndRecompile(cpdType CPDTypeID, toRecompile ir.MethodID, restart ir.RestartPointID, pc ByteCodeOffset) ir.VMExit {
	return New(InitClassAndRecompile,
		Bind(ArgCPDTypeID, ir.Const(uint64(cpdType))),
		Bind(ArgToRecompile, ir.Const(uint64(toRecompile))),
		Bind(ArgRestartPointID, ir.Const(uint64(restart))),
		javaPC(pc),
	)
}

// NewRunStaticNative runs the native method m with numArgs arguments stored from argStart
// downwards, and stores its result into res.
func NewRunStaticNative(m ir.MethodID, argStart ir.FramePointerOffset, numArgs uint16, res ir.FramePointerOffset, pc ByteCodeOffset) ir.VMExit {
	return New(RunStaticNative,
		Bind(ArgRes, ir.FrameAddress(res)),
		Bind(ArgArgStart, ir.FrameAddress(argStart)),
		Bind(ArgNumArgs, ir.Const(uint64(numArgs))),
		Bind(ArgMethodID, ir.Const(uint64(m))),
		restartIP(),
		javaPC(pc),
	)
}

// NewTopLevelReturn hands the value of the register r to the runtime as the result of the
// outermost method. Nothing resumes after it.
func NewTopLevelReturn(r ir.Register) ir.VMExit {
	return New(TopLevelReturn,
		Bind(ArgRes, ir.FromRegister(r)),
		javaPC(0),
	)
}

func NewCompileFunctionAndRecompileCurrent(current, toRecompile ir.MethodID, restart ir.RestartPointID, pc ByteCodeOffset) ir.VMExit {
	return New(CompileFunctionAndRecompileCurrent,
		Bind(ArgCurrent, ir.Const(uint64(current))),
		Bind(ArgToRecompile, ir.Const(uint64(toRecompile))),
		Bind(ArgRestartPointID, ir.Const(uint64(restart))),
		javaPC(pc),
	)
}

func NewNPE(pc ByteCodeOffset) ir.VMExit {
	return New(NPE, javaPC(pc))
}

func NewPutStatic(field FieldID, value ir.FramePointerOffset, pc ByteCodeOffset) ir.VMExit {
	return New(PutStatic,
		Bind(ArgFieldID, ir.Const(uint64(field))),
		Bind(ArgValuePtr, ir.FrameAddress(value)),
		restartIP(),
		javaPC(pc),
	)
}

func NewGetStatic(name FieldName, class CPDTypeID, res ir.FramePointerOffset, pc ByteCodeOffset) ir.VMExit {
	return New(GetStatic,
		Bind(ArgFieldName, ir.Const(uint64(name))),
		Bind(ArgResValuePtr, ir.FrameAddress(res)),
		restartIP(),
		Bind(ArgCPDTypeID, ir.Const(uint64(class))),
		javaPC(pc),
	)
}

func NewLogFramePointerOffsetValue(value ir.FramePointerOffset, pc ByteCodeOffset) ir.VMExit {
	return New(LogFramePointerOffsetValue,
		Bind(ArgValue, ir.FrameValue(value)),
		restartIP(),
		javaPC(pc),
	)
}

func NewLogWholeFrame(pc ByteCodeOffset) ir.VMExit {
	return New(LogWholeFrame, restartIP(), javaPC(pc))
}

func NewTraceInstructionBefore(m ir.MethodID, offset ByteCodeOffset, pc ByteCodeOffset) ir.VMExit {
	return New(TraceInstructionBefore,
		Bind(ArgMethodID, ir.Const(uint64(m))),
		Bind(ArgBytecodeOffset, ir.Const(uint64(offset))),
		restartIP(),
		javaPC(pc),
	)
}

func NewTraceInstructionAfter(m ir.MethodID, offset ByteCodeOffset, pc ByteCodeOffset) ir.VMExit {
	return New(TraceInstructionAfter,
		Bind(ArgMethodID, ir.Const(uint64(m))),
		Bind(ArgBytecodeOffset, ir.Const(uint64(offset))),
		restartIP(),
		javaPC(pc),
	)
}

func NewNewString(wtf8 CompressedWTF8, res ir.FramePointerOffset, pc ByteCodeOffset) ir.VMExit {
	return New(NewString,
		Bind(ArgCompressedWTF8, ir.Const(uint64(wtf8))),
		Bind(ArgRes, ir.FrameAddress(res)),
		restartIP(),
		javaPC(pc),
	)
}

func NewNewClass(typ CPDTypeID, res ir.FramePointerOffset, pc ByteCodeOffset) ir.VMExit {
	return New(NewClass,
		Bind(ArgCPDTypeID, ir.Const(uint64(typ))),
		Bind(ArgRes, ir.FrameAddress(res)),
		restartIP(),
		javaPC(pc),
	)
}

// NewInvokeVirtualResolve resolves the virtual method methodNumber of the object at objectRef.
// The resolved target comes back in the result registers.
func NewInvokeVirtualResolve(objectRef ir.FramePointerOffset, methodNumber uint32, nativeReturn ir.FramePointerOffset,
	shape MethodShapeID, nativeRestart ir.RestartPointID, pc ByteCodeOffset,
) ir.VMExit {
	return New(InvokeVirtualResolve,
		Bind(ArgObjectRefPtr, ir.FrameAddress(objectRef)),
		restartIP(),
		Bind(ArgMethodNumber, ir.Const(uint64(methodNumber))),
		Bind(ArgNativeReturnPtr, ir.FrameAddress(nativeReturn)),
		javaPC(pc),
		Bind(ArgMethodShapeID, ir.Const(uint64(shape))),
		Bind(ArgNativeRestartPoint, ir.Const(uint64(nativeRestart))),
	)
}

func NewInvokeInterfaceResolve(objectRef ir.FramePointerOffset, target ir.MethodID, nativeReturn ir.FramePointerOffset,
	nativeRestart ir.RestartPointID, pc ByteCodeOffset,
) ir.VMExit {
	return New(InvokeInterfaceResolve,
		Bind(ArgObjectRef, ir.FrameValue(objectRef)),
		restartIP(),
		javaPC(pc),
		Bind(ArgNativeReturnPtr, ir.FrameAddress(nativeReturn)),
		Bind(ArgTargetMethodID, ir.Const(uint64(target))),
		Bind(ArgNativeRestartPoint, ir.Const(uint64(nativeRestart))),
	)
}

func NewMonitorEnter(obj ir.Register, pc ByteCodeOffset) ir.VMExit {
	return New(MonitorEnter, Bind(ArgObjAddr, ir.FromRegister(obj)), restartIP(), javaPC(pc))
}

func NewMonitorExit(obj ir.Register, pc ByteCodeOffset) ir.VMExit {
	return New(MonitorExit, Bind(ArgObjAddr, ir.FromRegister(obj)), restartIP(), javaPC(pc))
}

// NewThrow throws the exception stored at exception. Nothing resumes after it; the runtime
// unwinds to a handler instead.
func NewThrow(exception ir.FramePointerOffset, pc ByteCodeOffset) ir.VMExit {
	return New(Throw, Bind(ArgExceptionPtr, ir.FrameValue(exception)), javaPC(pc))
}

func NewInstanceOf(value ir.FramePointerOffset, res ir.FramePointerOffset, typ CPDTypeID, pc ByteCodeOffset) ir.VMExit {
	return New(InstanceOf,
		Bind(ArgValuePtr, ir.FrameAddress(value)),
		Bind(ArgResValuePtr, ir.FrameAddress(res)),
		restartIP(),
		Bind(ArgCPDTypeID, ir.Const(uint64(typ))),
		javaPC(pc),
	)
}

func NewCheckCast(value ir.FramePointerOffset, typ CPDTypeID, pc ByteCodeOffset) ir.VMExit {
	return New(CheckCast,
		Bind(ArgValuePtr, ir.FrameAddress(value)),
		restartIP(),
		Bind(ArgCPDTypeID, ir.Const(uint64(typ))),
		javaPC(pc),
	)
}

func NewRunNativeVirtual(m ir.MethodID, argStart, res ir.FramePointerOffset, pc ByteCodeOffset) ir.VMExit {
	return New(RunNativeVirtual,
		Bind(ArgResPtr, ir.FrameAddress(res)),
		Bind(ArgArgStart, ir.FrameAddress(argStart)),
		Bind(ArgMethodID, ir.Const(uint64(m))),
		restartIP(),
		javaPC(pc),
	)
}

func NewRunNativeSpecial(m ir.MethodID, argStart, res ir.FramePointerOffset, pc ByteCodeOffset) ir.VMExit {
	return New(RunNativeSpecial,
		Bind(ArgResPtr, ir.FrameAddress(res)),
		Bind(ArgArgStart, ir.FrameAddress(argStart)),
		Bind(ArgMethodID, ir.Const(uint64(m))),
		restartIP(),
		javaPC(pc),
	)
}

func NewTodo() ir.VMExit {
	return New(Todo)
}

func NewRunStaticNativeNew(m ir.MethodID) ir.VMExit {
	return New(RunStaticNativeNew, Bind(ArgMethodID, ir.Const(uint64(m))), restartIP())
}

func NewRunSpecialNativeNew(m ir.MethodID) ir.VMExit {
	return New(RunSpecialNativeNew, Bind(ArgMethodID, ir.Const(uint64(m))), restartIP())
}

func NewBeforeReturn(frameSize int, pc ByteCodeOffset) ir.VMExit {
	return New(BeforeReturn, Bind(ArgFrameSize, ir.Const(uint64(frameSize))), restartIP(), javaPC(pc))
}

// NewArrayOutOfBounds reports a failed bounds check of index against length.
func NewArrayOutOfBounds(index, length ir.Register, pc ByteCodeOffset) ir.VMExit {
	return New(ArrayOutOfBounds,
		Bind(ArgIndex, ir.FromRegister(index)),
		Bind(ArgLength, ir.FromRegister(length)),
		javaPC(pc),
	)
}

// NewEcho hands the value of src to the runtime and continues after the exit.
func NewEcho(src ir.ExitSource) ir.VMExit {
	return New(Echo, Bind(ArgValue, src), restartIP())
}
