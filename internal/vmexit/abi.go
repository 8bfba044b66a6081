// Package vmexit defines the register based ABI through which generated code exits to the
// runtime. Every reason is described once in a declarative table which drives both the
// code generated for an exit and the decoding of the saved registers on the runtime side.
package vmexit

import (
	"fmt"
	"sort"

	"github.com/jvmjit/irvm/internal/ir"
)

// Reason is the raw tag written to TagRegister.
type Reason = ir.ExitReason

// TagRegister holds the Reason of an exit.
const TagRegister ir.Register = 0

const (
	AllocateObjectArray Reason = iota + 1
	MultiAllocateObjectArray
	AllocateObject
	LoadClassAndRecompile
	InitClassAndRecompile
	RunStaticNative
	TopLevelReturn
	CompileFunctionAndRecompileCurrent
	NPE
	PutStatic
	GetStatic
	LogFramePointerOffsetValue
	LogWholeFrame
	TraceInstructionBefore
	TraceInstructionAfter
	NewString
	NewClass
	InvokeVirtualResolve
	InvokeInterfaceResolve
	MonitorEnter
	MonitorExit
	Throw
	InstanceOf
	CheckCast
	RunNativeVirtual
	RunNativeSpecial
	Todo
	RunStaticNativeNew
	RunSpecialNativeNew
	BeforeReturn
	ArrayOutOfBounds
	// Echo hands an integer to the runtime and continues. It exists to exercise the ABI.
	Echo

	reasonEnd
)

// Arg names one argument or result of an exit.
type Arg = ir.ExitArgName

const (
	ArgLen Arg = iota + 1
	ArgType
	ArgResPtr
	ArgRestartIP
	ArgJavaPC
	ArgLenStart
	ArgElemType
	ArgNumArrays
	ArgRes
	ArgArgStart
	ArgNumArgs
	ArgMethodID
	ArgFieldID
	ArgValuePtr
	ArgFieldName
	ArgResValuePtr
	ArgCPDTypeID
	ArgToRecompile
	ArgRestartPointID
	ArgCurrent
	ArgValue
	ArgBytecodeOffset
	ArgFrameSize
	ArgCompressedWTF8
	ArgObjectRefPtr
	ArgObjectRef
	ArgMethodNumber
	ArgNativeReturnPtr
	ArgMethodShapeID
	ArgNativeRestartPoint
	ArgTargetMethodID
	ArgObjAddr
	ArgExceptionPtr
	ArgIndex
	ArgLength
	ArgAddressRes
	ArgIRMethodIDRes
	ArgMethodIDRes
	ArgNewFrameSizeRes

	argEnd
)

var argNames = [...]string{
	ArgLen:                "LEN",
	ArgType:               "TYPE",
	ArgResPtr:             "RES_PTR",
	ArgRestartIP:          "RESTART_IP",
	ArgJavaPC:             "JAVA_PC",
	ArgLenStart:           "LEN_START",
	ArgElemType:           "ELEM_TYPE",
	ArgNumArrays:          "NUM_ARRAYS",
	ArgRes:                "RES",
	ArgArgStart:           "ARG_START",
	ArgNumArgs:            "NUM_ARGS",
	ArgMethodID:           "METHOD_ID",
	ArgFieldID:            "FIELD_ID",
	ArgValuePtr:           "VALUE_PTR",
	ArgFieldName:          "FIELD_NAME",
	ArgResValuePtr:        "RES_VALUE_PTR",
	ArgCPDTypeID:          "CPDTYPE_ID",
	ArgToRecompile:        "TO_RECOMPILE",
	ArgRestartPointID:     "RESTART_POINT_ID",
	ArgCurrent:            "CURRENT",
	ArgValue:              "VALUE",
	ArgBytecodeOffset:     "BYTECODE_OFFSET",
	ArgFrameSize:          "FRAME_SIZE",
	ArgCompressedWTF8:     "COMPRESSED_WTF8",
	ArgObjectRefPtr:       "OBJECT_REF_PTR",
	ArgObjectRef:          "OBJECT_REF",
	ArgMethodNumber:       "METHOD_NUMBER",
	ArgNativeReturnPtr:    "NATIVE_RETURN_PTR",
	ArgMethodShapeID:      "METHOD_SHAPE_ID",
	ArgNativeRestartPoint: "NATIVE_RESTART_POINT",
	ArgTargetMethodID:     "TARGET_METHOD_ID",
	ArgObjAddr:            "OBJ_ADDR",
	ArgExceptionPtr:       "EXCEPTION_PTR",
	ArgIndex:              "INDEX",
	ArgLength:             "LENGTH",
	ArgAddressRes:         "ADDRESS_RES",
	ArgIRMethodIDRes:      "IR_METHOD_ID_RES",
	ArgMethodIDRes:        "METHOD_ID_RES",
	ArgNewFrameSizeRes:    "NEW_FRAME_SIZE_RES",
}

// ArgName returns the name of a.
func ArgName(a Arg) string {
	if a > 0 && a < argEnd {
		return argNames[a]
	}
	return fmt.Sprintf("ARG(%d)", a)
}

// Kind is how the runtime reinterprets the 64 bits of an argument register.
type Kind byte

const (
	KindUint64 Kind = iota
	KindPointer
	KindInt32
	KindCPDTypeID
	KindByteCodeOffset
	KindMethodID
	KindIRMethodID
	KindRestartPointID
	KindFieldID
	KindUint32
	KindUint16
	KindUint8
)

// ArgSpec binds an argument to its register.
type ArgSpec struct {
	Arg      Arg
	Register ir.Register
	Kind     Kind
}

// Spec describes the registers of one exit reason.
type Spec struct {
	Reason Reason
	Name   string
	// Args are written by generated code before the exit.
	Args []ArgSpec
	// Results are written by the runtime before resuming and read by the code after the exit.
	Results []ArgSpec
}

// Preserved returns the registers which must be saved at the exit: the tag register and
// every argument and result register, in ascending order.
func (s *Spec) Preserved() []ir.Register {
	set := map[ir.Register]struct{}{TagRegister: {}}
	for _, a := range s.Args {
		set[a.Register] = struct{}{}
	}
	for _, r := range s.Results {
		set[r.Register] = struct{}{}
	}
	ret := make([]ir.Register, 0, len(set))
	for r := range set {
		ret = append(ret, r)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// Arg returns the ArgSpec of a, if a is an argument of s.
func (s *Spec) Arg(a Arg) (ArgSpec, bool) {
	for _, spec := range s.Args {
		if spec.Arg == a {
			return spec, true
		}
	}
	return ArgSpec{}, false
}

// Result returns the ArgSpec of the result a, if a is a result of s.
func (s *Spec) Result(a Arg) (ArgSpec, bool) {
	for _, spec := range s.Results {
		if spec.Arg == a {
			return spec, true
		}
	}
	return ArgSpec{}, false
}

func arg(a Arg, r ir.Register, k Kind) ArgSpec {
	return ArgSpec{Arg: a, Register: r, Kind: k}
}

var specs = [reasonEnd]*Spec{
	AllocateObjectArray: {Name: "AllocateObjectArray", Args: []ArgSpec{
		arg(ArgLen, 2, KindInt32),
		arg(ArgType, 3, KindCPDTypeID),
		arg(ArgResPtr, 4, KindPointer),
		arg(ArgRestartIP, 5, KindPointer),
		arg(ArgJavaPC, 6, KindByteCodeOffset),
	}},
	MultiAllocateObjectArray: {Name: "MultiAllocateObjectArray", Args: []ArgSpec{
		arg(ArgLenStart, 2, KindPointer),
		arg(ArgElemType, 3, KindCPDTypeID),
		arg(ArgNumArrays, 4, KindUint8),
		arg(ArgResPtr, 5, KindPointer),
		arg(ArgRestartIP, 6, KindPointer),
		arg(ArgJavaPC, 7, KindByteCodeOffset),
	}},
	AllocateObject: {Name: "AllocateObject", Args: []ArgSpec{
		arg(ArgType, 3, KindCPDTypeID),
		arg(ArgResPtr, 4, KindPointer),
		arg(ArgRestartIP, 5, KindPointer),
		arg(ArgJavaPC, 6, KindByteCodeOffset),
	}},
	LoadClassAndRecompile: {Name: "LoadClassAndRecompile", Args: []ArgSpec{
		arg(ArgCPDTypeID, 2, KindCPDTypeID),
		arg(ArgToRecompile, 3, KindMethodID),
		arg(ArgRestartPointID, 4, KindRestartPointID),
		arg(ArgJavaPC, 5, KindByteCodeOffset),
	}},
	InitClassAndRecompile: {Name: "InitClassAndRecompile", Args: []ArgSpec{
		arg(ArgCPDTypeID, 2, KindCPDTypeID),
		arg(ArgToRecompile, 3, KindMethodID),
		arg(ArgRestartPointID, 4, KindRestartPointID),
		arg(ArgJavaPC, 5, KindByteCodeOffset),
	}},
	RunStaticNative: {Name: "RunStaticNative", Args: []ArgSpec{
		arg(ArgRes, 1, KindPointer),
		arg(ArgArgStart, 2, KindPointer),
		arg(ArgNumArgs, 3, KindUint16),
		arg(ArgMethodID, 4, KindMethodID),
		arg(ArgRestartIP, 5, KindPointer),
		arg(ArgJavaPC, 6, KindByteCodeOffset),
	}},
	TopLevelReturn: {Name: "TopLevelReturn", Args: []ArgSpec{
		arg(ArgRes, 2, KindUint64),
		arg(ArgJavaPC, 3, KindByteCodeOffset),
	}},
	CompileFunctionAndRecompileCurrent: {Name: "CompileFunctionAndRecompileCurrent", Args: []ArgSpec{
		arg(ArgCurrent, 2, KindMethodID),
		arg(ArgToRecompile, 3, KindMethodID),
		arg(ArgRestartPointID, 4, KindRestartPointID),
		arg(ArgJavaPC, 5, KindByteCodeOffset),
	}},
	NPE: {Name: "NPE", Args: []ArgSpec{
		arg(ArgJavaPC, 4, KindByteCodeOffset),
	}},
	PutStatic: {Name: "PutStatic", Args: []ArgSpec{
		arg(ArgFieldID, 2, KindFieldID),
		arg(ArgValuePtr, 3, KindPointer),
		arg(ArgRestartIP, 4, KindPointer),
		arg(ArgJavaPC, 5, KindByteCodeOffset),
	}},
	GetStatic: {Name: "GetStatic", Args: []ArgSpec{
		arg(ArgFieldName, 2, KindUint32),
		arg(ArgResValuePtr, 3, KindPointer),
		arg(ArgRestartIP, 4, KindPointer),
		arg(ArgCPDTypeID, 5, KindCPDTypeID),
		arg(ArgJavaPC, 6, KindByteCodeOffset),
	}},
	LogFramePointerOffsetValue: {Name: "LogFramePointerOffsetValue", Args: []ArgSpec{
		arg(ArgValue, 2, KindUint64),
		arg(ArgRestartIP, 3, KindPointer),
		arg(ArgJavaPC, 4, KindByteCodeOffset),
	}},
	LogWholeFrame: {Name: "LogWholeFrame", Args: []ArgSpec{
		arg(ArgRestartIP, 2, KindPointer),
		arg(ArgJavaPC, 3, KindByteCodeOffset),
	}},
	TraceInstructionBefore: {Name: "TraceInstructionBefore", Args: []ArgSpec{
		arg(ArgMethodID, 2, KindMethodID),
		arg(ArgBytecodeOffset, 3, KindByteCodeOffset),
		arg(ArgRestartIP, 4, KindPointer),
		arg(ArgJavaPC, 5, KindByteCodeOffset),
	}},
	TraceInstructionAfter: {Name: "TraceInstructionAfter", Args: []ArgSpec{
		arg(ArgMethodID, 2, KindMethodID),
		arg(ArgBytecodeOffset, 3, KindByteCodeOffset),
		arg(ArgRestartIP, 4, KindPointer),
		arg(ArgJavaPC, 5, KindByteCodeOffset),
	}},
	NewString: {Name: "NewString", Args: []ArgSpec{
		arg(ArgCompressedWTF8, 2, KindUint64),
		arg(ArgRes, 3, KindPointer),
		arg(ArgRestartIP, 4, KindPointer),
		arg(ArgJavaPC, 5, KindByteCodeOffset),
	}},
	NewClass: {Name: "NewClass", Args: []ArgSpec{
		arg(ArgCPDTypeID, 2, KindCPDTypeID),
		arg(ArgRes, 3, KindPointer),
		arg(ArgRestartIP, 4, KindPointer),
		arg(ArgJavaPC, 5, KindByteCodeOffset),
	}},
	InvokeVirtualResolve: {Name: "InvokeVirtualResolve",
		Args: []ArgSpec{
			arg(ArgObjectRefPtr, 2, KindPointer),
			arg(ArgRestartIP, 3, KindPointer),
			arg(ArgMethodNumber, 4, KindUint32),
			arg(ArgNativeReturnPtr, 5, KindPointer),
			arg(ArgJavaPC, 6, KindByteCodeOffset),
			arg(ArgMethodShapeID, 8, KindUint64),
			arg(ArgNativeRestartPoint, 9, KindRestartPointID),
		},
		Results: []ArgSpec{
			arg(ArgAddressRes, 4, KindPointer),
			arg(ArgIRMethodIDRes, 5, KindIRMethodID),
			arg(ArgMethodIDRes, 6, KindMethodID),
			arg(ArgNewFrameSizeRes, 7, KindUint64),
		},
	},
	InvokeInterfaceResolve: {Name: "InvokeInterfaceResolve",
		Args: []ArgSpec{
			arg(ArgObjectRef, 2, KindPointer),
			arg(ArgRestartIP, 3, KindPointer),
			arg(ArgJavaPC, 4, KindByteCodeOffset),
			arg(ArgNativeReturnPtr, 5, KindPointer),
			arg(ArgTargetMethodID, 8, KindMethodID),
			arg(ArgNativeRestartPoint, 9, KindRestartPointID),
		},
		Results: []ArgSpec{
			arg(ArgAddressRes, 4, KindPointer),
			arg(ArgIRMethodIDRes, 5, KindIRMethodID),
			arg(ArgMethodIDRes, 6, KindMethodID),
			arg(ArgNewFrameSizeRes, 7, KindUint64),
		},
	},
	MonitorEnter: {Name: "MonitorEnter", Args: []ArgSpec{
		arg(ArgObjAddr, 2, KindPointer),
		arg(ArgRestartIP, 3, KindPointer),
		arg(ArgJavaPC, 4, KindByteCodeOffset),
	}},
	MonitorExit: {Name: "MonitorExit", Args: []ArgSpec{
		arg(ArgObjAddr, 2, KindPointer),
		arg(ArgRestartIP, 3, KindPointer),
		arg(ArgJavaPC, 4, KindByteCodeOffset),
	}},
	Throw: {Name: "Throw", Args: []ArgSpec{
		arg(ArgExceptionPtr, 2, KindPointer),
		arg(ArgJavaPC, 3, KindByteCodeOffset),
	}},
	InstanceOf: {Name: "InstanceOf", Args: []ArgSpec{
		arg(ArgValuePtr, 2, KindPointer),
		arg(ArgResValuePtr, 3, KindPointer),
		arg(ArgRestartIP, 4, KindPointer),
		arg(ArgCPDTypeID, 5, KindCPDTypeID),
		arg(ArgJavaPC, 6, KindByteCodeOffset),
	}},
	CheckCast: {Name: "CheckCast", Args: []ArgSpec{
		arg(ArgValuePtr, 2, KindPointer),
		arg(ArgRestartIP, 4, KindPointer),
		arg(ArgCPDTypeID, 5, KindCPDTypeID),
		arg(ArgJavaPC, 6, KindByteCodeOffset),
	}},
	RunNativeVirtual: {Name: "RunNativeVirtual", Args: []ArgSpec{
		arg(ArgResPtr, 2, KindPointer),
		arg(ArgArgStart, 3, KindPointer),
		arg(ArgMethodID, 4, KindMethodID),
		arg(ArgRestartIP, 5, KindPointer),
		arg(ArgJavaPC, 6, KindByteCodeOffset),
	}},
	RunNativeSpecial: {Name: "RunNativeSpecial", Args: []ArgSpec{
		arg(ArgResPtr, 2, KindPointer),
		arg(ArgArgStart, 3, KindPointer),
		arg(ArgMethodID, 4, KindMethodID),
		arg(ArgRestartIP, 5, KindPointer),
		arg(ArgJavaPC, 6, KindByteCodeOffset),
	}},
	Todo: {Name: "Todo"},
	RunStaticNativeNew: {Name: "RunStaticNativeNew", Args: []ArgSpec{
		arg(ArgMethodID, 2, KindMethodID),
		arg(ArgRestartIP, 3, KindPointer),
	}},
	RunSpecialNativeNew: {Name: "RunSpecialNativeNew", Args: []ArgSpec{
		arg(ArgMethodID, 2, KindMethodID),
		arg(ArgRestartIP, 3, KindPointer),
	}},
	BeforeReturn: {Name: "BeforeReturn", Args: []ArgSpec{
		arg(ArgFrameSize, 2, KindUint64),
		arg(ArgRestartIP, 3, KindPointer),
		arg(ArgJavaPC, 4, KindByteCodeOffset),
	}},
	ArrayOutOfBounds: {Name: "ArrayOutOfBounds", Args: []ArgSpec{
		arg(ArgIndex, 2, KindInt32),
		arg(ArgLength, 3, KindInt32),
		arg(ArgJavaPC, 4, KindByteCodeOffset),
	}},
	Echo: {Name: "Echo", Args: []ArgSpec{
		arg(ArgValue, 2, KindUint64),
		arg(ArgRestartIP, 3, KindPointer),
	}},
}

func init() {
	for r := Reason(1); r < reasonEnd; r++ {
		specs[r].Reason = r
	}
}

// Lookup returns the Spec of r. An unknown reason is a bug of the ABI definition.
func Lookup(r Reason) *Spec {
	if r == 0 || r >= reasonEnd {
		panic(fmt.Sprintf("BUG: unknown vm exit reason %d", r))
	}
	return specs[r]
}

// Specs returns every Spec in Reason order.
func Specs() []*Spec {
	return append([]*Spec(nil), specs[1:]...)
}

// ReasonName returns the name of r.
func ReasonName(r Reason) string {
	if r == 0 || r >= reasonEnd {
		return fmt.Sprintf("Reason(%d)", r)
	}
	return specs[r].Name
}

// Validate checks that e binds every argument of its reason exactly once and nothing else.
func Validate(e ir.VMExit) error {
	if e.Reason == 0 || e.Reason >= reasonEnd {
		return fmt.Errorf("unknown vm exit reason %d", e.Reason)
	}
	spec := specs[e.Reason]
	seen := make(map[Arg]bool, len(e.Args))
	for _, a := range e.Args {
		if _, ok := spec.Arg(a.Name); !ok {
			return fmt.Errorf("%s has no argument %s", spec.Name, ArgName(a.Name))
		}
		if seen[a.Name] {
			return fmt.Errorf("%s argument %s bound twice", spec.Name, ArgName(a.Name))
		}
		seen[a.Name] = true
	}
	for _, a := range spec.Args {
		if !seen[a.Arg] {
			return fmt.Errorf("%s argument %s is not bound", spec.Name, ArgName(a.Arg))
		}
	}
	return nil
}
