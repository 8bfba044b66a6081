package ir

import "fmt"

type Operation interface {
	Kind() OperationKind
}

type OperationKind uint16

const (
	OperationKindNOP OperationKind = iota
	OperationKindLabel
	OperationKindRestartPoint
	OperationKindDebuggerBreakpoint
	OperationKindIRStart
	OperationKindLoadFPRelative
	OperationKindStoreFPRelative
	OperationKindLoadFPRelativeFloat
	OperationKindStoreFPRelativeFloat
	OperationKindLoadFPRelativeDouble
	OperationKindStoreFPRelativeDouble
	OperationKindLoadRBP
	OperationKindWriteRBP
	OperationKindLoadSP
	OperationKindLoad
	OperationKindStore
	OperationKindConst16bit
	OperationKindConst32bit
	OperationKindConst64bit
	OperationKindConstFloat
	OperationKindConstDouble
	OperationKindLoadLabel
	OperationKindCopyRegister
	OperationKindSignExtend
	OperationKindZeroExtend
	OperationKindAdd
	OperationKindAddConst
	OperationKindSub
	OperationKindMul
	OperationKindMulConst
	OperationKindDiv
	OperationKindMod
	OperationKindNeg
	OperationKindBinaryBitAnd
	OperationKindBinaryBitOr
	OperationKindBinaryBitXor
	OperationKindShiftLeft
	OperationKindShiftRight
	OperationKindRotateRight
	OperationKindIntCompare
	OperationKindFloatCompare
	OperationKindDoubleCompare
	OperationKindAddFloat
	OperationKindSubFloat
	OperationKindMulFloat
	OperationKindDivFloat
	OperationKindAddDouble
	OperationKindSubDouble
	OperationKindMulDouble
	OperationKindDivDouble
	OperationKindNegFloat
	OperationKindNegDouble
	OperationKindIntegerToFloatConvert
	OperationKindIntegerToDoubleConvert
	OperationKindLongToFloatConvert
	OperationKindLongToDoubleConvert
	OperationKindFloatToIntegerConvert
	OperationKindFloatToLongConvert
	OperationKindDoubleToIntegerConvert
	OperationKindDoubleToLongConvert
	OperationKindFloatToDoubleConvert
	OperationKindDoubleToFloatConvert
	OperationKindBranchToLabel
	OperationKindBranchEqual
	OperationKindBranchNotEqual
	OperationKindBranchAGreaterB
	OperationKindBranchAGreaterEqualB
	OperationKindBranchALessB
	OperationKindBranchEqualVal
	OperationKindBoundsCheck
	OperationKindNPECheck
	OperationKindAssertEqual
	OperationKindReturn
	OperationKindIRCall
	OperationKindVMExit2

	// operationKindEnd is always placed at the bottom of this iota definition to be used in the test.
	operationKindEnd
)

// OperationKindCount is the number of declared operation kinds.
const OperationKindCount = int(operationKindEnd)

var operationKindNames = [...]string{
	OperationKindNOP:                    "NOP",
	OperationKindLabel:                  "Label",
	OperationKindRestartPoint:           "RestartPoint",
	OperationKindDebuggerBreakpoint:     "DebuggerBreakpoint",
	OperationKindIRStart:                "IRStart",
	OperationKindLoadFPRelative:         "LoadFPRelative",
	OperationKindStoreFPRelative:        "StoreFPRelative",
	OperationKindLoadFPRelativeFloat:    "LoadFPRelativeFloat",
	OperationKindStoreFPRelativeFloat:   "StoreFPRelativeFloat",
	OperationKindLoadFPRelativeDouble:   "LoadFPRelativeDouble",
	OperationKindStoreFPRelativeDouble:  "StoreFPRelativeDouble",
	OperationKindLoadRBP:                "LoadRBP",
	OperationKindWriteRBP:               "WriteRBP",
	OperationKindLoadSP:                 "LoadSP",
	OperationKindLoad:                   "Load",
	OperationKindStore:                  "Store",
	OperationKindConst16bit:             "Const16bit",
	OperationKindConst32bit:             "Const32bit",
	OperationKindConst64bit:             "Const64bit",
	OperationKindConstFloat:             "ConstFloat",
	OperationKindConstDouble:            "ConstDouble",
	OperationKindLoadLabel:              "LoadLabel",
	OperationKindCopyRegister:           "CopyRegister",
	OperationKindSignExtend:             "SignExtend",
	OperationKindZeroExtend:             "ZeroExtend",
	OperationKindAdd:                    "Add",
	OperationKindAddConst:               "AddConst",
	OperationKindSub:                    "Sub",
	OperationKindMul:                    "Mul",
	OperationKindMulConst:               "MulConst",
	OperationKindDiv:                    "Div",
	OperationKindMod:                    "Mod",
	OperationKindNeg:                    "Neg",
	OperationKindBinaryBitAnd:           "BinaryBitAnd",
	OperationKindBinaryBitOr:            "BinaryBitOr",
	OperationKindBinaryBitXor:           "BinaryBitXor",
	OperationKindShiftLeft:              "ShiftLeft",
	OperationKindShiftRight:             "ShiftRight",
	OperationKindRotateRight:            "RotateRight",
	OperationKindIntCompare:             "IntCompare",
	OperationKindFloatCompare:           "FloatCompare",
	OperationKindDoubleCompare:          "DoubleCompare",
	OperationKindAddFloat:               "AddFloat",
	OperationKindSubFloat:               "SubFloat",
	OperationKindMulFloat:               "MulFloat",
	OperationKindDivFloat:               "DivFloat",
	OperationKindAddDouble:              "AddDouble",
	OperationKindSubDouble:              "SubDouble",
	OperationKindMulDouble:              "MulDouble",
	OperationKindDivDouble:              "DivDouble",
	OperationKindNegFloat:               "NegFloat",
	OperationKindNegDouble:              "NegDouble",
	OperationKindIntegerToFloatConvert:  "IntegerToFloatConvert",
	OperationKindIntegerToDoubleConvert: "IntegerToDoubleConvert",
	OperationKindLongToFloatConvert:     "LongToFloatConvert",
	OperationKindLongToDoubleConvert:    "LongToDoubleConvert",
	OperationKindFloatToIntegerConvert:  "FloatToIntegerConvert",
	OperationKindFloatToLongConvert:     "FloatToLongConvert",
	OperationKindDoubleToIntegerConvert: "DoubleToIntegerConvert",
	OperationKindDoubleToLongConvert:    "DoubleToLongConvert",
	OperationKindFloatToDoubleConvert:   "FloatToDoubleConvert",
	OperationKindDoubleToFloatConvert:   "DoubleToFloatConvert",
	OperationKindBranchToLabel:          "BranchToLabel",
	OperationKindBranchEqual:            "BranchEqual",
	OperationKindBranchNotEqual:         "BranchNotEqual",
	OperationKindBranchAGreaterB:        "BranchAGreaterB",
	OperationKindBranchAGreaterEqualB:   "BranchAGreaterEqualB",
	OperationKindBranchALessB:           "BranchALessB",
	OperationKindBranchEqualVal:         "BranchEqualVal",
	OperationKindBoundsCheck:            "BoundsCheck",
	OperationKindNPECheck:               "NPECheck",
	OperationKindAssertEqual:            "AssertEqual",
	OperationKindReturn:                 "Return",
	OperationKindIRCall:                 "IRCall",
	OperationKindVMExit2:                "VMExit2",
}

func (o OperationKind) String() string {
	if int(o) < len(operationKindNames) {
		return operationKindNames[o]
	}
	return fmt.Sprintf("OperationKind(%d)", uint16(o))
}

// Format renders op for listings and error messages.
func Format(op Operation) string {
	return fmt.Sprintf("%s %+v", op.Kind(), op)
}

type OperationNOP struct{}

func (o *OperationNOP) Kind() OperationKind {
	return OperationKindNOP
}

// OperationLabel places Label at this point of the method.
type OperationLabel struct {
	Label LabelName
}

func (o *OperationLabel) Kind() OperationKind {
	return OperationKindLabel
}

// OperationRestartPoint marks the following instruction as a resumable location.
type OperationRestartPoint struct {
	ID RestartPointID
}

func (o *OperationRestartPoint) Kind() OperationKind {
	return OperationKindRestartPoint
}

type OperationDebuggerBreakpoint struct{}

func (o *OperationDebuggerBreakpoint) Kind() OperationKind {
	return OperationKindDebuggerBreakpoint
}

// OperationIRStart is the method prologue. It fills the slots beyond the first NumLocals
// data slots with a recognizable pattern, writes the frame header identifiers and the magic
// words, and points rsp to the bottom of the frame.
type OperationIRStart struct {
	Temp       Register
	IRMethodID IRMethodID
	MethodID   MethodID
	FrameSize  int
	NumLocals  int
}

func (o *OperationIRStart) Kind() OperationKind {
	return OperationKindIRStart
}

// OperationLoadFPRelative loads the value at From into To, extended per signedness.
type OperationLoadFPRelative struct {
	From FramePointerOffset
	To   Register
	Width
}

func (o *OperationLoadFPRelative) Kind() OperationKind {
	return OperationKindLoadFPRelative
}

type OperationStoreFPRelative struct {
	From Register
	To   FramePointerOffset
	Width
}

func (o *OperationStoreFPRelative) Kind() OperationKind {
	return OperationKindStoreFPRelative
}

type OperationLoadFPRelativeFloat struct {
	From FramePointerOffset
	To   FloatRegister
}

func (o *OperationLoadFPRelativeFloat) Kind() OperationKind {
	return OperationKindLoadFPRelativeFloat
}

type OperationStoreFPRelativeFloat struct {
	From FloatRegister
	To   FramePointerOffset
}

func (o *OperationStoreFPRelativeFloat) Kind() OperationKind {
	return OperationKindStoreFPRelativeFloat
}

type OperationLoadFPRelativeDouble struct {
	From FramePointerOffset
	To   DoubleRegister
}

func (o *OperationLoadFPRelativeDouble) Kind() OperationKind {
	return OperationKindLoadFPRelativeDouble
}

type OperationStoreFPRelativeDouble struct {
	From DoubleRegister
	To   FramePointerOffset
}

func (o *OperationStoreFPRelativeDouble) Kind() OperationKind {
	return OperationKindStoreFPRelativeDouble
}

type OperationLoadRBP struct {
	To Register
}

func (o *OperationLoadRBP) Kind() OperationKind {
	return OperationKindLoadRBP
}

type OperationWriteRBP struct {
	From Register
}

func (o *OperationWriteRBP) Kind() OperationKind {
	return OperationKindWriteRBP
}

type OperationLoadSP struct {
	To Register
}

func (o *OperationLoadSP) Kind() OperationKind {
	return OperationKindLoadSP
}

// OperationLoad loads the value at the address held by FromAddress.
type OperationLoad struct {
	FromAddress Register
	To          Register
	Width
}

func (o *OperationLoad) Kind() OperationKind {
	return OperationKindLoad
}

// OperationStore stores From at the address held by ToAddress.
type OperationStore struct {
	From      Register
	ToAddress Register
	Width
}

func (o *OperationStore) Kind() OperationKind {
	return OperationKindStore
}

type OperationConst16bit struct {
	To    Register
	Const uint16
}

func (o *OperationConst16bit) Kind() OperationKind {
	return OperationKindConst16bit
}

type OperationConst32bit struct {
	To    Register
	Const uint32
}

func (o *OperationConst32bit) Kind() OperationKind {
	return OperationKindConst32bit
}

type OperationConst64bit struct {
	To    Register
	Const uint64
}

func (o *OperationConst64bit) Kind() OperationKind {
	return OperationKindConst64bit
}

type OperationConstFloat struct {
	To    FloatRegister
	Temp  Register
	Const float32
}

func (o *OperationConstFloat) Kind() OperationKind {
	return OperationKindConstFloat
}

type OperationConstDouble struct {
	To    DoubleRegister
	Temp  Register
	Const float64
}

func (o *OperationConstDouble) Kind() OperationKind {
	return OperationKindConstDouble
}

// OperationLoadLabel loads the absolute address of Label into To.
type OperationLoadLabel struct {
	Label LabelName
	To    Register
}

func (o *OperationLoadLabel) Kind() OperationKind {
	return OperationKindLoadLabel
}

type OperationCopyRegister struct {
	From, To Register
}

func (o *OperationCopyRegister) Kind() OperationKind {
	return OperationKindCopyRegister
}

type OperationSignExtend struct {
	From, To         Register
	FromSize, ToSize Size
}

func (o *OperationSignExtend) Kind() OperationKind {
	return OperationKindSignExtend
}

type OperationZeroExtend struct {
	From, To         Register
	FromSize, ToSize Size
}

func (o *OperationZeroExtend) Kind() OperationKind {
	return OperationKindZeroExtend
}

// OperationAdd computes Res += A.
type OperationAdd struct {
	Res, A Register
	Width
}

func (o *OperationAdd) Kind() OperationKind {
	return OperationKindAdd
}

// OperationAddConst computes Res += Const on the whole register.
type OperationAddConst struct {
	Res   Register
	Const int32
}

func (o *OperationAddConst) Kind() OperationKind {
	return OperationKindAddConst
}

// OperationSub computes Res -= ToSubtract.
type OperationSub struct {
	Res, ToSubtract Register
	Width
}

func (o *OperationSub) Kind() OperationKind {
	return OperationKindSub
}

// OperationMul computes Res *= A.
type OperationMul struct {
	Res, A Register
	Width
}

func (o *OperationMul) Kind() OperationKind {
	return OperationKindMul
}

// OperationMulConst computes Res *= Const.
type OperationMulConst struct {
	Res   Register
	Const int32
	Width
}

func (o *OperationMulConst) Kind() OperationKind {
	return OperationKindMulConst
}

// OperationDiv computes Res /= Divisor. The hardware divide fixes the dividend and the
// result in rax and rdx, so MustBeRax, MustBeRbx, MustBeRcx and MustBeRdx must name those
// registers and are clobbered.
type OperationDiv struct {
	Res, Divisor                               Register
	MustBeRax, MustBeRbx, MustBeRcx, MustBeRdx Register
	Width
}

func (o *OperationDiv) Kind() OperationKind {
	return OperationKindDiv
}

// OperationMod computes Res %= Divisor with the same register constraints as OperationDiv.
type OperationMod struct {
	Res, Divisor                               Register
	MustBeRax, MustBeRbx, MustBeRcx, MustBeRdx Register
	Width
}

func (o *OperationMod) Kind() OperationKind {
	return OperationKindMod
}

type OperationNeg struct {
	Res Register
	Width
}

func (o *OperationNeg) Kind() OperationKind {
	return OperationKindNeg
}

type OperationBinaryBitAnd struct {
	Res, A Register
	Width
}

func (o *OperationBinaryBitAnd) Kind() OperationKind {
	return OperationKindBinaryBitAnd
}

type OperationBinaryBitOr struct {
	Res, A Register
	Width
}

func (o *OperationBinaryBitOr) Kind() OperationKind {
	return OperationKindBinaryBitOr
}

type OperationBinaryBitXor struct {
	Res, A Register
	Width
}

func (o *OperationBinaryBitXor) Kind() OperationKind {
	return OperationKindBinaryBitXor
}

// OperationShiftLeft computes Res <<= Amount. The count travels in cl, so CL must be rcx
// and is clobbered.
type OperationShiftLeft struct {
	Res, Amount, CL Register
	Width
}

func (o *OperationShiftLeft) Kind() OperationKind {
	return OperationKindShiftLeft
}

// OperationShiftRight computes Res >>= Amount, arithmetic when signed and logical otherwise.
type OperationShiftRight struct {
	Res, Amount, CL Register
	Width
}

func (o *OperationShiftRight) Kind() OperationKind {
	return OperationKindShiftRight
}

type OperationRotateRight struct {
	Res, Amount, CL Register
	Width
}

func (o *OperationRotateRight) Kind() OperationKind {
	return OperationKindRotateRight
}

// OperationIntCompare sets Res to -1, 0 or 1 when Value1 is less than, equal to or
// greater than Value2.
type OperationIntCompare struct {
	Res, Value1, Value2 Register
	Temp1, Temp2, Temp3 Register
	Width
}

func (o *OperationIntCompare) Kind() OperationKind {
	return OperationKindIntCompare
}

// OperationFloatCompare is OperationIntCompare for floats, with Mode deciding NaN results.
type OperationFloatCompare struct {
	Value1, Value2       FloatRegister
	Res, One, Zero, MOne Register
	Mode                 NaNMode
}

func (o *OperationFloatCompare) Kind() OperationKind {
	return OperationKindFloatCompare
}

type OperationDoubleCompare struct {
	Value1, Value2       DoubleRegister
	Res, One, Zero, MOne Register
	Mode                 NaNMode
}

func (o *OperationDoubleCompare) Kind() OperationKind {
	return OperationKindDoubleCompare
}

type OperationAddFloat struct {
	Res, A FloatRegister
}

func (o *OperationAddFloat) Kind() OperationKind {
	return OperationKindAddFloat
}

type OperationSubFloat struct {
	Res, A FloatRegister
}

func (o *OperationSubFloat) Kind() OperationKind {
	return OperationKindSubFloat
}

type OperationMulFloat struct {
	Res, A FloatRegister
}

func (o *OperationMulFloat) Kind() OperationKind {
	return OperationKindMulFloat
}

type OperationDivFloat struct {
	Res, Divisor FloatRegister
}

func (o *OperationDivFloat) Kind() OperationKind {
	return OperationKindDivFloat
}

type OperationAddDouble struct {
	Res, A DoubleRegister
}

func (o *OperationAddDouble) Kind() OperationKind {
	return OperationKindAddDouble
}

type OperationSubDouble struct {
	Res, A DoubleRegister
}

func (o *OperationSubDouble) Kind() OperationKind {
	return OperationKindSubDouble
}

type OperationMulDouble struct {
	Res, A DoubleRegister
}

func (o *OperationMulDouble) Kind() OperationKind {
	return OperationKindMulDouble
}

type OperationDivDouble struct {
	Res, Divisor DoubleRegister
}

func (o *OperationDivDouble) Kind() OperationKind {
	return OperationKindDivDouble
}

type OperationNegFloat struct {
	Res        FloatRegister
	TempNormal Register
	Temp       FloatRegister
}

func (o *OperationNegFloat) Kind() OperationKind {
	return OperationKindNegFloat
}

type OperationNegDouble struct {
	Res        DoubleRegister
	TempNormal Register
	Temp       DoubleRegister
}

func (o *OperationNegDouble) Kind() OperationKind {
	return OperationKindNegDouble
}

type OperationIntegerToFloatConvert struct {
	From Register
	Temp PackedRegister
	To   FloatRegister
}

func (o *OperationIntegerToFloatConvert) Kind() OperationKind {
	return OperationKindIntegerToFloatConvert
}

type OperationIntegerToDoubleConvert struct {
	From Register
	Temp PackedRegister
	To   DoubleRegister
}

func (o *OperationIntegerToDoubleConvert) Kind() OperationKind {
	return OperationKindIntegerToDoubleConvert
}

type OperationLongToFloatConvert struct {
	From Register
	To   FloatRegister
}

func (o *OperationLongToFloatConvert) Kind() OperationKind {
	return OperationKindLongToFloatConvert
}

type OperationLongToDoubleConvert struct {
	From Register
	To   DoubleRegister
}

func (o *OperationLongToDoubleConvert) Kind() OperationKind {
	return OperationKindLongToDoubleConvert
}

// OperationFloatToIntegerConvert truncates with the JVM rules: NaN becomes 0 and out of
// range values saturate.
type OperationFloatToIntegerConvert struct {
	From      FloatRegister
	Temp      Register
	TempFloat FloatRegister
	To        Register
}

func (o *OperationFloatToIntegerConvert) Kind() OperationKind {
	return OperationKindFloatToIntegerConvert
}

type OperationFloatToLongConvert struct {
	From      FloatRegister
	Temp      Register
	TempFloat FloatRegister
	To        Register
}

func (o *OperationFloatToLongConvert) Kind() OperationKind {
	return OperationKindFloatToLongConvert
}

type OperationDoubleToIntegerConvert struct {
	From       DoubleRegister
	Temp       Register
	TempDouble DoubleRegister
	To         Register
}

func (o *OperationDoubleToIntegerConvert) Kind() OperationKind {
	return OperationKindDoubleToIntegerConvert
}

type OperationDoubleToLongConvert struct {
	From       DoubleRegister
	Temp       Register
	TempDouble DoubleRegister
	To         Register
}

func (o *OperationDoubleToLongConvert) Kind() OperationKind {
	return OperationKindDoubleToLongConvert
}

type OperationFloatToDoubleConvert struct {
	From FloatRegister
	To   DoubleRegister
}

func (o *OperationFloatToDoubleConvert) Kind() OperationKind {
	return OperationKindFloatToDoubleConvert
}

type OperationDoubleToFloatConvert struct {
	From DoubleRegister
	To   FloatRegister
}

func (o *OperationDoubleToFloatConvert) Kind() OperationKind {
	return OperationKindDoubleToFloatConvert
}

type OperationBranchToLabel struct {
	Label LabelName
}

func (o *OperationBranchToLabel) Kind() OperationKind {
	return OperationKindBranchToLabel
}

type OperationBranchEqual struct {
	A, B  Register
	Label LabelName
	Width
}

func (o *OperationBranchEqual) Kind() OperationKind {
	return OperationKindBranchEqual
}

type OperationBranchNotEqual struct {
	A, B  Register
	Label LabelName
	Width
}

func (o *OperationBranchNotEqual) Kind() OperationKind {
	return OperationKindBranchNotEqual
}

type OperationBranchAGreaterB struct {
	A, B  Register
	Label LabelName
	Width
}

func (o *OperationBranchAGreaterB) Kind() OperationKind {
	return OperationKindBranchAGreaterB
}

type OperationBranchAGreaterEqualB struct {
	A, B  Register
	Label LabelName
	Width
}

func (o *OperationBranchAGreaterEqualB) Kind() OperationKind {
	return OperationKindBranchAGreaterEqualB
}

type OperationBranchALessB struct {
	A, B  Register
	Label LabelName
	Width
}

func (o *OperationBranchALessB) Kind() OperationKind {
	return OperationKindBranchALessB
}

type OperationBranchEqualVal struct {
	A     Register
	Const int32
	Label LabelName
	Width
}

func (o *OperationBranchEqualVal) Kind() OperationKind {
	return OperationKindBranchEqualVal
}

// OperationBoundsCheck takes Exit unless 0 <= Index < Length, compared unsigned.
type OperationBoundsCheck struct {
	Length, Index Register
	Exit          VMExit
	Width
}

func (o *OperationBoundsCheck) Kind() OperationKind {
	return OperationKindBoundsCheck
}

// OperationNPECheck takes Exit if PossiblyNull is zero.
type OperationNPECheck struct {
	PossiblyNull Register
	Exit         VMExit
}

func (o *OperationNPECheck) Kind() OperationKind {
	return OperationKindNPECheck
}

// OperationAssertEqual traps into the debugger unless A equals B.
type OperationAssertEqual struct {
	A, B Register
	Width
}

func (o *OperationAssertEqual) Kind() OperationKind {
	return OperationKindAssertEqual
}

// OperationReturn moves ReturnVal, if any, into rax, releases the frame and jumps to the
// return address recorded in the frame header.
type OperationReturn struct {
	ReturnVal *Register
	Temp      Register
	FrameSize int
}

func (o *OperationReturn) Kind() OperationKind {
	return OperationKindReturn
}

// CallTarget is either ConstantCallTarget or VariableCallTarget.
type CallTarget interface {
	callTarget()
}

// ConstantCallTarget is a call target known at compile time.
type ConstantCallTarget struct {
	Address      uintptr
	IRMethodID   IRMethodID
	MethodID     MethodID
	NewFrameSize int
}

func (ConstantCallTarget) callTarget() {}

// VariableCallTarget is a call target read from registers, typically filled by the results
// of a method resolution exit.
type VariableCallTarget struct {
	Address, IRMethodID, MethodID, NewFrameSize Register
}

func (VariableCallTarget) callTarget() {}

// CallArg copies the caller slot From into the callee slot To.
type CallArg struct {
	From, To FramePointerOffset
}

// OperationIRCall builds the callee frame right below the current one and transfers
// control to Target. When ReturnValue is set, rax is stored there once the callee returns.
type OperationIRCall struct {
	Temp1, Temp2     Register
	CurrentFrameSize int
	Target           CallTarget
	Args             []CallArg
	ReturnValue      *FramePointerOffset
}

func (o *OperationIRCall) Kind() OperationKind {
	return OperationKindIRCall
}

type OperationVMExit2 struct {
	Exit VMExit
}

func (o *OperationVMExit2) Kind() OperationKind {
	return OperationKindVMExit2
}
