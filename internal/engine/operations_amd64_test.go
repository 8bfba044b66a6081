//go:build unix

package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jvmjit/irvm/internal/frame"
	"github.com/jvmjit/irvm/internal/ir"
	"github.com/jvmjit/irvm/internal/vmexit"
)

// opsFrameSize fits the argument slots 0 to 3 and resultSlot.
const opsFrameSize = 96

var resultSlot = frame.DataOffset(4)

var (
	sInt  = ir.Signed(ir.SizeInt)
	uInt  = ir.Unsigned(ir.SizeInt)
	sLong = ir.Signed(ir.SizeLong)
	uLong = ir.Unsigned(ir.SizeLong)
)

func i32(v int32) uint64   { return uint64(uint32(v)) }
func i64(v int64) uint64   { return uint64(v) }
func f32(v float32) uint64 { return uint64(math.Float32bits(v)) }
func f64(v float64) uint64 { return math.Float64bits(v) }

func load(i int, to ir.Register, w ir.Width) ir.Operation {
	return &ir.OperationLoadFPRelative{From: frame.DataOffset(i), To: to, Width: w}
}

func loadFloat(i int, to ir.FloatRegister) ir.Operation {
	return &ir.OperationLoadFPRelativeFloat{From: frame.DataOffset(i), To: to}
}

func loadDouble(i int, to ir.DoubleRegister) ir.Operation {
	return &ir.OperationLoadFPRelativeDouble{From: frame.DataOffset(i), To: to}
}

// binary loads the first two slots into r4 and r5 and applies op, leaving the result in r4.
func binary(w ir.Width, op ir.Operation) []ir.Operation {
	return []ir.Operation{load(0, 4, w), load(1, 5, w), op}
}

// divide divides slot 0 by slot 1 with the dividend in res and the divisor in divisor.
func divide(w ir.Width, mod bool, res, divisor ir.Register) []ir.Operation {
	var op ir.Operation = &ir.OperationDiv{Res: res, Divisor: divisor, MustBeRax: 0, MustBeRbx: 1, MustBeRcx: 2, MustBeRdx: 3, Width: w}
	if mod {
		op = &ir.OperationMod{Res: res, Divisor: divisor, MustBeRax: 0, MustBeRbx: 1, MustBeRcx: 2, MustBeRdx: 3, Width: w}
	}
	return []ir.Operation{load(0, res, w), load(1, divisor, w), op}
}

// shift shifts slot 0 by the count in slot 1.
func shift(w ir.Width, op func(res, amount, cl ir.Register, w ir.Width) ir.Operation) []ir.Operation {
	return []ir.Operation{load(0, 4, w), load(1, 5, sInt), op(4, 5, 2, w)}
}

// branch sets r6 to 1 if br jumps to label 1, and to 0 otherwise.
func branch(w ir.Width, br ir.Operation) []ir.Operation {
	return []ir.Operation{
		load(0, 4, w),
		load(1, 5, w),
		br,
		&ir.OperationConst64bit{To: 6, Const: 0},
		&ir.OperationBranchToLabel{Label: 2},
		&ir.OperationLabel{Label: 1},
		&ir.OperationConst64bit{To: 6, Const: 1},
		&ir.OperationLabel{Label: 2},
	}
}

// storeDouble moves the bits of d0 to r4 through resultSlot.
func storeDouble(ops ...ir.Operation) []ir.Operation {
	return append(ops,
		&ir.OperationStoreFPRelativeDouble{From: 0, To: resultSlot},
		load(4, 4, uLong),
	)
}

// storeFloat moves the bits of f0 to r4 through resultSlot.
func storeFloat(ops ...ir.Operation) []ir.Operation {
	return append(ops,
		&ir.OperationStoreFPRelativeFloat{From: 0, To: resultSlot},
		load(4, 4, uInt),
	)
}

func TestIRVMState_RunMethod_operations(t *testing.T) {
	shl := func(res, amount, cl ir.Register, w ir.Width) ir.Operation {
		return &ir.OperationShiftLeft{Res: res, Amount: amount, CL: cl, Width: w}
	}
	shr := func(res, amount, cl ir.Register, w ir.Width) ir.Operation {
		return &ir.OperationShiftRight{Res: res, Amount: amount, CL: cl, Width: w}
	}
	ror := func(res, amount, cl ir.Register, w ir.Width) ir.Operation {
		return &ir.OperationRotateRight{Res: res, Amount: amount, CL: cl, Width: w}
	}
	intCompare := func(w ir.Width) []ir.Operation {
		return binary(w, &ir.OperationIntCompare{Res: 6, Value1: 4, Value2: 5, Temp1: 7, Temp2: 8, Temp3: 9, Width: w})
	}
	floatCompare := func(mode ir.NaNMode) []ir.Operation {
		return []ir.Operation{
			loadFloat(0, 0),
			loadFloat(1, 1),
			&ir.OperationFloatCompare{Value1: 0, Value2: 1, Res: 4, One: 5, Zero: 6, MOne: 7, Mode: mode},
		}
	}
	doubleCompare := func(mode ir.NaNMode) []ir.Operation {
		return []ir.Operation{
			loadDouble(0, 0),
			loadDouble(1, 1),
			&ir.OperationDoubleCompare{Value1: 0, Value2: 1, Res: 4, One: 5, Zero: 6, MOne: 7, Mode: mode},
		}
	}
	d2i := []ir.Operation{loadDouble(0, 0), &ir.OperationDoubleToIntegerConvert{From: 0, Temp: 5, TempDouble: 1, To: 4}}
	d2l := []ir.Operation{loadDouble(0, 0), &ir.OperationDoubleToLongConvert{From: 0, Temp: 5, TempDouble: 1, To: 4}}
	f2i := []ir.Operation{loadFloat(0, 0), &ir.OperationFloatToIntegerConvert{From: 0, Temp: 5, TempFloat: 1, To: 4}}
	f2l := []ir.Operation{loadFloat(0, 0), &ir.OperationFloatToLongConvert{From: 0, Temp: 5, TempFloat: 1, To: 4}}
	nan32, nan64 := float32(math.NaN()), math.NaN()

	for _, tc := range []struct {
		name string
		args []uint64
		body []ir.Operation
		res  ir.Register
		exp  uint64
	}{
		{name: "sub int", args: []uint64{i32(10), i32(13)}, body: binary(sInt, &ir.OperationSub{Res: 4, ToSubtract: 5, Width: sInt}), res: 4, exp: i32(-3)},
		{name: "mul int", args: []uint64{i32(-3), i32(7)}, body: binary(sInt, &ir.OperationMul{Res: 4, A: 5, Width: sInt}), res: 4, exp: i32(-21)},
		{name: "mul long", args: []uint64{i64(1 << 40), i64(-3)}, body: binary(sLong, &ir.OperationMul{Res: 4, A: 5, Width: sLong}), res: 4, exp: i64(-3 << 40)},
		{name: "neg long", args: []uint64{i64(5)}, body: []ir.Operation{load(0, 4, sLong), &ir.OperationNeg{Res: 4, Width: sLong}}, res: 4, exp: i64(-5)},
		{name: "xor int", args: []uint64{i32(0x0ff0), i32(0x00ff)}, body: binary(sInt, &ir.OperationBinaryBitXor{Res: 4, A: 5, Width: sInt}), res: 4, exp: 0x0f0f},

		{name: "div int", args: []uint64{i32(-7), i32(2)}, body: divide(sInt, false, 4, 5), res: 4, exp: i32(-3)},
		{name: "div int negative divisor", args: []uint64{i32(7), i32(-2)}, body: divide(sInt, false, 4, 5), res: 4, exp: i32(-3)},
		{name: "div int min by -1", args: []uint64{i32(math.MinInt32), i32(-1)}, body: divide(sInt, false, 4, 5), res: 4, exp: i32(math.MinInt32)},
		{name: "div long min by -1", args: []uint64{i64(math.MinInt64), i64(-1)}, body: divide(sLong, false, 4, 5), res: 4, exp: i64(math.MinInt64)},
		{name: "div long", args: []uint64{i64(-1 << 40), i64(3)}, body: divide(sLong, false, 4, 5), res: 4, exp: i64(-(1 << 40) / 3)},
		{name: "div unsigned int", args: []uint64{0xfffffffe, 2}, body: divide(uInt, false, 4, 5), res: 4, exp: 0x7fffffff},
		{name: "div unsigned long", args: []uint64{math.MaxUint64, 3}, body: divide(uLong, false, 4, 5), res: 4, exp: 0x5555555555555555},
		{name: "div with operands in rax and rdx", args: []uint64{i32(100), i32(7)}, body: divide(sInt, false, 0, 3), res: 0, exp: 14},
		{name: "div with operands swapped between rcx and rax", args: []uint64{i32(100), i32(7)}, body: divide(sInt, false, 2, 0), res: 2, exp: 14},
		{name: "mod int", args: []uint64{i32(-7), i32(2)}, body: divide(sInt, true, 4, 5), res: 4, exp: i32(-1)},
		{name: "mod int negative divisor", args: []uint64{i32(7), i32(-2)}, body: divide(sInt, true, 4, 5), res: 4, exp: 1},
		{name: "mod int min by -1", args: []uint64{i32(math.MinInt32), i32(-1)}, body: divide(sInt, true, 4, 5), res: 4, exp: 0},
		{name: "mod long min by -1", args: []uint64{i64(math.MinInt64), i64(-1)}, body: divide(sLong, true, 4, 5), res: 4, exp: 0},
		{name: "mod unsigned int", args: []uint64{math.MaxUint32, 10}, body: divide(uInt, true, 4, 5), res: 4, exp: 5},
		{name: "mod with operands in rax and rdx", args: []uint64{i64(100), i64(7)}, body: divide(sLong, true, 0, 3), res: 0, exp: 2},

		{name: "shl int masks the count", args: []uint64{1, 33}, body: shift(sInt, shl), res: 4, exp: 2},
		{name: "shl long masks the count", args: []uint64{1, 65}, body: shift(sLong, shl), res: 4, exp: 2},
		{name: "sar int", args: []uint64{i32(-16), 2}, body: shift(sInt, shr), res: 4, exp: i32(-4)},
		{name: "shr unsigned int", args: []uint64{i32(-16), 4}, body: shift(uInt, shr), res: 4, exp: 0x0fffffff},
		{name: "sar long", args: []uint64{i64(math.MinInt64), 63}, body: shift(sLong, shr), res: 4, exp: i64(-1)},
		{name: "shr unsigned long", args: []uint64{i64(math.MinInt64), 63}, body: shift(uLong, shr), res: 4, exp: 1},
		{name: "ror int", args: []uint64{1, 1}, body: shift(sInt, ror), res: 4, exp: 0x80000000},

		{name: "compare signed less", args: []uint64{i32(-1), i32(1)}, body: intCompare(sInt), res: 6, exp: i64(-1)},
		{name: "compare unsigned greater", args: []uint64{i32(-1), i32(1)}, body: intCompare(uInt), res: 6, exp: 1},
		{name: "compare equal", args: []uint64{i64(-9), i64(-9)}, body: intCompare(sLong), res: 6, exp: 0},
		{name: "compare signed long greater", args: []uint64{i64(1), i64(math.MinInt64)}, body: intCompare(sLong), res: 6, exp: 1},

		{name: "fcmp less", args: []uint64{f32(1.5), f32(2.5)}, body: floatCompare(ir.NaNIsOne), res: 4, exp: i64(-1)},
		{name: "fcmp greater", args: []uint64{f32(2.5), f32(1.5)}, body: floatCompare(ir.NaNIsMinusOne), res: 4, exp: 1},
		{name: "fcmp equal", args: []uint64{f32(2.5), f32(2.5)}, body: floatCompare(ir.NaNIsMinusOne), res: 4, exp: 0},
		{name: "fcmp nan is one", args: []uint64{f32(nan32), f32(1)}, body: floatCompare(ir.NaNIsOne), res: 4, exp: 1},
		{name: "fcmp nan is minus one", args: []uint64{f32(1), f32(nan32)}, body: floatCompare(ir.NaNIsMinusOne), res: 4, exp: i64(-1)},
		{name: "dcmp less", args: []uint64{f64(-1), f64(0)}, body: doubleCompare(ir.NaNIsOne), res: 4, exp: i64(-1)},
		{name: "dcmp nan is one", args: []uint64{f64(nan64), f64(nan64)}, body: doubleCompare(ir.NaNIsOne), res: 4, exp: 1},
		{name: "dcmp nan is minus one", args: []uint64{f64(nan64), f64(0)}, body: doubleCompare(ir.NaNIsMinusOne), res: 4, exp: i64(-1)},

		{name: "d2i", args: []uint64{f64(-3.7)}, body: d2i, res: 4, exp: i32(-3)},
		{name: "d2i nan", args: []uint64{f64(nan64)}, body: d2i, res: 4, exp: 0},
		{name: "d2i large", args: []uint64{f64(1e20)}, body: d2i, res: 4, exp: i32(math.MaxInt32)},
		{name: "d2i small", args: []uint64{f64(-1e20)}, body: d2i, res: 4, exp: i32(math.MinInt32)},
		{name: "d2i +inf", args: []uint64{f64(math.Inf(1))}, body: d2i, res: 4, exp: i32(math.MaxInt32)},
		{name: "d2i -inf", args: []uint64{f64(math.Inf(-1))}, body: d2i, res: 4, exp: i32(math.MinInt32)},
		{name: "d2l +inf", args: []uint64{f64(math.Inf(1))}, body: d2l, res: 4, exp: i64(math.MaxInt64)},
		{name: "d2l nan", args: []uint64{f64(nan64)}, body: d2l, res: 4, exp: 0},
		{name: "d2l small", args: []uint64{f64(-1e300)}, body: d2l, res: 4, exp: i64(math.MinInt64)},
		{name: "f2i large", args: []uint64{f32(1e20)}, body: f2i, res: 4, exp: i32(math.MaxInt32)},
		{name: "f2i nan", args: []uint64{f32(nan32)}, body: f2i, res: 4, exp: 0},
		{name: "f2l -inf", args: []uint64{f32(float32(math.Inf(-1)))}, body: f2l, res: 4, exp: i64(math.MinInt64)},
		{name: "f2l", args: []uint64{f32(-2.5)}, body: f2l, res: 4, exp: i64(-2)},

		{
			name: "i2d",
			args: []uint64{i32(-7)},
			body: storeDouble(load(0, 4, sInt), &ir.OperationIntegerToDoubleConvert{From: 4, Temp: 0, To: 0}),
			res:  4,
			exp:  f64(-7),
		},
		{
			name: "l2d",
			args: []uint64{i64(1 << 40)},
			body: storeDouble(load(0, 4, sLong), &ir.OperationLongToDoubleConvert{From: 4, To: 0}),
			res:  4,
			exp:  f64(1 << 40),
		},
		{
			name: "f2d",
			args: []uint64{f32(1.5)},
			body: storeDouble(loadFloat(0, 1), &ir.OperationFloatToDoubleConvert{From: 1, To: 0}),
			res:  4,
			exp:  f64(1.5),
		},
		{
			name: "add double",
			args: []uint64{f64(1.5), f64(2.25)},
			body: storeDouble(loadDouble(0, 0), loadDouble(1, 1), &ir.OperationAddDouble{Res: 0, A: 1}),
			res:  4,
			exp:  f64(3.75),
		},
		{
			name: "sub double operand order",
			args: []uint64{f64(1), f64(4)},
			body: storeDouble(loadDouble(0, 0), loadDouble(1, 1), &ir.OperationSubDouble{Res: 0, A: 1}),
			res:  4,
			exp:  f64(-3),
		},
		{
			name: "neg double zero",
			args: []uint64{f64(0)},
			body: storeDouble(loadDouble(0, 0), &ir.OperationNegDouble{Res: 0, TempNormal: 5, Temp: 1}),
			res:  4,
			exp:  f64(math.Copysign(0, -1)),
		},
		{
			name: "div float operand order",
			args: []uint64{f32(1), f32(4)},
			body: storeFloat(loadFloat(0, 0), loadFloat(1, 1), &ir.OperationDivFloat{Res: 0, Divisor: 1}),
			res:  4,
			exp:  f32(0.25),
		},

		{name: "branch greater taken", args: []uint64{i32(3), i32(-1)}, body: branch(sInt, &ir.OperationBranchAGreaterB{A: 4, B: 5, Label: 1, Width: sInt}), res: 6, exp: 1},
		{name: "branch greater not taken unsigned", args: []uint64{i32(3), i32(-1)}, body: branch(uInt, &ir.OperationBranchAGreaterB{A: 4, B: 5, Label: 1, Width: uInt}), res: 6, exp: 0},
		{name: "branch greater not taken on equal", args: []uint64{i64(3), i64(3)}, body: branch(sLong, &ir.OperationBranchAGreaterB{A: 4, B: 5, Label: 1, Width: sLong}), res: 6, exp: 0},
		{name: "branch greater equal taken on equal", args: []uint64{i64(3), i64(3)}, body: branch(sLong, &ir.OperationBranchAGreaterEqualB{A: 4, B: 5, Label: 1, Width: sLong}), res: 6, exp: 1},
		{name: "branch less taken", args: []uint64{i32(-5), i32(2)}, body: branch(sInt, &ir.OperationBranchALessB{A: 4, B: 5, Label: 1, Width: sInt}), res: 6, exp: 1},
		{name: "branch less not taken unsigned", args: []uint64{i32(-5), i32(2)}, body: branch(uInt, &ir.OperationBranchALessB{A: 4, B: 5, Label: 1, Width: uInt}), res: 6, exp: 0},
		{name: "branch not equal not taken", args: []uint64{i32(8), i32(8)}, body: branch(sInt, &ir.OperationBranchNotEqual{A: 4, B: 5, Label: 1, Width: sInt}), res: 6, exp: 0},
		{name: "branch equal val taken", args: []uint64{i32(-2), 0}, body: branch(sInt, &ir.OperationBranchEqualVal{A: 4, Const: -2, Label: 1, Width: sInt}), res: 6, exp: 1},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := newTestState(t)
			top := addTopLevel(s)
			stack := newStack(t, top)

			body := append(tc.body, &ir.OperationReturn{ReturnVal: reg(tc.res), Temp: 10, FrameSize: opsFrameSize})
			id, _ := s.AddFunction(body, opsFrameSize, noExits)
			f := stack.PushFrame(s.LookupIRMethodIDPointer(top), id, 0, tc.args, opsFrameSize)
			require.Equal(t, tc.exp, s.RunMethod(stack, id, f, nil))
		})
	}
}

func TestIRVMState_RunMethod_checks(t *testing.T) {
	const pc = 12
	boundsCheck := func(w ir.Width) []ir.Operation {
		return []ir.Operation{
			load(0, 4, w),
			load(1, 5, w),
			&ir.OperationBoundsCheck{Length: 4, Index: 5, Exit: vmexit.NewArrayOutOfBounds(5, 4, pc), Width: w},
		}
	}
	npeCheck := []ir.Operation{
		load(0, 4, uLong),
		&ir.OperationNPECheck{PossiblyNull: 4, Exit: vmexit.NewNPE(pc)},
	}

	// check asserts the input of the exit, and is nil when no exit is expected.
	for _, tc := range []struct {
		name  string
		args  []uint64
		body  []ir.Operation
		check func(t *testing.T, in vmexit.Input)
	}{
		{name: "in bounds", args: []uint64{3, 2}, body: boundsCheck(sInt)},
		{name: "first index", args: []uint64{1, 0}, body: boundsCheck(sLong)},
		{
			name: "index equal to length",
			args: []uint64{3, 3},
			body: boundsCheck(sInt),
			check: func(t *testing.T, in vmexit.Input) {
				bounds := in.(vmexit.ArrayOutOfBoundsInput)
				require.Equal(t, int32(3), bounds.Index)
				require.Equal(t, int32(3), bounds.Length)
				p, ok := bounds.PC()
				require.True(t, ok)
				require.Equal(t, vmexit.ByteCodeOffset(pc), p)
			},
		},
		{
			name: "negative index",
			args: []uint64{3, i32(-1)},
			body: boundsCheck(sInt),
			check: func(t *testing.T, in vmexit.Input) {
				bounds := in.(vmexit.ArrayOutOfBoundsInput)
				require.Equal(t, int32(-1), bounds.Index)
				require.Equal(t, int32(3), bounds.Length)
			},
		},
		{
			name: "empty array",
			args: []uint64{0, 0},
			body: boundsCheck(sInt),
			check: func(t *testing.T, in vmexit.Input) {
				require.Equal(t, int32(0), in.(vmexit.ArrayOutOfBoundsInput).Length)
			},
		},
		{name: "not null", args: []uint64{0x1000}, body: npeCheck},
		{
			name: "null",
			args: []uint64{0},
			body: npeCheck,
			check: func(t *testing.T, in vmexit.Input) {
				npe := in.(vmexit.NPEInput)
				p, ok := npe.PC()
				require.True(t, ok)
				require.Equal(t, vmexit.ByteCodeOffset(pc), p)
			},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := newTestState(t)
			top := addTopLevel(s)
			stack := newStack(t, top)

			const passed, failed = 1, 2
			var exits []vmexit.Input
			body := append(tc.body,
				&ir.OperationConst64bit{To: 6, Const: passed},
				&ir.OperationReturn{ReturnVal: reg(6), Temp: 10, FrameSize: opsFrameSize},
			)
			id, _ := s.AddFunction(body, opsFrameSize, ExitHandlerFunc(func(ev *ExitEvent, _ frame.StackView, _ *IRVMState, _ any) ExitAction {
				exits = append(exits, ev.Input)
				return ExitVMCompletely{ReturnData: failed}
			}))
			f := stack.PushFrame(s.LookupIRMethodIDPointer(top), id, 0, tc.args, opsFrameSize)
			ret := s.RunMethod(stack, id, f, nil)

			if tc.check == nil {
				require.Equal(t, uint64(passed), ret)
				require.Empty(t, exits)
				return
			}
			require.Equal(t, uint64(failed), ret)
			require.Len(t, exits, 1)
			tc.check(t, exits[0])
		})
	}
}
