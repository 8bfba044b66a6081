package compiler

import (
	"fmt"
	"math"

	"github.com/jvmjit/irvm/internal/asm"
	"github.com/jvmjit/irvm/internal/asm/amd64"
	"github.com/jvmjit/irvm/internal/ir"
)

func init() {
	register(ir.OperationKindConstFloat, typed((*amd64Compiler).compileConstFloat))
	register(ir.OperationKindConstDouble, typed((*amd64Compiler).compileConstDouble))
	register(ir.OperationKindFloatCompare, typed((*amd64Compiler).compileFloatCompare))
	register(ir.OperationKindDoubleCompare, typed((*amd64Compiler).compileDoubleCompare))
	register(ir.OperationKindAddFloat, typed((*amd64Compiler).compileAddFloat))
	register(ir.OperationKindSubFloat, typed((*amd64Compiler).compileSubFloat))
	register(ir.OperationKindMulFloat, typed((*amd64Compiler).compileMulFloat))
	register(ir.OperationKindDivFloat, typed((*amd64Compiler).compileDivFloat))
	register(ir.OperationKindAddDouble, typed((*amd64Compiler).compileAddDouble))
	register(ir.OperationKindSubDouble, typed((*amd64Compiler).compileSubDouble))
	register(ir.OperationKindMulDouble, typed((*amd64Compiler).compileMulDouble))
	register(ir.OperationKindDivDouble, typed((*amd64Compiler).compileDivDouble))
	register(ir.OperationKindNegFloat, typed((*amd64Compiler).compileNegFloat))
	register(ir.OperationKindNegDouble, typed((*amd64Compiler).compileNegDouble))
	register(ir.OperationKindIntegerToFloatConvert, typed((*amd64Compiler).compileIntegerToFloatConvert))
	register(ir.OperationKindIntegerToDoubleConvert, typed((*amd64Compiler).compileIntegerToDoubleConvert))
	register(ir.OperationKindLongToFloatConvert, typed((*amd64Compiler).compileLongToFloatConvert))
	register(ir.OperationKindLongToDoubleConvert, typed((*amd64Compiler).compileLongToDoubleConvert))
	register(ir.OperationKindFloatToIntegerConvert, typed((*amd64Compiler).compileFloatToIntegerConvert))
	register(ir.OperationKindFloatToLongConvert, typed((*amd64Compiler).compileFloatToLongConvert))
	register(ir.OperationKindDoubleToIntegerConvert, typed((*amd64Compiler).compileDoubleToIntegerConvert))
	register(ir.OperationKindDoubleToLongConvert, typed((*amd64Compiler).compileDoubleToLongConvert))
	register(ir.OperationKindFloatToDoubleConvert, typed((*amd64Compiler).compileFloatToDoubleConvert))
	register(ir.OperationKindDoubleToFloatConvert, typed((*amd64Compiler).compileDoubleToFloatConvert))
}

// The smallest values which do not fit the integer types, 2^31 and 2^63, as float and
// double bits.
const (
	float32TwoPow31 = 0x4f000000
	float32TwoPow63 = 0x5f000000
	float64TwoPow31 = 0x41e0000000000000
	float64TwoPow63 = 0x43e0000000000000
)

// compileConstFloat goes through a general purpose register since there is no immediate
// form of the SSE moves.
func (c *amd64Compiler) compileConstFloat(o *ir.OperationConstFloat) error {
	temp := gp(o.Temp)
	c.assembler.CompileConstToRegister(amd64.MOVL, int64(math.Float32bits(o.Const)), temp)
	c.assembler.CompileRegisterToRegister(amd64.MOVL, temp, float(o.To))
	return nil
}

func (c *amd64Compiler) compileConstDouble(o *ir.OperationConstDouble) error {
	temp := gp(o.Temp)
	c.assembler.CompileConstToRegister(amd64.MOVQ, imm(math.Float64bits(o.Const)), temp)
	c.assembler.CompileRegisterToRegister(amd64.MOVQ, temp, double(o.To))
	return nil
}

func (c *amd64Compiler) compileFloatCompare(o *ir.OperationFloatCompare) error {
	return c.compileFloatingCompare(amd64.UCOMISS, float(o.Value1), float(o.Value2), o.Res, o.One, o.Zero, o.MOne, o.Mode)
}

func (c *amd64Compiler) compileDoubleCompare(o *ir.OperationDoubleCompare) error {
	return c.compileFloatingCompare(amd64.UCOMISD, double(o.Value1), double(o.Value2), o.Res, o.One, o.Zero, o.MOne, o.Mode)
}

// compileFloatingCompare sets res to -1, 0 or 1, and to the value selected by mode when
// either operand is NaN.
func (c *amd64Compiler) compileFloatingCompare(ucomis asm.Instruction, v1, v2 asm.Register, res, one, zero, mOne ir.Register, mode ir.NaNMode) error {
	if err := distinct(one, zero, mOne); err != nil {
		return err
	}
	if res == one || res == mOne {
		return fmt.Errorf("result register %s is also a constant register", res)
	}
	oneReg, zeroReg, mOneReg, resReg := gp(one), gp(zero), gp(mOne), gp(res)
	c.assembler.CompileConstToRegister(amd64.MOVQ, 1, oneReg)
	c.assembler.CompileConstToRegister(amd64.MOVQ, -1, mOneReg)
	c.assembler.CompileRegisterToRegister(amd64.XORL, zeroReg, zeroReg)

	// Flags of v1 compared to v2. Unordered operands set ZF, PF and CF.
	c.assembler.CompileRegisterToRegister(ucomis, v2, v1)
	c.assembler.CompileRegisterToRegister(amd64.MOVQ, zeroReg, resReg)
	c.assembler.CompileRegisterToRegister(amd64.CMOVQHI, oneReg, resReg)
	c.assembler.CompileRegisterToRegister(amd64.CMOVQCS, mOneReg, resReg)
	nan := mOneReg
	if mode == ir.NaNIsOne {
		nan = oneReg
	}
	c.assembler.CompileRegisterToRegister(amd64.CMOVQPS, nan, resReg)
	return nil
}

func (c *amd64Compiler) compileAddFloat(o *ir.OperationAddFloat) error {
	c.assembler.CompileRegisterToRegister(amd64.ADDSS, float(o.A), float(o.Res))
	return nil
}

func (c *amd64Compiler) compileSubFloat(o *ir.OperationSubFloat) error {
	c.assembler.CompileRegisterToRegister(amd64.SUBSS, float(o.A), float(o.Res))
	return nil
}

func (c *amd64Compiler) compileMulFloat(o *ir.OperationMulFloat) error {
	c.assembler.CompileRegisterToRegister(amd64.MULSS, float(o.A), float(o.Res))
	return nil
}

func (c *amd64Compiler) compileDivFloat(o *ir.OperationDivFloat) error {
	c.assembler.CompileRegisterToRegister(amd64.DIVSS, float(o.Divisor), float(o.Res))
	return nil
}

func (c *amd64Compiler) compileAddDouble(o *ir.OperationAddDouble) error {
	c.assembler.CompileRegisterToRegister(amd64.ADDSD, double(o.A), double(o.Res))
	return nil
}

func (c *amd64Compiler) compileSubDouble(o *ir.OperationSubDouble) error {
	c.assembler.CompileRegisterToRegister(amd64.SUBSD, double(o.A), double(o.Res))
	return nil
}

func (c *amd64Compiler) compileMulDouble(o *ir.OperationMulDouble) error {
	c.assembler.CompileRegisterToRegister(amd64.MULSD, double(o.A), double(o.Res))
	return nil
}

func (c *amd64Compiler) compileDivDouble(o *ir.OperationDivDouble) error {
	c.assembler.CompileRegisterToRegister(amd64.DIVSD, double(o.Divisor), double(o.Res))
	return nil
}

// compileNegFloat flips the sign bit so that zeros and NaNs are negated as well.
func (c *amd64Compiler) compileNegFloat(o *ir.OperationNegFloat) error {
	if o.Temp == o.Res {
		return fmt.Errorf("temp register %s is the negated register", o.Temp)
	}
	c.assembler.CompileConstToRegister(amd64.MOVL, int64(int32(math.MinInt32)), gp(o.TempNormal))
	c.assembler.CompileRegisterToRegister(amd64.MOVL, gp(o.TempNormal), float(o.Temp))
	c.assembler.CompileRegisterToRegister(amd64.XORPS, float(o.Temp), float(o.Res))
	return nil
}

func (c *amd64Compiler) compileNegDouble(o *ir.OperationNegDouble) error {
	if o.Temp == o.Res {
		return fmt.Errorf("temp register %s is the negated register", o.Temp)
	}
	c.assembler.CompileConstToRegister(amd64.MOVQ, math.MinInt64, gp(o.TempNormal))
	c.assembler.CompileRegisterToRegister(amd64.MOVQ, gp(o.TempNormal), double(o.Temp))
	c.assembler.CompileRegisterToRegister(amd64.XORPD, double(o.Temp), double(o.Res))
	return nil
}

func (c *amd64Compiler) compileIntegerToFloatConvert(o *ir.OperationIntegerToFloatConvert) error {
	c.assembler.CompileRegisterToRegister(amd64.MOVL, gp(o.From), packed(o.Temp))
	c.assembler.CompileRegisterToRegister(amd64.CVTPL2PS, packed(o.Temp), float(o.To))
	return nil
}

func (c *amd64Compiler) compileIntegerToDoubleConvert(o *ir.OperationIntegerToDoubleConvert) error {
	c.assembler.CompileRegisterToRegister(amd64.MOVL, gp(o.From), packed(o.Temp))
	c.assembler.CompileRegisterToRegister(amd64.CVTPL2PD, packed(o.Temp), double(o.To))
	return nil
}

func (c *amd64Compiler) compileLongToFloatConvert(o *ir.OperationLongToFloatConvert) error {
	c.assembler.CompileRegisterToRegister(amd64.CVTSQ2SS, gp(o.From), float(o.To))
	return nil
}

func (c *amd64Compiler) compileLongToDoubleConvert(o *ir.OperationLongToDoubleConvert) error {
	c.assembler.CompileRegisterToRegister(amd64.CVTSQ2SD, gp(o.From), double(o.To))
	return nil
}

func (c *amd64Compiler) compileFloatToDoubleConvert(o *ir.OperationFloatToDoubleConvert) error {
	c.assembler.CompileRegisterToRegister(amd64.CVTSS2SD, float(o.From), double(o.To))
	return nil
}

func (c *amd64Compiler) compileDoubleToFloatConvert(o *ir.OperationDoubleToFloatConvert) error {
	c.assembler.CompileRegisterToRegister(amd64.CVTSD2SS, double(o.From), float(o.To))
	return nil
}

// truncation describes one saturating conversion to an integer.
type truncation struct {
	// cvtt truncates, producing the minimum value for NaN and out of range input.
	cvtt asm.Instruction
	// ucomis compares the source type.
	ucomis asm.Instruction
	// loadBound moves the bound bits from a general purpose register to an SSE register.
	loadBound asm.Instruction
	// bound is the first positive value out of range, in the bits of the source type.
	bound uint64
	// movMax loads max, the maximum value of the destination type.
	movMax asm.Instruction
	max    int64
	// cmovCC and cmovPS select on the carry and parity flags at the destination width.
	cmovCC, cmovPS asm.Instruction
}

var (
	floatToInt = truncation{
		cvtt: amd64.CVTTSS2SL, ucomis: amd64.UCOMISS, loadBound: amd64.MOVL, bound: float32TwoPow31,
		movMax: amd64.MOVL, max: math.MaxInt32, cmovCC: amd64.CMOVLCC, cmovPS: amd64.CMOVLPS,
	}
	floatToLong = truncation{
		cvtt: amd64.CVTTSS2SQ, ucomis: amd64.UCOMISS, loadBound: amd64.MOVL, bound: float32TwoPow63,
		movMax: amd64.MOVQ, max: math.MaxInt64, cmovCC: amd64.CMOVQCC, cmovPS: amd64.CMOVQPS,
	}
	doubleToInt = truncation{
		cvtt: amd64.CVTTSD2SL, ucomis: amd64.UCOMISD, loadBound: amd64.MOVQ, bound: float64TwoPow31,
		movMax: amd64.MOVL, max: math.MaxInt32, cmovCC: amd64.CMOVLCC, cmovPS: amd64.CMOVLPS,
	}
	doubleToLong = truncation{
		cvtt: amd64.CVTTSD2SQ, ucomis: amd64.UCOMISD, loadBound: amd64.MOVQ, bound: float64TwoPow63,
		movMax: amd64.MOVQ, max: math.MaxInt64, cmovCC: amd64.CMOVQCC, cmovPS: amd64.CMOVQPS,
	}
)

// compileTruncation converts with the JVM rules: NaN becomes 0, values beyond the range
// saturate to the minimum or the maximum. The hardware already produces the minimum for
// anything out of range, so only NaN and the positive overflow are fixed up.
func (c *amd64Compiler) compileTruncation(t truncation, from asm.Register, temp, to ir.Register, tempX asm.Register) error {
	if temp == to {
		return fmt.Errorf("temp register %s is the destination", temp)
	}
	if tempX == from {
		return fmt.Errorf("temp register %s is the source", amd64.RegisterName(tempX))
	}
	tempReg, toReg := gp(temp), gp(to)
	c.assembler.CompileRegisterToRegister(t.cvtt, from, toReg)

	c.assembler.CompileConstToRegister(t.loadBound, imm(t.bound), tempReg)
	c.assembler.CompileRegisterToRegister(t.loadBound, tempReg, tempX)
	c.assembler.CompileConstToRegister(t.movMax, t.max, tempReg)
	// Carry is clear when from is at least the bound, and set when unordered.
	c.assembler.CompileRegisterToRegister(t.ucomis, tempX, from)
	c.assembler.CompileRegisterToRegister(t.cmovCC, tempReg, toReg)

	c.assembler.CompileRegisterToRegister(amd64.XORL, tempReg, tempReg)
	c.assembler.CompileRegisterToRegister(t.ucomis, from, from)
	c.assembler.CompileRegisterToRegister(t.cmovPS, tempReg, toReg)
	return nil
}

func (c *amd64Compiler) compileFloatToIntegerConvert(o *ir.OperationFloatToIntegerConvert) error {
	return c.compileTruncation(floatToInt, float(o.From), o.Temp, o.To, float(o.TempFloat))
}

func (c *amd64Compiler) compileFloatToLongConvert(o *ir.OperationFloatToLongConvert) error {
	return c.compileTruncation(floatToLong, float(o.From), o.Temp, o.To, float(o.TempFloat))
}

func (c *amd64Compiler) compileDoubleToIntegerConvert(o *ir.OperationDoubleToIntegerConvert) error {
	return c.compileTruncation(doubleToInt, double(o.From), o.Temp, o.To, double(o.TempDouble))
}

func (c *amd64Compiler) compileDoubleToLongConvert(o *ir.OperationDoubleToLongConvert) error {
	return c.compileTruncation(doubleToLong, double(o.From), o.Temp, o.To, double(o.TempDouble))
}
