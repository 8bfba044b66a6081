package compiler

import (
	"fmt"

	"github.com/jvmjit/irvm/internal/asm"
	"github.com/jvmjit/irvm/internal/asm/amd64"
	"github.com/jvmjit/irvm/internal/ir"
)

func init() {
	intOps := widths(intLong)
	register(ir.OperationKindAdd, typed((*amd64Compiler).compileAdd), intOps...)
	register(ir.OperationKindAddConst, typed((*amd64Compiler).compileAddConst))
	register(ir.OperationKindSub, typed((*amd64Compiler).compileSub), intOps...)
	register(ir.OperationKindMul, typed((*amd64Compiler).compileMul), intOps...)
	register(ir.OperationKindMulConst, typed((*amd64Compiler).compileMulConst), intOps...)
	register(ir.OperationKindDiv, typed((*amd64Compiler).compileDiv), intOps...)
	register(ir.OperationKindMod, typed((*amd64Compiler).compileMod), intOps...)
	register(ir.OperationKindNeg, typed((*amd64Compiler).compileNeg), intOps...)
	register(ir.OperationKindBinaryBitAnd, typed((*amd64Compiler).compileBinaryBitAnd), intOps...)
	register(ir.OperationKindBinaryBitOr, typed((*amd64Compiler).compileBinaryBitOr), intOps...)
	register(ir.OperationKindBinaryBitXor, typed((*amd64Compiler).compileBinaryBitXor), intOps...)
	register(ir.OperationKindShiftLeft, typed((*amd64Compiler).compileShiftLeft), intOps...)
	register(ir.OperationKindShiftRight, typed((*amd64Compiler).compileShiftRight), intOps...)
	register(ir.OperationKindRotateRight, typed((*amd64Compiler).compileRotateRight), intOps...)
	register(ir.OperationKindIntCompare, typed((*amd64Compiler).compileIntCompare), intOps...)
}

// byWidth picks the 32-bit or the 64-bit form of an instruction.
func byWidth(w ir.Width, l, q asm.Instruction) asm.Instruction {
	if w.Size == ir.SizeLong {
		return q
	}
	return l
}

func (c *amd64Compiler) compileAdd(o *ir.OperationAdd) error {
	c.assembler.CompileRegisterToRegister(byWidth(o.Width, amd64.ADDL, amd64.ADDQ), gp(o.A), gp(o.Res))
	return nil
}

// compileAddConst adds to the whole register, as it is used for pointer arithmetic.
func (c *amd64Compiler) compileAddConst(o *ir.OperationAddConst) error {
	c.assembler.CompileConstToRegister(amd64.ADDQ, int64(o.Const), gp(o.Res))
	return nil
}

func (c *amd64Compiler) compileSub(o *ir.OperationSub) error {
	c.assembler.CompileRegisterToRegister(byWidth(o.Width, amd64.SUBL, amd64.SUBQ), gp(o.ToSubtract), gp(o.Res))
	return nil
}

// compileMul uses the signed multiply for both signednesses as the low half of the
// product does not depend on it.
func (c *amd64Compiler) compileMul(o *ir.OperationMul) error {
	c.assembler.CompileRegisterToRegister(byWidth(o.Width, amd64.IMULL, amd64.IMULQ), gp(o.A), gp(o.Res))
	return nil
}

func (c *amd64Compiler) compileMulConst(o *ir.OperationMulConst) error {
	c.assembler.CompileConstToRegister(byWidth(o.Width, amd64.IMULL, amd64.IMULQ), int64(o.Const), gp(o.Res))
	return nil
}

func (c *amd64Compiler) compileNeg(o *ir.OperationNeg) error {
	c.assembler.CompileNoneToRegister(byWidth(o.Width, amd64.NEGL, amd64.NEGQ), gp(o.Res))
	return nil
}

func (c *amd64Compiler) compileBinaryBitAnd(o *ir.OperationBinaryBitAnd) error {
	c.assembler.CompileRegisterToRegister(byWidth(o.Width, amd64.ANDL, amd64.ANDQ), gp(o.A), gp(o.Res))
	return nil
}

func (c *amd64Compiler) compileBinaryBitOr(o *ir.OperationBinaryBitOr) error {
	c.assembler.CompileRegisterToRegister(byWidth(o.Width, amd64.ORL, amd64.ORQ), gp(o.A), gp(o.Res))
	return nil
}

func (c *amd64Compiler) compileBinaryBitXor(o *ir.OperationBinaryBitXor) error {
	c.assembler.CompileRegisterToRegister(byWidth(o.Width, amd64.XORL, amd64.XORQ), gp(o.A), gp(o.Res))
	return nil
}

// divisionRegisters checks the fixed registers of Div and Mod.
func divisionRegisters(raxReg, rbxReg, rcxReg, rdxReg, res, divisor ir.Register) error {
	if raxReg != rax || rbxReg != rbx || rcxReg != rcx || rdxReg != rdx {
		return fmt.Errorf("division needs rax, rbx, rcx and rdx in place but got %s, %s, %s and %s",
			raxReg, rbxReg, rcxReg, rdxReg)
	}
	if res == divisor {
		return fmt.Errorf("dividend and divisor are both %s", res)
	}
	return nil
}

func (c *amd64Compiler) compileDiv(o *ir.OperationDiv) error {
	if err := divisionRegisters(o.MustBeRax, o.MustBeRbx, o.MustBeRcx, o.MustBeRdx, o.Res, o.Divisor); err != nil {
		return err
	}
	c.compileDivision(o.Width, o.Res, o.Divisor, false)
	return nil
}

func (c *amd64Compiler) compileMod(o *ir.OperationMod) error {
	if err := divisionRegisters(o.MustBeRax, o.MustBeRbx, o.MustBeRcx, o.MustBeRdx, o.Res, o.Divisor); err != nil {
		return err
	}
	c.compileDivision(o.Width, o.Res, o.Divisor, true)
	return nil
}

// compileDivision computes res = res / divisor, or res % divisor for mod. The dividend
// travels in rax and the divisor in rcx. A zero divisor traps, so the IR checks for it
// beforehand.
//
// The signed division of the minimum value by -1 traps on x86 as the quotient overflows.
// The JVM defines it as the minimum value with a zero remainder, which is what negation
// and zeroing produce, so divisor -1 is handled without a divide.
func (c *amd64Compiler) compileDivision(w ir.Width, res, divisor ir.Register, mod bool) {
	c.parallelMove([]regMove{
		{dst: amd64.REG_AX, src: gp(res)},
		{dst: amd64.REG_CX, src: gp(divisor)},
	})

	if w.Signed {
		c.assembler.CompileRegisterToConst(byWidth(w, amd64.CMPL, amd64.CMPQ), amd64.REG_CX, -1)
		normal := c.assembler.CompileJump(amd64.JNE)
		if mod {
			c.assembler.CompileRegisterToRegister(amd64.XORL, amd64.REG_DX, amd64.REG_DX)
		} else {
			c.assembler.CompileNoneToRegister(byWidth(w, amd64.NEGL, amd64.NEGQ), amd64.REG_AX)
		}
		done := c.assembler.CompileJump(amd64.JMP)

		c.assembler.SetJumpTargetOnNext(normal)
		c.assembler.CompileStandAlone(byWidth(w, amd64.CDQ, amd64.CQO))
		c.assembler.CompileRegisterToNone(byWidth(w, amd64.IDIVL, amd64.IDIVQ), amd64.REG_CX)
		c.assembler.SetJumpTargetOnNext(done)
	} else {
		c.assembler.CompileRegisterToRegister(amd64.XORL, amd64.REG_DX, amd64.REG_DX)
		c.assembler.CompileRegisterToNone(byWidth(w, amd64.DIVL, amd64.DIVQ), amd64.REG_CX)
	}
	c.assembler.CompileStandAlone(amd64.NOP)

	result := amd64.REG_AX
	if mod {
		result = amd64.REG_DX
	}
	if r := gp(res); r != result {
		c.assembler.CompileRegisterToRegister(amd64.MOVQ, result, r)
	}
}

// compileShift moves the count to cl and emits inst.
func (c *amd64Compiler) compileShift(inst asm.Instruction, res, amount, cl ir.Register) error {
	if cl != rcx {
		return fmt.Errorf("shift count register must be rcx, not %s", cl)
	}
	if res == rcx {
		return fmt.Errorf("shifted register %s holds the shift count", res)
	}
	if amount != rcx {
		c.assembler.CompileRegisterToRegister(amd64.MOVQ, gp(amount), amd64.REG_CX)
	}
	c.assembler.CompileRegisterToRegister(inst, amd64.REG_CX, gp(res))
	return nil
}

func (c *amd64Compiler) compileShiftLeft(o *ir.OperationShiftLeft) error {
	return c.compileShift(byWidth(o.Width, amd64.SHLL, amd64.SHLQ), o.Res, o.Amount, o.CL)
}

// compileShiftRight shifts arithmetically when signed.
func (c *amd64Compiler) compileShiftRight(o *ir.OperationShiftRight) error {
	inst := byWidth(o.Width, amd64.SHRL, amd64.SHRQ)
	if o.Signed {
		inst = byWidth(o.Width, amd64.SARL, amd64.SARQ)
	}
	return c.compileShift(inst, o.Res, o.Amount, o.CL)
}

func (c *amd64Compiler) compileRotateRight(o *ir.OperationRotateRight) error {
	return c.compileShift(byWidth(o.Width, amd64.RORL, amd64.RORQ), o.Res, o.Amount, o.CL)
}

// compileIntCompare computes -1, 0 or 1 without branches. The temporaries are set before
// the comparison since zeroing a register clobbers the flags.
func (c *amd64Compiler) compileIntCompare(o *ir.OperationIntCompare) error {
	if err := distinct(o.Temp1, o.Temp2, o.Temp3); err != nil {
		return err
	}
	for _, t := range []ir.Register{o.Temp1, o.Temp2, o.Temp3} {
		if t == o.Value1 || t == o.Value2 || t == o.Res {
			return fmt.Errorf("temp register %s is also an operand", t)
		}
	}
	one, minusOne, zero := gp(o.Temp1), gp(o.Temp2), gp(o.Temp3)
	c.assembler.CompileConstToRegister(amd64.MOVQ, 1, one)
	c.assembler.CompileConstToRegister(amd64.MOVQ, -1, minusOne)
	c.assembler.CompileRegisterToRegister(amd64.XORL, zero, zero)

	c.assembler.CompileRegisterToRegister(byWidth(o.Width, amd64.CMPL, amd64.CMPQ), gp(o.Value1), gp(o.Value2))
	res := gp(o.Res)
	c.assembler.CompileRegisterToRegister(amd64.MOVQ, zero, res)
	if o.Signed {
		c.assembler.CompileRegisterToRegister(amd64.CMOVQGT, one, res)
		c.assembler.CompileRegisterToRegister(amd64.CMOVQLT, minusOne, res)
	} else {
		c.assembler.CompileRegisterToRegister(amd64.CMOVQHI, one, res)
		c.assembler.CompileRegisterToRegister(amd64.CMOVQCS, minusOne, res)
	}
	return nil
}
