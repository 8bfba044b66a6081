package compiler

import (
	"fmt"
	"sort"

	"github.com/jvmjit/irvm/internal/asm"
	"github.com/jvmjit/irvm/internal/asm/amd64"
	"github.com/jvmjit/irvm/internal/ir"
)

// gpRegisters maps ir.Register to the machine register. r15 is not among them: it holds
// the native.Context while compiled code runs.
var gpRegisters = [ir.RegisterCount]asm.Register{
	amd64.REG_AX, amd64.REG_BX, amd64.REG_CX, amd64.REG_DX,
	amd64.REG_R8, amd64.REG_R9, amd64.REG_R10, amd64.REG_R11, amd64.REG_R12, amd64.REG_R13, amd64.REG_R14,
}

const contextRegister = amd64.REG_R15

// The registers Div and Mod are pinned to.
const (
	rax ir.Register = 0
	rbx ir.Register = 1
	rcx ir.Register = 2
	rdx ir.Register = 3
)

func gp(r ir.Register) asm.Register {
	if r >= ir.RegisterCount {
		panic(fmt.Sprintf("BUG: invalid register %d", r))
	}
	return gpRegisters[r]
}

func xmm(i uint8) asm.Register {
	if i >= ir.FloatRegisterCount {
		panic(fmt.Sprintf("BUG: invalid xmm register %d", i))
	}
	return amd64.REG_X0 + asm.Register(i)
}

func float(r ir.FloatRegister) asm.Register   { return xmm(uint8(r)) }
func double(r ir.DoubleRegister) asm.Register { return xmm(uint8(r)) }
func packed(r ir.PackedRegister) asm.Register { return xmm(uint8(r)) + 8 }

// imm reinterprets the bits of v as the signed immediate the assembler takes.
func imm(v uint64) int64 { return int64(v) }

// distinct returns an error unless all of regs are different registers.
func distinct(regs ...ir.Register) error {
	for i, a := range regs {
		for _, b := range regs[i+1:] {
			if a == b {
				return fmt.Errorf("register %s used for two operands which must differ", a)
			}
		}
	}
	return nil
}

// label is the state of one ir.LabelName within the method being compiled.
type label struct {
	// target is the NOP placed by OperationLabel, nil until then.
	target asm.Node
	// pending are the nodes referring to the label before it is placed.
	pending []asm.Node
}

type amd64Compiler struct {
	assembler amd64.Assembler
	// current is the index of the instruction being compiled.
	current ir.IRInstructIndex
	labels  map[ir.LabelName]*label
	exits   []pendingExit
}

func newAmd64Compiler() (*amd64Compiler, error) {
	a, err := amd64.NewAssembler()
	if err != nil {
		return nil, err
	}
	return &amd64Compiler{assembler: a, labels: map[ir.LabelName]*label{}}, nil
}

func (c *amd64Compiler) label(name ir.LabelName) *label {
	l, ok := c.labels[name]
	if !ok {
		l = &label{}
		c.labels[name] = l
	}
	return l
}

// refer makes n refer to the label name, whether it is placed yet or not.
func (c *amd64Compiler) refer(n asm.Node, name ir.LabelName) {
	l := c.label(name)
	if l.target != nil {
		n.AssignJumpTarget(l.target)
		return
	}
	l.pending = append(l.pending, n)
}

// place emits the NOP which is the target of the label name.
func (c *amd64Compiler) place(name ir.LabelName) error {
	l := c.label(name)
	if l.target != nil {
		return fmt.Errorf("label %d placed twice", name)
	}
	l.target = c.assembler.CompileStandAlone(amd64.NOP)
	for _, n := range l.pending {
		n.AssignJumpTarget(l.target)
	}
	l.pending = nil
	return nil
}

// checkLabels returns an error if a label was referred to but never placed.
func (c *amd64Compiler) checkLabels() error {
	var missing []int
	for name, l := range c.labels {
		if l.target == nil {
			missing = append(missing, int(name))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Ints(missing)
	return fmt.Errorf("labels %v are never placed", missing)
}

// regMove copies src into dst.
type regMove struct {
	dst, src asm.Register
}

// parallelMove performs moves as if all sources were read before any destination is
// written. The destinations must be distinct. Cycles are broken with XCHGQ so no scratch
// register is needed.
func (c *amd64Compiler) parallelMove(moves []regMove) {
	pending := make([]regMove, 0, len(moves))
	for _, m := range moves {
		if m.dst != m.src {
			pending = append(pending, m)
		}
	}

	readLater := func(r asm.Register, skip int) bool {
		for i, m := range pending {
			if i != skip && m.src == r {
				return true
			}
		}
		return false
	}

	for len(pending) > 0 {
		free := -1
		for i, m := range pending {
			if !readLater(m.dst, i) {
				free = i
				break
			}
		}
		if free >= 0 {
			m := pending[free]
			c.assembler.CompileRegisterToRegister(amd64.MOVQ, m.src, m.dst)
			pending = append(pending[:free], pending[free+1:]...)
			continue
		}

		// Every destination is still to be read: a cycle.
		m := pending[0]
		c.assembler.CompileRegisterToRegister(amd64.XCHGQ, m.src, m.dst)
		rest := pending[:0]
		for _, o := range pending[1:] {
			switch o.src {
			case m.dst:
				o.src = m.src
			case m.src:
				o.src = m.dst
			}
			if o.src != o.dst {
				rest = append(rest, o)
			}
		}
		pending = rest
	}
}

// frameMem returns the displacement of the frame slot at off from rbp.
func frameMem(off ir.FramePointerOffset) int64 {
	return -int64(off)
}
