// Package compiler translates IR methods into x86-64 machine code in a single linear pass.
//
// Each IR operation is lowered by the translator registered for its kind and operand width.
// The produced code only depends on its own position for label addresses, which are read
// RIP-relative, so it can be installed at any address.
package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jvmjit/irvm/internal/asm"
	"github.com/jvmjit/irvm/internal/asm/amd64"
	"github.com/jvmjit/irvm/internal/ir"
	"github.com/jvmjit/irvm/internal/offsetindex"
)

// Key selects the translator of an operation.
type Key struct {
	Kind   ir.OperationKind
	Size   ir.Size
	Signed bool
}

func (k Key) String() string {
	if k.Size == ir.SizeNone {
		return k.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", k.Kind, ir.Width{Size: k.Size, Signed: k.Signed})
}

// keyOf returns the translator key of op.
func keyOf(op ir.Operation) Key {
	k := Key{Kind: op.Kind()}
	if w, ok := op.(ir.Widthed); ok {
		width := w.OperandWidth()
		k.Size, k.Signed = width.Size, width.Signed
	}
	return k
}

// translator emits the native code of one operation.
type translator func(c *amd64Compiler, op ir.Operation) error

var translators = map[Key]translator{}

// register adds fn as the translator of kind for each of widths, or for the kind alone
// when no width is given.
func register(kind ir.OperationKind, fn translator, widths ...ir.Width) {
	if len(widths) == 0 {
		widths = []ir.Width{{}}
	}
	for _, w := range widths {
		k := Key{Kind: kind, Size: w.Size, Signed: w.Signed}
		if _, ok := translators[k]; ok {
			panic(fmt.Sprintf("BUG: translator for %s registered twice", k))
		}
		translators[k] = fn
	}
}

var (
	allSizes = []ir.Size{ir.SizeByte, ir.SizeShort, ir.SizeInt, ir.SizeLong}
	intLong  = []ir.Size{ir.SizeInt, ir.SizeLong}
)

// widths returns the signed and unsigned Width of each of sizes.
func widths(sizes []ir.Size) (ret []ir.Width) {
	for _, s := range sizes {
		ret = append(ret, ir.Signed(s), ir.Unsigned(s))
	}
	return
}

// Translators returns the key of every registered translator, sorted.
func Translators() []Key {
	ret := make([]Key, 0, len(translators))
	for k := range translators {
		ret = append(ret, k)
	}
	sort.Slice(ret, func(i, j int) bool {
		a, b := ret[i], ret[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Size != b.Size {
			return a.Size < b.Size
		}
		return !a.Signed && b.Signed
	})
	return ret
}

// ExitSite is one VM exit in the compiled code.
type ExitSite struct {
	Index  ir.IRInstructIndex
	Reason ir.ExitReason
	// After is the offset of the instruction execution continues at when the exit resumes.
	After offsetindex.NativeOffset
}

// Result is a compiled method, not installed yet.
type Result struct {
	Code []byte
	// Index maps native offsets to IR instructions and back.
	Index *offsetindex.Index
	// RestartPoints maps each restart point to the IR instruction following its marker.
	RestartPoints map[ir.RestartPointID]ir.IRInstructIndex
	ExitSites     []ExitSite

	instructions []ir.Operation
}

// Disassemble renders the code as if installed at base, each IR instruction followed by the
// machine code it produced.
func (r *Result) Disassemble(base uintptr) string {
	var sb strings.Builder
	entries := r.Index.Entries()
	for i, e := range entries {
		end := r.Index.CodeLen()
		if i+1 < len(entries) {
			end = entries[i+1].Offset
		}
		fmt.Fprintf(&sb, "; %d: %s\n", e.Index, ir.Format(r.instructions[i]))
		sb.WriteString(amd64.Disassemble(r.Code[e.Offset:end], uint64(base)+uint64(e.Offset)))
	}
	return sb.String()
}

// Compile compiles the method made of instructions.
func Compile(instructions []ir.Operation) (*Result, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("empty method")
	}
	c, err := newAmd64Compiler()
	if err != nil {
		return nil, err
	}

	// ranges[i] is the range of assembler nodes emitted for instructions[i].
	ranges := make([][2]int, len(instructions))
	restartPoints := map[ir.RestartPointID]ir.IRInstructIndex{}
	for i, op := range instructions {
		c.current = ir.IRInstructIndex(i)
		if rp, ok := op.(*ir.OperationRestartPoint); ok {
			if _, dup := restartPoints[rp.ID]; dup {
				return nil, fmt.Errorf("restart point %d defined twice", rp.ID)
			}
			if i+1 >= len(instructions) {
				return nil, fmt.Errorf("restart point %d at the end of the method", rp.ID)
			}
			restartPoints[rp.ID] = ir.IRInstructIndex(i + 1)
		}

		k := keyOf(op)
		fn, ok := translators[k]
		if !ok {
			return nil, fmt.Errorf("no translator for %s at %d", k, i)
		}
		start := c.assembler.NodeCount()
		if err = fn(c, op); err != nil {
			return nil, fmt.Errorf("compiling %s at %d: %w", ir.Format(op), i, err)
		}
		end := c.assembler.NodeCount()
		if end <= start {
			return nil, fmt.Errorf("%s at %d produced no native code", k, i)
		}
		ranges[i] = [2]int{start, end}
	}

	if err = c.checkLabels(); err != nil {
		return nil, err
	}

	code, err := c.assembler.Assemble()
	if err != nil {
		return nil, fmt.Errorf("assembling: %w", err)
	}

	nodes := c.assembler.Nodes()
	b := offsetindex.NewBuilder(len(instructions))
	for i, r := range ranges {
		for _, n := range nodes[r[0]:r[1]] {
			if n.Pseudo() {
				continue
			}
			if err = b.Record(ir.IRInstructIndex(i), offsetindex.NativeOffset(n.OffsetInBinary())); err != nil {
				return nil, err
			}
		}
	}
	index, err := b.Build(offsetindex.NativeOffset(len(code)))
	if err != nil {
		return nil, fmt.Errorf("building the offset index: %w", err)
	}

	exits := make([]ExitSite, len(c.exits))
	for i, e := range c.exits {
		exits[i] = ExitSite{Index: e.index, Reason: e.reason, After: offsetindex.NativeOffset(e.after.OffsetInBinary())}
	}

	return &Result{
		Code:          code,
		Index:         index,
		RestartPoints: restartPoints,
		ExitSites:     exits,
		instructions:  instructions,
	}, nil
}

// pendingExit is an exit whose after node is only placed once assembled.
type pendingExit struct {
	index  ir.IRInstructIndex
	reason ir.ExitReason
	after  asm.Node
}
