package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/jvmjit/irvm/internal/ir"
)

// DefaultStackSize is the size of a Stack unless configured otherwise.
const DefaultStackSize = 8 << 20

// Stack is a native stack owned by the runtime. Frames are pushed from the top downward. A
// Stack is used by one thread at a time.
type Stack struct {
	mem []byte
	// lo and hi bound the memory, hi is the top of the stack.
	lo, hi uintptr
	// sp is where the next frame is pushed.
	sp uintptr
	// current is the rbp of the innermost pushed frame, or hi if none was pushed.
	current uintptr
}

// NewStack maps a stack of size bytes, which must be a positive multiple of 16.
func NewStack(size int) (*Stack, error) {
	if size <= HeaderSize || size%16 != 0 {
		return nil, fmt.Errorf("invalid stack size %d", size)
	}
	mem, err := mmapStack(size)
	if err != nil {
		return nil, fmt.Errorf("mmap stack of %d bytes: %w", size, err)
	}
	lo := uintptr(unsafe.Pointer(&mem[0]))
	hi := lo + uintptr(size)
	return &Stack{mem: mem, lo: lo, hi: hi, sp: hi, current: hi}, nil
}

// Close unmaps the stack. No native code may run on it afterwards.
func (s *Stack) Close() error {
	if s.mem == nil {
		return nil
	}
	err := munmapStack(s.mem)
	s.mem = nil
	return err
}

// Top returns the highest address of the stack. The outermost frame has its rbp there.
func (s *Stack) Top() uintptr {
	return s.hi
}

// Bottom returns the lowest address of the stack.
func (s *Stack) Bottom() uintptr {
	return s.lo
}

// Contains returns true if the 8 bytes at addr are within the stack.
func (s *Stack) Contains(addr uintptr) bool {
	return addr >= s.lo && addr <= s.hi-8
}

// index validates addr and converts it to an index of mem. Every access of frame memory
// from Go goes through here.
func (s *Stack) index(addr uintptr) int {
	if s.mem == nil {
		panic(errors.New("BUG: access to a closed stack"))
	}
	if !s.Contains(addr) {
		panic(fmt.Errorf("BUG: address %#x outside of the stack [%#x, %#x)", addr, s.lo, s.hi))
	}
	return int(addr - s.lo)
}

// Load reads the 8 bytes at addr.
func (s *Stack) Load(addr uintptr) uint64 {
	return binary.LittleEndian.Uint64(s.mem[s.index(addr):])
}

// Store writes v to the 8 bytes at addr.
func (s *Stack) Store(addr uintptr, v uint64) {
	binary.LittleEndian.PutUint64(s.mem[s.index(addr):], v)
}

// Frame is a frame pushed with PushFrame.
type Frame struct {
	RBP  uintptr
	Size int
}

// RSP returns the stack pointer of the frame, below which its callee frames are pushed.
func (f Frame) RSP() uintptr {
	return f.RBP - uintptr(f.Size)
}

// PushFrame pushes a frame of size bytes below the innermost one. Its header records prevRIP
// as the return address and the innermost frame as the caller, and data is copied into the
// data slots. The frame is laid out exactly as compiled code lays out its own frames, so
// native code can return into it or be launched on it.
func (s *Stack) PushFrame(prevRIP uintptr, irMethodID ir.IRMethodID, methodID ir.MethodID, data []uint64, size int) Frame {
	if size < HeaderSize {
		panic(fmt.Errorf("BUG: frame size %d smaller than the header", size))
	}
	if DataOffset(len(data)-1) > ir.FramePointerOffset(size) {
		panic(fmt.Errorf("BUG: %d data slots do not fit a frame of %d bytes", len(data), size))
	}
	rbp := s.sp
	if rbp-s.lo < uintptr(size) {
		panic(fmt.Errorf("stack overflow: pushing %d bytes with %d left", size, rbp-s.lo))
	}
	c := s.Cursor(rbp)
	c.Set(PrevRIPOffset, uint64(prevRIP))
	c.Set(PrevRBPOffset, uint64(s.current))
	c.Set(IRMethodIDOffset, uint64(irMethodID))
	c.Set(MethodIDOffset, uint64(methodID))
	c.Set(Magic1Offset, Magic1)
	c.Set(Magic2Offset, Magic2)
	for i, v := range data {
		c.Set(DataOffset(i), v)
	}
	s.current = rbp
	s.sp = rbp - uintptr(size)
	return Frame{RBP: rbp, Size: size}
}

// PopFrame pops f, which must be the innermost frame.
func (s *Stack) PopFrame(f Frame) {
	if f.RBP != s.current {
		panic(fmt.Errorf("BUG: popping frame at %#x but the innermost frame is at %#x", f.RBP, s.current))
	}
	s.current = uintptr(s.Cursor(f.RBP).PrevRBP())
	s.sp = f.RBP
}

// Current returns the innermost pushed frame, if any.
func (s *Stack) Current() (Cursor, bool) {
	if s.current == s.hi && s.sp == s.hi {
		return Cursor{}, false
	}
	return s.Cursor(s.current), true
}

// Cursor returns the Cursor of the frame whose frame pointer is rbp.
func (s *Stack) Cursor(rbp uintptr) Cursor {
	if rbp < s.lo+HeaderSize || rbp > s.hi {
		panic(fmt.Errorf("BUG: frame pointer %#x outside of the stack [%#x, %#x]", rbp, s.lo+HeaderSize, s.hi))
	}
	return Cursor{stack: s, rbp: rbp}
}

// Cursor is a typed view of one frame.
type Cursor struct {
	stack *Stack
	rbp   uintptr
}

// RBP returns the frame pointer of the frame.
func (c Cursor) RBP() uintptr {
	return c.rbp
}

// Address returns the address of the slot at off.
func (c Cursor) Address(off ir.FramePointerOffset) uintptr {
	return c.rbp - uintptr(off)
}

// Get reads the slot at off.
func (c Cursor) Get(off ir.FramePointerOffset) uint64 {
	return c.stack.Load(c.Address(off))
}

// Set writes the slot at off.
func (c Cursor) Set(off ir.FramePointerOffset, v uint64) {
	c.stack.Store(c.Address(off), v)
}

func (c Cursor) PrevRIP() uintptr {
	return uintptr(c.Get(PrevRIPOffset))
}

func (c Cursor) PrevRBP() uintptr {
	return uintptr(c.Get(PrevRBPOffset))
}

func (c Cursor) IRMethodID() ir.IRMethodID {
	return ir.IRMethodID(c.Get(IRMethodIDOffset))
}

func (c Cursor) MethodID() ir.MethodID {
	return ir.MethodID(c.Get(MethodIDOffset))
}

// Header reads the whole header.
func (c Cursor) Header() Header {
	return Header{
		Magic2:     c.Get(Magic2Offset),
		Magic1:     c.Get(Magic1Offset),
		MethodID:   c.MethodID(),
		IRMethodID: c.IRMethodID(),
		PrevRBP:    c.Get(PrevRBPOffset),
		PrevRIP:    c.Get(PrevRIPOffset),
	}
}

// Validate returns an error if the magic words of the header are not intact, which means
// the frame pointer does not point to a frame or the frame was overwritten.
func (c Cursor) Validate() error {
	if m := c.Get(Magic1Offset); m != Magic1 {
		return fmt.Errorf("frame at %#x: bad magic1 %#x", c.rbp, m)
	}
	if m := c.Get(Magic2Offset); m != Magic2 {
		return fmt.Errorf("frame at %#x: bad magic2 %#x", c.rbp, m)
	}
	return nil
}

// Local reads the i-th data slot.
func (c Cursor) Local(i int) uint64 {
	return c.Get(DataOffset(i))
}

// SetLocal writes the i-th data slot.
func (c Cursor) SetLocal(i int, v uint64) {
	c.Set(DataOffset(i), v)
}

// Caller returns the frame of the caller, or false for the outermost frame.
func (c Cursor) Caller() (Cursor, bool) {
	if c.rbp == c.stack.hi {
		return Cursor{}, false
	}
	prev := c.PrevRBP()
	if prev <= c.rbp {
		panic(fmt.Errorf("BUG: frame at %#x links to the caller frame %#x below it", c.rbp, prev))
	}
	return c.stack.Cursor(prev), true
}

// Walk calls visit with the frame at rbp and then each of its callers up to the outermost
// frame, stopping early if visit returns false. The header of every frame is validated
// before it is visited.
func (s *Stack) Walk(rbp uintptr, visit func(Cursor) bool) error {
	c := s.Cursor(rbp)
	for {
		if err := c.Validate(); err != nil {
			return err
		}
		if !visit(c) {
			return nil
		}
		var ok bool
		if c, ok = c.Caller(); !ok {
			return nil
		}
	}
}

// Mark is a saved push position of a Stack.
type Mark struct {
	sp, current uintptr
}

// Mark returns the current push position.
func (s *Stack) Mark() Mark {
	return Mark{sp: s.sp, current: s.current}
}

// Reset returns to a push position saved by Mark, dropping every frame pushed since.
func (s *Stack) Reset(m Mark) {
	s.sp, s.current = m.sp, m.current
}
