package frame

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/jvmjit/irvm/internal/ir"
)

func TestHeaderLayout(t *testing.T) {
	var h Header
	require.Equal(t, HeaderSize, int(unsafe.Sizeof(h)))
	for _, tc := range []struct {
		name        string
		fieldOffset uintptr
		exp         ir.FramePointerOffset
	}{
		{name: "prev rip", fieldOffset: unsafe.Offsetof(h.PrevRIP), exp: PrevRIPOffset},
		{name: "prev rbp", fieldOffset: unsafe.Offsetof(h.PrevRBP), exp: PrevRBPOffset},
		{name: "ir method id", fieldOffset: unsafe.Offsetof(h.IRMethodID), exp: IRMethodIDOffset},
		{name: "method id", fieldOffset: unsafe.Offsetof(h.MethodID), exp: MethodIDOffset},
		{name: "magic1", fieldOffset: unsafe.Offsetof(h.Magic1), exp: Magic1Offset},
		{name: "magic2", fieldOffset: unsafe.Offsetof(h.Magic2), exp: Magic2Offset},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.exp, ir.FramePointerOffset(HeaderSize-int(tc.fieldOffset)))
		})
	}

	require.Equal(t, ir.FramePointerOffset(56), DataOffset(0))
	require.Equal(t, ir.FramePointerOffset(64), DataOffset(1))
}

func newStack(t *testing.T, size int) *Stack {
	s, err := NewStack(size)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestNewStack_invalidSize(t *testing.T) {
	for _, size := range []int{0, HeaderSize, 1000} {
		_, err := NewStack(size)
		require.Error(t, err, size)
	}
}

func TestStack_PushPop(t *testing.T) {
	s := newStack(t, 4096)
	_, ok := s.Current()
	require.False(t, ok)

	outer := s.PushFrame(0x1111, 1, 10, []uint64{7, 8}, 128)
	require.Equal(t, s.Top(), outer.RBP)
	require.Equal(t, s.Top()-128, outer.RSP())

	inner := s.PushFrame(0x2222, 2, 20, nil, HeaderSize)
	require.Equal(t, outer.RSP(), inner.RBP)

	cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, inner.RBP, cur.RBP())
	require.Equal(t, uintptr(0x2222), cur.PrevRIP())
	require.Equal(t, outer.RBP, cur.PrevRBP())
	require.Equal(t, ir.IRMethodID(2), cur.IRMethodID())
	require.Equal(t, ir.MethodID(20), cur.MethodID())
	require.NoError(t, cur.Validate())

	h := s.Cursor(outer.RBP).Header()
	require.True(t, h.Valid())
	require.Equal(t, Header{
		Magic2: Magic2, Magic1: Magic1, MethodID: 10, IRMethodID: 1,
		PrevRBP: uint64(s.Top()), PrevRIP: 0x1111,
	}, h)
	require.Equal(t, uint64(7), s.Cursor(outer.RBP).Local(0))
	require.Equal(t, uint64(8), s.Cursor(outer.RBP).Local(1))

	require.Panics(t, func() { s.PopFrame(outer) })
	s.PopFrame(inner)
	cur, ok = s.Current()
	require.True(t, ok)
	require.Equal(t, outer.RBP, cur.RBP())
	s.PopFrame(outer)
	_, ok = s.Current()
	require.False(t, ok)
}

func TestStack_PushFrame_invalid(t *testing.T) {
	s := newStack(t, 4096)
	require.Panics(t, func() { s.PushFrame(0, 1, 1, nil, HeaderSize-8) })
	require.Panics(t, func() { s.PushFrame(0, 1, 1, []uint64{1, 2}, HeaderSize+8) })
	require.Panics(t, func() { s.PushFrame(0, 1, 1, nil, 8192) })
}

func TestStack_bounds(t *testing.T) {
	s := newStack(t, 4096)
	require.True(t, s.Contains(s.Bottom()))
	require.True(t, s.Contains(s.Top()-8))
	require.False(t, s.Contains(s.Top()-7))
	require.False(t, s.Contains(s.Bottom()-1))
	require.Panics(t, func() { s.Load(s.Top()) })
	require.Panics(t, func() { s.Store(s.Bottom()-8, 1) })
	require.Panics(t, func() { s.Cursor(s.Top() + 8) })

	s.Store(s.Bottom(), 0xabcd)
	require.Equal(t, uint64(0xabcd), s.Load(s.Bottom()))
}

func TestStack_Walk(t *testing.T) {
	s := newStack(t, 8192)
	a := s.PushFrame(0, 1, 0, nil, 64)
	b := s.PushFrame(0xa, 2, 0, nil, 128)
	c := s.PushFrame(0xb, 3, 0, nil, 256)

	var visited []ir.IRMethodID
	require.NoError(t, s.Walk(c.RBP, func(cur Cursor) bool {
		visited = append(visited, cur.IRMethodID())
		return true
	}))
	require.Equal(t, []ir.IRMethodID{3, 2, 1}, visited)

	visited = visited[:0]
	require.NoError(t, s.Walk(c.RBP, func(cur Cursor) bool {
		visited = append(visited, cur.IRMethodID())
		return cur.RBP() != b.RBP
	}))
	require.Equal(t, []ir.IRMethodID{3, 2}, visited)

	// A corrupted caller stops the walk with an error.
	s.Cursor(a.RBP).Set(Magic1Offset, 0)
	err := s.Walk(c.RBP, func(Cursor) bool { return true })
	require.EqualError(t, err, fmt.Sprintf("frame at %#x: bad magic1 0x0", a.RBP))
}

func TestStack_MarkReset(t *testing.T) {
	s := newStack(t, 4096)
	a := s.PushFrame(0, 1, 0, nil, 64)
	m := s.Mark()
	s.PushFrame(0, 2, 0, nil, 64)
	s.Reset(m)
	cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, a.RBP, cur.RBP())
}

func TestStackView(t *testing.T) {
	s := newStack(t, 8192)
	outer := s.PushFrame(0, 1, 0, nil, 64)
	exiting := s.PushFrame(0xa, 2, 0, nil, 128)

	// Native code may have grown the exiting frame's stack below what was pushed from Go.
	rsp := exiting.RBP - 256
	v := s.View(exiting.RBP, rsp)
	require.Equal(t, exiting.RBP, v.Exiting().RBP())
	require.Equal(t, rsp, v.RSP())

	addr := v.Exiting().Address(DataOffset(0))
	v.Store(addr, 99)
	require.Equal(t, uint64(99), v.Load(addr))

	callee := v.PushFrame(0xb, 3, 30, nil, 64)
	require.Equal(t, rsp, callee.RBP)
	require.Equal(t, exiting.RBP, s.Cursor(callee.RBP).PrevRBP())

	var visited []uintptr
	require.NoError(t, v.Walk(func(c Cursor) bool {
		visited = append(visited, c.RBP())
		return true
	}))
	require.Equal(t, []uintptr{exiting.RBP, outer.RBP}, visited)

	require.Panics(t, func() { s.View(rsp, exiting.RBP) })
}
