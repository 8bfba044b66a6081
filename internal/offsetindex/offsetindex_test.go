package offsetindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jvmjit/irvm/internal/ir"
)

func TestBuilder(t *testing.T) {
	b := NewBuilder(3)
	require.NoError(t, b.Record(0, 2))
	require.NoError(t, b.Record(0, 0))
	require.NoError(t, b.Record(0, 1))
	require.NoError(t, b.Record(1, 4))
	require.NoError(t, b.Record(2, 8))
	require.NoError(t, b.Record(2, 9))

	x, err := b.Build(12)
	require.NoError(t, err)
	require.Equal(t, []Entry{{Offset: 0, Index: 0}, {Offset: 4, Index: 1}, {Offset: 8, Index: 2}}, x.Entries())
	require.Equal(t, 3, x.Len())
	require.Equal(t, NativeOffset(12), x.CodeLen())
}

func TestBuilder_completeness(t *testing.T) {
	t.Run("out of range", func(t *testing.T) {
		b := NewBuilder(2)
		require.EqualError(t, b.Record(2, 0), "ir index 2 out of range [0, 2)")
		require.EqualError(t, b.Record(-1, 0), "ir index -1 out of range [0, 2)")
	})
	t.Run("gap", func(t *testing.T) {
		b := NewBuilder(3)
		require.NoError(t, b.Record(0, 0))
		require.NoError(t, b.Record(2, 4))
		_, err := b.Build(8)
		require.EqualError(t, err, "ir index 1 has no native code")
	})
}

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		name    string
		starts  []NativeOffset
		codeLen NativeOffset
		expErr  string
	}{
		{name: "empty", codeLen: 0},
		{name: "ok", starts: []NativeOffset{0, 1, 5}, codeLen: 6},
		{name: "not at zero", starts: []NativeOffset{1, 5}, codeLen: 6, expErr: "first instruction starts at 0x1, not 0"},
		{name: "duplicate", starts: []NativeOffset{0, 5, 5}, codeLen: 6, expErr: "ir index 2 starts at 0x5, not after ir index 1 at 0x5"},
		{name: "unordered", starts: []NativeOffset{0, 5, 3}, codeLen: 6, expErr: "ir index 2 starts at 0x3, not after ir index 1 at 0x5"},
		{name: "past end", starts: []NativeOffset{0, 6}, codeLen: 6, expErr: "ir index 1 starts at 0x6, beyond the code length 0x6"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.starts, tc.codeLen)
			if tc.expErr == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, tc.expErr)
			}
		})
	}
}

func TestIndex_FloorCeiling(t *testing.T) {
	// Instruction 0 covers [0,4), instruction 1 [4,8) and instruction 2 [8,12).
	x, err := New([]NativeOffset{0, 4, 8}, 12)
	require.NoError(t, err)

	for _, tc := range []struct {
		off        NativeOffset
		expFloor   ir.IRInstructIndex
		expCeiling ir.IRInstructIndex
	}{
		{off: 0, expFloor: 0, expCeiling: 0},
		{off: 2, expFloor: 0, expCeiling: 1},
		{off: 4, expFloor: 1, expCeiling: 1},
		{off: 7, expFloor: 1, expCeiling: 2},
		{off: 8, expFloor: 2, expCeiling: 2},
		{off: 11, expFloor: 2, expCeiling: 3},
	} {
		floor, ok := x.Floor(tc.off)
		require.True(t, ok)
		require.Equal(t, tc.expFloor, floor, "floor of %d", tc.off)
		require.Equal(t, tc.expCeiling, x.Ceiling(tc.off), "ceiling of %d", tc.off)
	}

	_, ok := x.Floor(12)
	require.False(t, ok)
}

func TestIndex_roundTrip(t *testing.T) {
	x, err := New([]NativeOffset{0, 3, 10, 11, 40}, 45)
	require.NoError(t, err)
	for _, e := range x.Entries() {
		require.Equal(t, e.Offset, x.Offset(e.Index))
		floor, ok := x.Floor(e.Offset)
		require.True(t, ok)
		require.Equal(t, e.Index, floor)
		require.Equal(t, e.Index, x.Ceiling(e.Offset))
	}
	require.Panics(t, func() { x.Offset(5) })
}
