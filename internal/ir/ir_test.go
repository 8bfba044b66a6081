package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWidth_String(t *testing.T) {
	for _, tc := range []struct {
		w   Width
		exp string
	}{
		{w: Signed(SizeByte), exp: "sbyte"},
		{w: Unsigned(SizeShort), exp: "ushort"},
		{w: Signed(SizeInt), exp: "sint"},
		{w: Unsigned(SizeLong), exp: "ulong"},
		{w: Unsigned(Size(3)), exp: "usize(3)"},
	} {
		tc := tc
		t.Run(tc.exp, func(t *testing.T) {
			require.Equal(t, tc.exp, tc.w.String())
			require.Equal(t, tc.w, tc.w.OperandWidth())
		})
	}
}

func TestOperationKind_String(t *testing.T) {
	seen := map[string]OperationKind{}
	for k := OperationKind(0); int(k) < OperationKindCount; k++ {
		name := k.String()
		require.NotEmpty(t, name, "kind %d", k)
		prev, ok := seen[name]
		require.False(t, ok, "kinds %d and %d are both named %s", prev, k, name)
		seen[name] = k
	}
	require.Equal(t, "OperationKind(65535)", OperationKind(65535).String())
}

func TestFormat(t *testing.T) {
	require.Equal(t, "Const64bit &{To:r3 Const:42}", Format(&OperationConst64bit{To: 3, Const: 42}))
	require.Equal(t, "NOP &{}", Format(&OperationNOP{}))
}

func TestVMExit_String(t *testing.T) {
	e := VMExit{Reason: 32, Args: []ExitArg{
		{Name: 1, Source: Const(0x10)},
		{Name: 2, Source: FrameValue(56)},
		{Name: 3, Source: FrameAddress(64)},
		{Name: 4, Source: FromRegister(5)},
		{Name: 5, Source: RestartIP()},
	}}
	require.Equal(t, "exit(32, 1=$0x10, 2=[rbp-56], 3=&[rbp-64], 4=r5, 5=restart_ip)", e.String())
}

func TestRestartPointGenerator(t *testing.T) {
	var g RestartPointGenerator
	require.Equal(t, RestartPointID(0), g.Next())
	require.Equal(t, RestartPointID(1), g.Next())
	require.Equal(t, RestartPointID(2), g.Next())
}
