package vm

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestEmitPushBytes_Lengths(t *testing.T) {
	tests := []struct {
		n      int
		prefix []byte
	}{
		{0, []byte{byte(PUSH0)}},
		{1, []byte{0x01}},
		{75, []byte{0x4B}},
		{76, []byte{byte(PUSHDATA1), 76}},
		{300, []byte{byte(PUSHDATA2), 0x2c, 0x01}},
		{70000, []byte{byte(PUSHDATA4), 0x70, 0x11, 0x01, 0x00}},
	}
	for _, tt := range tests {
		data := make([]byte, tt.n)
		got := NewScriptBuilder().EmitPushBytes(data).Bytes()
		require.Equal(t, tt.prefix, got[:len(tt.prefix)], "n=%d", tt.n)
		require.Len(t, got, len(tt.prefix)+tt.n, "n=%d", tt.n)
	}
}

func TestEmitPushInt(t *testing.T) {
	require.Equal(t, []byte{byte(PUSHM1)}, NewScriptBuilder().EmitPushInt(-1).Bytes())
	require.Equal(t, []byte{byte(PUSH0)}, NewScriptBuilder().EmitPushInt(0).Bytes())
	require.Equal(t, []byte{byte(PUSH1)}, NewScriptBuilder().EmitPushInt(1).Bytes())
	require.Equal(t, []byte{byte(PUSH16)}, NewScriptBuilder().EmitPushInt(16).Bytes())
	require.Equal(t, []byte{0x01, 0x11}, NewScriptBuilder().EmitPushInt(17).Bytes())
	require.Equal(t, []byte{0x02, 0x80, 0x00}, NewScriptBuilder().EmitPushInt(128).Bytes())
	require.Equal(t, []byte{0x02, 0x7f, 0xff}, NewScriptBuilder().EmitPushInt(-129).Bytes())
}

func TestBuildInvocation(t *testing.T) {
	contract, err := types.ParseScriptHash("0x1185f3c0dde8136966b30bed835b78917a78fd96")
	require.NoError(t, err)

	args := []string{hex.EncodeToString([]byte("EUR")), hex.EncodeToString([]byte("none"))}
	script, err := BuildInvocation(contract, "create", args)
	require.NoError(t, err)

	want := []byte{0x04}
	want = append(want, "none"...)
	want = append(want, 0x03)
	want = append(want, "EUR"...)
	want = append(want, byte(PUSH1)+1, byte(PACK), 0x06)
	want = append(want, "create"...)
	want = append(want, byte(APPCALL))
	want = append(want, contract.LittleEndian()...)
	require.Equal(t, want, script)

	_, err = BuildInvocation(contract, "create", []string{"zz"})
	require.Error(t, err)
}

func TestStackItem_JSON(t *testing.T) {
	raw := `[{"type":"ByteArray","value":"455552"},{"type":"Integer","value":"42"},` +
		`{"type":"Boolean","value":true},{"type":"Array","value":[{"type":"ByteArray","value":"ff"}]}]`

	var items []StackItem
	require.NoError(t, json.Unmarshal([]byte(raw), &items))
	require.Len(t, items, 4)
	require.Equal(t, "EUR", items[0].String())
	require.Equal(t, big.NewInt(42), items[1].Int)
	require.Equal(t, "true", items[2].String())
	require.Equal(t, "[ff]", items[3].String())

	out, err := json.Marshal(items)
	require.NoError(t, err)
	require.JSONEq(t, raw, string(out))

	var bad StackItem
	require.Error(t, json.Unmarshal([]byte(`{"type":"Map","value":{}}`), &bad))
	require.Error(t, json.Unmarshal([]byte(`{"type":"Integer","value":"x"}`), &bad))
}
