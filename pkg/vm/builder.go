package vm

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
)

// ScriptBuilder accumulates VM instructions.
type ScriptBuilder struct {
	buf bytes.Buffer
}

// NewScriptBuilder returns an empty builder.
func NewScriptBuilder() *ScriptBuilder {
	return &ScriptBuilder{}
}

// Emit appends a bare opcode.
func (sb *ScriptBuilder) Emit(op Opcode) *ScriptBuilder {
	sb.buf.WriteByte(byte(op))
	return sb
}

// EmitPushBytes pushes data using the shortest push instruction.
func (sb *ScriptBuilder) EmitPushBytes(data []byte) *ScriptBuilder {
	n := len(data)
	switch {
	case n == 0:
		sb.buf.WriteByte(byte(PUSH0))
	case n <= int(PUSHBYTES75):
		sb.buf.WriteByte(byte(n))
	case n < 0x100:
		sb.buf.WriteByte(byte(PUSHDATA1))
		sb.buf.WriteByte(byte(n))
	case n < 0x10000:
		sb.buf.WriteByte(byte(PUSHDATA2))
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(n))
		sb.buf.Write(l[:])
	default:
		sb.buf.WriteByte(byte(PUSHDATA4))
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(n))
		sb.buf.Write(l[:])
	}
	sb.buf.Write(data)
	return sb
}

// EmitPushInt pushes an integer, using the single-byte forms for -1..16.
func (sb *ScriptBuilder) EmitPushInt(v int64) *ScriptBuilder {
	switch {
	case v == -1:
		return sb.Emit(PUSHM1)
	case v == 0:
		return sb.Emit(PUSH0)
	case v > 0 && v <= 16:
		return sb.Emit(PUSH1 + Opcode(v-1))
	}
	return sb.EmitPushBytes(littleEndianInt(big.NewInt(v)))
}

// EmitAppCall calls the contract identified by hash.
func (sb *ScriptBuilder) EmitAppCall(hash types.ScriptHash) *ScriptBuilder {
	sb.buf.WriteByte(byte(APPCALL))
	sb.buf.Write(hash.LittleEndian())
	return sb
}

// Bytes returns the assembled script.
func (sb *ScriptBuilder) Bytes() []byte {
	return bytes.Clone(sb.buf.Bytes())
}

// BuildInvocation produces the script calling operation on contract with
// hex-encoded positional arguments. Arguments are pushed in reverse and
// packed so the contract receives them in their original order.
func BuildInvocation(contract types.ScriptHash, operation string, hexArgs []string) ([]byte, error) {
	args := make([][]byte, len(hexArgs))
	for i, h := range hexArgs {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = b
	}

	sb := NewScriptBuilder()
	for i := len(args) - 1; i >= 0; i-- {
		sb.EmitPushBytes(args[i])
	}
	sb.EmitPushInt(int64(len(args)))
	sb.Emit(PACK)
	sb.EmitPushBytes([]byte(operation))
	sb.EmitAppCall(contract)
	return sb.Bytes(), nil
}

// littleEndianInt encodes v in two's-complement little-endian, the VM's
// integer representation.
func littleEndianInt(v *big.Int) []byte {
	if v.Sign() == 0 {
		return []byte{}
	}
	if v.Sign() > 0 {
		be := v.Bytes()
		out := make([]byte, len(be), len(be)+1)
		for i := range be {
			out[i] = be[len(be)-1-i]
		}
		if out[len(out)-1]&0x80 != 0 {
			out = append(out, 0x00)
		}
		return out
	}
	// Negative: two's complement over the minimal byte width.
	width := (v.BitLen() + 8) / 8
	mod := new(big.Int).Lsh(big.NewInt(1), uint(width*8))
	tc := new(big.Int).Add(mod, v).Bytes()
	out := make([]byte, width)
	for i := range tc {
		out[i] = tc[len(tc)-1-i]
	}
	for i := len(tc); i < width; i++ {
		out[i] = 0xff
	}
	return out
}
