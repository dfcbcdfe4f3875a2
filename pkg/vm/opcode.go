// Package vm builds contract invocation scripts and models the values a
// test invocation leaves on the evaluation stack.
package vm

// Opcode is a single VM instruction byte.
type Opcode byte

// Opcodes emitted by the script builder.
const (
	PUSH0       Opcode = 0x00
	PUSHBYTES1  Opcode = 0x01
	PUSHBYTES75 Opcode = 0x4B
	PUSHDATA1   Opcode = 0x4C
	PUSHDATA2   Opcode = 0x4D
	PUSHDATA4   Opcode = 0x4E
	PUSHM1      Opcode = 0x4F
	PUSH1       Opcode = 0x51
	PUSH16      Opcode = 0x60
	APPCALL     Opcode = 0x67
	PACK        Opcode = 0xC1
)
