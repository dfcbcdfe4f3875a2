package vm

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ItemType is the VM type tag of a stack item.
type ItemType string

// Stack item types reported by a test invocation.
const (
	ByteArrayType ItemType = "ByteArray"
	IntegerType   ItemType = "Integer"
	BooleanType   ItemType = "Boolean"
	ArrayType     ItemType = "Array"
)

// StackItem is one result value left on the evaluation stack.
type StackItem struct {
	Type  ItemType
	Bytes []byte
	Int   *big.Int
	Bool  bool
	Items []StackItem
}

type stackItemJSON struct {
	Type  ItemType        `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the item as {"type", "value"}.
func (s StackItem) MarshalJSON() ([]byte, error) {
	var v interface{}
	switch s.Type {
	case ByteArrayType:
		v = hex.EncodeToString(s.Bytes)
	case IntegerType:
		if s.Int == nil {
			v = "0"
		} else {
			v = s.Int.String()
		}
	case BooleanType:
		v = s.Bool
	case ArrayType:
		items := s.Items
		if items == nil {
			items = []StackItem{}
		}
		v = items
	default:
		return nil, fmt.Errorf("unknown stack item type %q", s.Type)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stackItemJSON{Type: s.Type, Value: raw})
}

// UnmarshalJSON decodes an item produced by a node's test invocation.
func (s *StackItem) UnmarshalJSON(data []byte) error {
	var j stackItemJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	s.Type = j.Type
	switch j.Type {
	case ByteArrayType:
		var str string
		if err := json.Unmarshal(j.Value, &str); err != nil {
			return fmt.Errorf("bytearray value: %w", err)
		}
		b, err := hex.DecodeString(str)
		if err != nil {
			return fmt.Errorf("bytearray value: %w", err)
		}
		s.Bytes = b
	case IntegerType:
		var str string
		if err := json.Unmarshal(j.Value, &str); err != nil {
			return fmt.Errorf("integer value: %w", err)
		}
		n, ok := new(big.Int).SetString(str, 10)
		if !ok {
			return fmt.Errorf("integer value %q", str)
		}
		s.Int = n
	case BooleanType:
		if err := json.Unmarshal(j.Value, &s.Bool); err != nil {
			return fmt.Errorf("boolean value: %w", err)
		}
	case ArrayType:
		if err := json.Unmarshal(j.Value, &s.Items); err != nil {
			return fmt.Errorf("array value: %w", err)
		}
	default:
		return fmt.Errorf("unknown stack item type %q", j.Type)
	}
	return nil
}

// String renders the item for API responses. Byte arrays holding valid
// UTF-8 are shown as text, anything else as hex.
func (s StackItem) String() string {
	switch s.Type {
	case ByteArrayType:
		if utf8.Valid(s.Bytes) {
			return string(s.Bytes)
		}
		return hex.EncodeToString(s.Bytes)
	case IntegerType:
		if s.Int == nil {
			return "0"
		}
		return s.Int.String()
	case BooleanType:
		return strconv.FormatBool(s.Bool)
	case ArrayType:
		parts := make([]string, len(s.Items))
		for i, it := range s.Items {
			parts[i] = it.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return ""
}

// VM halt states.
const (
	StateHalt  = "HALT"
	StateFault = "FAULT"
)

// InvokeResult is the outcome of running a script against current chain
// state without committing it.
type InvokeResult struct {
	State       string      `json:"state"`
	GasConsumed uint64      `json:"gas_consumed"`
	OpCount     int         `json:"op_count"`
	Stack       []StackItem `json:"stack"`
}

// Faulted reports whether execution ended in a fault.
func (r *InvokeResult) Faulted() bool {
	return strings.Contains(r.State, StateFault)
}
