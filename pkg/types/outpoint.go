package types

import "fmt"

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// IsZero returns true if the outpoint has a zero TxID and zero index.
func (o Outpoint) IsZero() bool {
	return o.TxID.IsZero() && o.Index == 0
}

// String returns "txid:index" in hex.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}

// Bytes returns the 36-byte storage key form: txid(32) | index(4, big-endian).
// Big-endian keeps outputs of one transaction adjacent under prefix scans.
func (o Outpoint) Bytes() []byte {
	b := make([]byte, 0, HashSize+4)
	b = append(b, o.TxID[:]...)
	return append(b, byte(o.Index>>24), byte(o.Index>>16), byte(o.Index>>8), byte(o.Index))
}
