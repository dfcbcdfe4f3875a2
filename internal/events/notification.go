// Package events receives contract notification events from the peer
// network and hands the decoded ones to subscribers.
package events

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
)

// ErrMalformedPayload marks a notification whose payload cannot be decoded.
// It is logged and never returned to the event source.
var ErrMalformedPayload = errors.New("malformed notification payload")

// Type is the kind of smart-contract event.
type Type string

const (
	TypeNotify    Type = "notify"
	TypeLog       Type = "log"
	TypeStorage   Type = "storage"
	TypeExecution Type = "execution"
)

// Notification is a contract event as delivered by the node. Handlers must
// treat it as read-only.
type Notification struct {
	Contract types.ScriptHash
	TxID     types.Hash
	Type     Type
	Payload  [][]byte
}

type notificationJSON struct {
	Contract types.ScriptHash `json:"contract"`
	TxID     types.Hash       `json:"tx_id"`
	Type     Type             `json:"type"`
	Payload  []string         `json:"payload"`
}

// MarshalJSON encodes payload elements as hex strings.
func (n Notification) MarshalJSON() ([]byte, error) {
	out := notificationJSON{Contract: n.Contract, TxID: n.TxID, Type: n.Type, Payload: make([]string, len(n.Payload))}
	for i, p := range n.Payload {
		out.Payload[i] = hex.EncodeToString(p)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the hex payload elements.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var in notificationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	payload := make([][]byte, len(in.Payload))
	for i, p := range in.Payload {
		b, err := hex.DecodeString(p)
		if err != nil {
			return fmt.Errorf("payload %d: %w", i, err)
		}
		payload[i] = b
	}
	*n = Notification{Contract: in.Contract, TxID: in.TxID, Type: in.Type, Payload: payload}
	return nil
}

// Event is a notification whose first payload element decoded as text.
type Event struct {
	Name         string
	Notification Notification
}

// Args returns the payload elements after the event name.
func (e Event) Args() [][]byte {
	if len(e.Notification.Payload) < 2 {
		return nil
	}
	return e.Notification.Payload[1:]
}
