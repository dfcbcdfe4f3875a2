package wallet

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-partnership/internal/storage"
	"github.com/Klingon-tech/klingnet-partnership/pkg/tx"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
)

// Key layout inside the wallet namespace.
var (
	prefixUTXO   = []byte("u/") // outpoint -> UTXO
	prefixRecord = []byte("t/") // txid -> Record
	prefixLock   = []byte("l/") // outpoint -> spending txid
	keyNext      = []byte("m/next")
	keyCheckpt   = []byte("m/checkpoint")
)

// Record is a transaction the wallet relayed.
type Record struct {
	Tx        *tx.Transaction `json:"tx"`
	Confirmed bool            `json:"confirmed"`
	Height    uint64          `json:"height"`
	CreatedAt time.Time       `json:"created_at"`
}

// Checkpoint is the last persisted sync summary.
type Checkpoint struct {
	Height      uint64    `json:"height"`
	ChainHeight uint64    `json:"chain_height"`
	Pending     int       `json:"pending"`
	Time        time.Time `json:"time"`
}

// store wraps the wallet namespace of the database.
type store struct {
	db storage.DB
}

func key(prefix, id []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(id))
	return append(append(k, prefix...), id...)
}

func (s *store) getJSON(k []byte, v interface{}) (bool, error) {
	data, err := s.db.Get(k)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %q: %w", k, err)
	}
	return true, nil
}

func putJSON(b storage.Batch, k []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(k, data)
}

// nextHeight is the height of the next block to absorb.
func (s *store) nextHeight() (uint64, error) {
	data, err := s.db.Get(keyNext)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt sync height")
	}
	return binary.BigEndian.Uint64(data), nil
}

func setNextHeight(b storage.Batch, h uint64) error {
	return b.Put(keyNext, binary.BigEndian.AppendUint64(nil, h))
}

func (s *store) utxo(op types.Outpoint) (UTXO, bool, error) {
	var u UTXO
	ok, err := s.getJSON(key(prefixUTXO, op.Bytes()), &u)
	return u, ok, err
}

func (s *store) utxos() ([]UTXO, error) {
	var out []UTXO
	err := s.db.ForEach(prefixUTXO, func(_, v []byte) error {
		var u UTXO
		if err := json.Unmarshal(v, &u); err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	return out, err
}

func (s *store) locked() (map[types.Outpoint]types.Hash, error) {
	out := make(map[types.Outpoint]types.Hash)
	err := s.db.ForEach(prefixLock, func(k, v []byte) error {
		raw := k[len(prefixLock):]
		if len(raw) != types.HashSize+4 || len(v) != types.HashSize {
			return fmt.Errorf("corrupt lock entry")
		}
		var op types.Outpoint
		copy(op.TxID[:], raw[:types.HashSize])
		op.Index = binary.BigEndian.Uint32(raw[types.HashSize:])
		var id types.Hash
		copy(id[:], v)
		out[op] = id
		return nil
	})
	return out, err
}

func (s *store) record(id types.Hash) (*Record, bool, error) {
	var r Record
	ok, err := s.getJSON(key(prefixRecord, id[:]), &r)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &r, true, nil
}

func (s *store) records() ([]*Record, error) {
	var out []*Record
	err := s.db.ForEach(prefixRecord, func(_, v []byte) error {
		var r Record
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		out = append(out, &r)
		return nil
	})
	return out, err
}
