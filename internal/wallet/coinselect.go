package wallet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
)

// Coin selection errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoUTXOs           = errors.New("no UTXOs available")
)

// UTXO is an unspent output owned by the wallet.
type UTXO struct {
	Outpoint types.Outpoint `json:"outpoint"`
	Value    uint64         `json:"value"`
	Script   types.Script   `json:"script"`
	Height   uint64         `json:"height"`
}

// CoinSelection holds the result of coin selection.
type CoinSelection struct {
	Inputs []UTXO
	Total  uint64
	Change uint64
}

// SelectCoins funds target from utxos. It compares the smallest single
// UTXO covering the target with a largest-first accumulation and keeps
// whichever leaves less change.
func SelectCoins(utxos []UTXO, target uint64) (*CoinSelection, error) {
	if target == 0 {
		return nil, fmt.Errorf("target must be positive")
	}
	candidates := make([]UTXO, 0, len(utxos))
	var available uint64
	for _, u := range utxos {
		if u.Value > 0 {
			candidates = append(candidates, u)
			available += u.Value
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoUTXOs
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Value < candidates[j].Value
	})

	var best *CoinSelection
	for _, u := range candidates {
		if u.Value >= target {
			best = &CoinSelection{Inputs: []UTXO{u}, Total: u.Value, Change: u.Value - target}
			break
		}
	}

	var picked []UTXO
	var total uint64
	for i := len(candidates) - 1; i >= 0; i-- {
		picked = append(picked, candidates[i])
		total += candidates[i].Value
		if total >= target {
			if best == nil || total-target < best.Change {
				best = &CoinSelection{Inputs: picked, Total: total, Change: total - target}
			}
			break
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, available, target)
	}
	return best, nil
}
