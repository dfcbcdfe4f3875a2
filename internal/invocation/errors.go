// Package invocation turns contract calls into relayed transactions: a
// read-only dry run first, then a funded, signed and relayed submission.
package invocation

import "errors"

// Failure kinds. Each pipeline step fails with its own kind so callers can
// tell which layer refused.
var (
	ErrWalletUnavailable   = errors.New("wallet unavailable")
	ErrNotSynced           = errors.New("wallet not synced")
	ErrInvalidRequest      = errors.New("invalid invocation request")
	ErrDryRunRejected      = errors.New("contract rejected dry run")
	ErrDryRunFailed        = errors.New("dry run failed")
	ErrDryRunConsumed      = errors.New("dry run already submitted")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrIncompleteSignature = errors.New("incomplete signature")
	ErrRelayRejected       = errors.New("relay rejected")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrWalletUnavailable, "wallet_unavailable"},
	{ErrNotSynced, "not_synced"},
	{ErrInvalidRequest, "invalid_request"},
	{ErrDryRunRejected, "dry_run_rejected"},
	{ErrDryRunFailed, "dry_run_failed"},
	{ErrDryRunConsumed, "dry_run_consumed"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrIncompleteSignature, "incomplete_signature"},
	{ErrRelayRejected, "relay_rejected"},
}

// Kind names the failure kind of err for metrics and logs: "ok" for nil,
// "internal" for errors outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
