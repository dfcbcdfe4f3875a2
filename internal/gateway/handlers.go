package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Klingon-tech/klingnet-partnership/internal/invocation"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/gorilla/mux"
)

// HomeText is the body of GET /.
const HomeText = "REST API to interact with smart contract"

// Contract commands.
const (
	CommandInfo           = "info"
	CommandCreate         = "create"
	CommandSetFlatFees    = "set_flatfees"
	CommandSetWebpage     = "set_webpage"
	CommandSetPartnership = "set_partnership"
	CommandDelete         = "delete"
	CommandTransfer       = "transfer"
)

// noPartners stands in for an empty partner list.
const noPartners = "none"

// ErrorResponse is the body of every failed call.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// TxResponse carries a relayed transaction id or query results.
type TxResponse struct {
	Tx interface{} `json:"tx"`
}

// HeightResponse is the body of GET /height.
type HeightResponse struct {
	Height       uint64 `json:"height"`
	WalletHeight uint64 `json:"wallet_height"`
	Synced       bool   `json:"synced"`
}

// CreateRequest is the body of POST /partnership. Address and currency
// must be present; empty partner lists become "none" and the webpage may
// be empty.
type CreateRequest struct {
	Address            *string `json:"address"`
	Currency           *string `json:"currency"`
	FlatFeesPartners   string  `json:"flatfees_partners"`
	PercentagePartners string  `json:"percentage_partners"`
	Webpage            string  `json:"webpage"`
}

func (c CreateRequest) validate() error {
	if c.Address == nil {
		return fmt.Errorf("missing field %q", "address")
	}
	if c.Currency == nil {
		return fmt.Errorf("missing field %q", "currency")
	}
	return nil
}

// args is the positional argument list of the create command. The
// address identifies the caller and is not passed to the contract.
func (c CreateRequest) args() []string {
	return []string{*c.Currency, orNone(c.FlatFeesPartners), orNone(c.PercentagePartners), c.Webpage}
}

func orNone(partners string) string {
	if partners == "" {
		return noPartners
	}
	return partners
}

// UpdateRequest is the body of PUT /partnership/{address}. Property is
// one of "flatfees", "webpage" or "partnership".
type UpdateRequest struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

var updateCommands = map[string]string{
	"flatfees":    CommandSetFlatFees,
	"webpage":     CommandSetWebpage,
	"partnership": CommandSetPartnership,
}

// command maps the property to its setter.
func (u UpdateRequest) command() (string, error) {
	cmd, ok := updateCommands[u.Property]
	if !ok {
		return "", fmt.Errorf("unknown property %q (want flatfees, webpage or partnership)", u.Property)
	}
	return cmd, nil
}

// TransferRequest is the body of POST /partnership/{address}/transfer.
type TransferRequest struct {
	To string `json:"to"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: true, Message: message})
}

// writeFailure reports a core failure as data: HTTP 200 with an error body.
func writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	l := requestLogger(r)
	l.Warn().Err(err).Str("op", op).Str("kind", invocation.Kind(err)).Msg("Request failed")
	writeError(w, http.StatusOK, err.Error())
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, HomeText)
}

func (s *Server) handlePartnership(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	results, err := s.deps.Contract.Query(r.Context(), s.deps.Contract.NewRequest(CommandInfo, address))
	if err != nil {
		writeFailure(w, r, CommandInfo, err)
		return
	}
	writeJSON(w, http.StatusOK, TxResponse{Tx: results})
}

func (s *Server) handleCreatePartnership(w http.ResponseWriter, r *http.Request) {
	var body CreateRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l := requestLogger(r)
	l.Info().Str("address", *body.Address).Str("currency", *body.Currency).Msg("Creating partnership")
	s.invoke(w, r, CommandCreate, body.args()...)
}

func (s *Server) handleUpdatePartnership(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	var body UpdateRequest
	if !decodeBody(w, r, &body) {
		return
	}
	cmd, err := body.command()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.invoke(w, r, cmd, address, body.Value)
}

func (s *Server) handleDeletePartnership(w http.ResponseWriter, r *http.Request) {
	s.invoke(w, r, CommandDelete, mux.Vars(r)["address"])
}

func (s *Server) handleTransferPartnership(w http.ResponseWriter, r *http.Request) {
	from := mux.Vars(r)["address"]
	var body TransferRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.To == "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing field %q", "to"))
		return
	}
	s.invoke(w, r, CommandTransfer, from, body.To)
}

// decodeBody reads a JSON body into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// invoke dry-runs command and relays the result, answering with the
// transaction id.
func (s *Server) invoke(w http.ResponseWriter, r *http.Request, command string, args ...string) {
	dr, err := s.deps.Contract.Build(r.Context(), s.deps.Contract.NewRequest(command, args...))
	if err != nil {
		writeFailure(w, r, command, err)
		return
	}
	id, err := s.deps.Pipeline.Submit(r.Context(), dr)
	if err != nil {
		writeFailure(w, r, command, err)
		return
	}
	writeJSON(w, http.StatusOK, TxResponse{Tx: id})
}

var errTxNotFound = errors.New("transaction not found")

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := types.HexToHash(raw)
	if err != nil {
		writeFailure(w, r, "transaction", fmt.Errorf("invalid transaction id %q: %w", raw, err))
		return
	}

	info, err := s.deps.Ledger.GetTransaction(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "transaction", err)
		return
	}
	if info == nil {
		writeFailure(w, r, "transaction", errTxNotFound)
		return
	}
	unspents, err := s.deps.Ledger.GetUnspent(r.Context(), id)
	if err != nil {
		writeFailure(w, r, "transaction", err)
		return
	}

	// The transaction's own fields sit at the top level next to height
	// and unspents.
	data, err := json.Marshal(info.Transaction)
	if err != nil {
		writeFailure(w, r, "transaction", err)
		return
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(data, &out); err != nil {
		writeFailure(w, r, "transaction", err)
		return
	}
	out["txid"] = info.Transaction.Hash().String()
	out["height"] = info.Height
	out["unspents"] = unspents
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHeight(w http.ResponseWriter, r *http.Request) {
	h, err := s.deps.Ledger.Height(r.Context())
	if err != nil {
		writeFailure(w, r, "height", err)
		return
	}
	writeJSON(w, http.StatusOK, HeightResponse{
		Height:       h,
		WalletHeight: s.deps.Wallet.Height(),
		Synced:       s.deps.Wallet.IsSynced(),
	})
}
