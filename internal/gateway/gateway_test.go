package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Klingon-tech/klingnet-partnership/internal/invocation"
	"github.com/Klingon-tech/klingnet-partnership/internal/metrics"
	"github.com/Klingon-tech/klingnet-partnership/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-partnership/pkg/tx"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/stretchr/testify/require"
)

const testToken = "s3cret"

type fakeContract struct {
	mu        sync.Mutex
	lastReq   invocation.Request
	buildErr  error
	queryErr  error
	query     []string
	submitErr error
	submitID  string
	builds    int
	submits   int
	panicky   bool
}

func (f *fakeContract) NewRequest(command string, args ...string) invocation.Request {
	return invocation.Request{Command: command, Args: args}
}

func (f *fakeContract) Build(_ context.Context, req invocation.Request) (*invocation.DryRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicky {
		panic("contract exploded")
	}
	f.builds++
	f.lastReq = req
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return &invocation.DryRun{Request: req}, nil
}

func (f *fakeContract) Query(_ context.Context, req invocation.Request) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	return f.query, f.queryErr
}

func (f *fakeContract) Submit(_ context.Context, _ *invocation.DryRun) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return f.submitID, f.submitErr
}

type fakeLedger struct {
	txs      map[types.Hash]*rpcclient.TxInfo
	unspents map[types.Hash][]rpcclient.Unspent
	height   uint64
	err      error
}

func (l *fakeLedger) Height(context.Context) (uint64, error) { return l.height, l.err }

func (l *fakeLedger) GetTransaction(_ context.Context, id types.Hash) (*rpcclient.TxInfo, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.txs[id], nil
}

func (l *fakeLedger) GetUnspent(_ context.Context, id types.Hash) ([]rpcclient.Unspent, error) {
	return l.unspents[id], nil
}

type fakeWallet struct{}

func (fakeWallet) Height() uint64 { return 41 }
func (fakeWallet) IsSynced() bool { return true }

func newTestServer(t *testing.T, c *fakeContract, l *fakeLedger, cfg Config) *Server {
	t.Helper()
	if cfg.Token == "" {
		cfg.Token = testToken
	}
	if l == nil {
		l = &fakeLedger{}
	}
	return New(cfg, Deps{Contract: c, Pipeline: c, Ledger: l, Wallet: fakeWallet{}, Metrics: metrics.New()})
}

func do(t *testing.T, s *Server, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestHome_NoAuth(t *testing.T) {
	s := newTestServer(t, &fakeContract{}, nil, Config{})
	rec := do(t, s, http.MethodGet, "/", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, HomeText, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestAuth_RejectedBeforeCoreLogic(t *testing.T) {
	c := &fakeContract{}
	s := newTestServer(t, c, nil, Config{})

	for _, hdr := range []string{"", "Bearer wrong", testToken, "Basic " + testToken} {
		req := httptest.NewRequest(http.MethodPost, "/partnership", strings.NewReader(`{}`))
		if hdr != "" {
			req.Header.Set("Authorization", hdr)
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code, "header %q", hdr)
		require.True(t, decodeError(t, rec).Error)
	}
	require.Zero(t, c.builds)
}

func TestCreatePartnership_ReturnsTxID(t *testing.T) {
	id := strings.Repeat("ab", 32)
	c := &fakeContract{submitID: id}
	s := newTestServer(t, c, nil, Config{})

	body := `{"address":"AK2nJJpJr6o664CWJKi1QRXjqeic2zRp8y","currency":"EUR","flatfees_partners":"none","percentage_partners":"none","webpage":"https://example.org"}`
	rec := do(t, s, http.MethodPost, "/partnership", body, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var out TxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, id, out.Tx)
	require.Equal(t, CommandCreate, c.lastReq.Command)
	require.Equal(t, []string{"EUR", "none", "none", "https://example.org"}, c.lastReq.Args)
	require.Equal(t, 1, c.submits)
}

func TestCreatePartnership_BadBody(t *testing.T) {
	c := &fakeContract{}
	s := newTestServer(t, c, nil, Config{})

	rec := do(t, s, http.MethodPost, "/partnership", `{not json`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/partnership", `{"address":"x","flatfees_partners":"a"}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeError(t, rec).Message, "currency")

	rec = do(t, s, http.MethodPost, "/partnership", `{"currency":"EUR"}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeError(t, rec).Message, "address")
	require.Zero(t, c.builds)
}

func TestCreatePartnership_EmptyPartnersBecomeNone(t *testing.T) {
	c := &fakeContract{submitID: strings.Repeat("cd", 32)}
	s := newTestServer(t, c, nil, Config{})

	bodies := []string{
		`{"address":"AK2nJJpJr6o664CWJKi1QRXjqeic2zRp8y","currency":"EUR","flatfees_partners":"","percentage_partners":"","webpage":""}`,
		`{"address":"AK2nJJpJr6o664CWJKi1QRXjqeic2zRp8y","currency":"EUR"}`,
	}
	for _, body := range bodies {
		rec := do(t, s, http.MethodPost, "/partnership", body, true)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, CommandCreate, c.lastReq.Command)
		require.Equal(t, []string{"EUR", "none", "none", ""}, c.lastReq.Args)
	}
	require.Equal(t, 2, c.submits)
}

func TestUpdatePartnership_Commands(t *testing.T) {
	const addr = "AK2nJJpJr6o664CWJKi1QRXjqeic2zRp8y"
	tests := []struct {
		property string
		command  string
	}{
		{"flatfees", CommandSetFlatFees},
		{"webpage", CommandSetWebpage},
		{"partnership", CommandSetPartnership},
	}
	for _, tt := range tests {
		t.Run(tt.property, func(t *testing.T) {
			c := &fakeContract{submitID: strings.Repeat("ef", 32)}
			s := newTestServer(t, c, nil, Config{})

			body := fmt.Sprintf(`{"property":%q,"value":"new"}`, tt.property)
			rec := do(t, s, http.MethodPut, "/partnership/"+addr, body, true)
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, tt.command, c.lastReq.Command)
			require.Equal(t, []string{addr, "new"}, c.lastReq.Args)
			require.Equal(t, 1, c.submits)
		})
	}

	c := &fakeContract{}
	s := newTestServer(t, c, nil, Config{})
	rec := do(t, s, http.MethodPut, "/partnership/"+addr, `{"property":"colour","value":"x"}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, c.builds)
}

func TestDeletePartnership(t *testing.T) {
	const addr = "AK2nJJpJr6o664CWJKi1QRXjqeic2zRp8y"
	c := &fakeContract{submitID: strings.Repeat("01", 32)}
	s := newTestServer(t, c, nil, Config{})

	rec := do(t, s, http.MethodDelete, "/partnership/"+addr, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, CommandDelete, c.lastReq.Command)
	require.Equal(t, []string{addr}, c.lastReq.Args)
	require.Equal(t, 1, c.submits)

	rec = do(t, s, http.MethodDelete, "/partnership/"+addr, "", false)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTransferPartnership(t *testing.T) {
	const from, to = "AK2nJJpJr6o664CWJKi1QRXjqeic2zRp8y", "AXjaFSP23Jkbe6Pk9pPGT6NBDs1HVdqaXK"
	c := &fakeContract{submitID: strings.Repeat("02", 32)}
	s := newTestServer(t, c, nil, Config{})

	rec := do(t, s, http.MethodPost, "/partnership/"+from+"/transfer", fmt.Sprintf(`{"to":%q}`, to), true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, CommandTransfer, c.lastReq.Command)
	require.Equal(t, []string{from, to}, c.lastReq.Args)

	rec = do(t, s, http.MethodPost, "/partnership/"+from+"/transfer", `{}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 1, c.builds)
}

func TestPartnershipCommands_CoreFailureIsData(t *testing.T) {
	c := &fakeContract{submitErr: invocation.ErrInsufficientFunds}
	s := newTestServer(t, c, nil, Config{})

	rec := do(t, s, http.MethodDelete, "/partnership/AK2nJJpJr6o664CWJKi1QRXjqeic2zRp8y", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	e := decodeError(t, rec)
	require.True(t, e.Error)
	require.Contains(t, e.Message, invocation.ErrInsufficientFunds.Error())
}

func TestCreatePartnership_CoreFailuresAreData(t *testing.T) {
	body := `{"address":"a","currency":"EUR","flatfees_partners":"none","percentage_partners":"none","webpage":"w"}`
	tests := []struct {
		name      string
		buildErr  error
		submitErr error
		submits   int
	}{
		{"not synced", invocation.ErrNotSynced, nil, 0},
		{"dry run rejected", invocation.ErrDryRunRejected, nil, 0},
		{"insufficient funds", nil, invocation.ErrInsufficientFunds, 1},
		{"incomplete signature", nil, invocation.ErrIncompleteSignature, 1},
		{"relay rejected", nil, fmt.Errorf("%w: double spend", invocation.ErrRelayRejected), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeContract{buildErr: tt.buildErr, submitErr: tt.submitErr}
			s := newTestServer(t, c, nil, Config{})
			rec := do(t, s, http.MethodPost, "/partnership", body, true)
			require.Equal(t, http.StatusOK, rec.Code)
			e := decodeError(t, rec)
			require.True(t, e.Error)
			want := tt.buildErr
			if want == nil {
				want = tt.submitErr
			}
			require.Equal(t, want.Error(), e.Message)
			require.Equal(t, tt.submits, c.submits)
		})
	}
}

func TestPartnershipQuery(t *testing.T) {
	c := &fakeContract{query: []string{"EUR", "none"}}
	s := newTestServer(t, c, nil, Config{})

	rec := do(t, s, http.MethodGet, "/partnership/AK2nJJpJr6o664CWJKi1QRXjqeic2zRp8y", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"tx":["EUR","none"]}`, rec.Body.String())
	require.Equal(t, CommandInfo, c.lastReq.Command)
	require.Equal(t, []string{"AK2nJJpJr6o664CWJKi1QRXjqeic2zRp8y"}, c.lastReq.Args)

	c.queryErr = invocation.ErrDryRunRejected
	rec = do(t, s, http.MethodGet, "/partnership/x", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeError(t, rec).Error)
}

func TestTransaction_NotFoundIsData(t *testing.T) {
	s := newTestServer(t, &fakeContract{}, &fakeLedger{}, Config{})

	rec := do(t, s, http.MethodGet, "/transaction/"+strings.Repeat("cd", 32), "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ErrorResponse{Error: true, Message: "transaction not found"}, decodeError(t, rec))

	rec = do(t, s, http.MethodGet, "/transaction/nothex", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeError(t, rec).Error)
}

func TestTransaction_Found(t *testing.T) {
	addr := types.Address{0x07}
	txn := tx.NewBuilder(tx.TypeInvocation).
		AddInput(types.Outpoint{TxID: types.Hash{0x01}}).
		AddOutput(900, types.P2PKHScript(addr)).
		SetScript([]byte{0x51}).
		Build()
	id := txn.Hash()
	l := &fakeLedger{
		txs:      map[types.Hash]*rpcclient.TxInfo{id: {Transaction: txn, Height: 12}},
		unspents: map[types.Hash][]rpcclient.Unspent{id: {{TxID: id.String(), Index: 0, Value: 900}}},
	}
	s := newTestServer(t, &fakeContract{}, l, Config{})

	rec := do(t, s, http.MethodGet, "/transaction/"+id.String(), "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, id.String(), out["txid"])
	require.Equal(t, 12.0, out["height"])
	require.Len(t, out["unspents"], 1)
	require.Contains(t, out, "outputs")
}

func TestHeight(t *testing.T) {
	s := newTestServer(t, &fakeContract{}, &fakeLedger{height: 42}, Config{})
	rec := do(t, s, http.MethodGet, "/height", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"height":42,"wallet_height":41,"synced":true}`, rec.Body.String())

	s = newTestServer(t, &fakeContract{}, &fakeLedger{err: errors.New("node down")}, Config{})
	rec = do(t, s, http.MethodGet, "/height", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "node down", decodeError(t, rec).Message)
}

func TestPanicRecovered(t *testing.T) {
	s := newTestServer(t, &fakeContract{panicky: true}, nil, Config{})
	body := `{"address":"a","currency":"EUR","flatfees_partners":"none","percentage_partners":"none","webpage":"w"}`
	rec := do(t, s, http.MethodPost, "/partnership", body, true)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, decodeError(t, rec).Error)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &fakeContract{}, &fakeLedger{}, Config{RateLimit: 0.001, RateBurst: 2})
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/height", "", true).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/height", "", true).Code)
	require.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, "/height", "", true).Code)
}

func TestIPAllowlist(t *testing.T) {
	s := newTestServer(t, &fakeContract{}, &fakeLedger{}, Config{AllowedIPs: []string{"10.0.0.0/8"}})
	// httptest requests come from 192.0.2.1.
	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/", "", false).Code)

	s = newTestServer(t, &fakeContract{}, &fakeLedger{}, Config{AllowedIPs: []string{"192.0.2.1"}})
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/", "", false).Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeContract{}, nil, Config{CORSOrigins: []string{"https://app.example.org"}})
	req := httptest.NewRequest(http.MethodOptions, "/partnership", nil)
	req.Header.Set("Origin", "https://app.example.org")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t, &fakeContract{}, nil, Config{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "1b4e28ba-2fa1-11d2-883f-0016d3cca427", rec.Header().Get(RequestIDHeader))
}

func TestMetricsRequiresAuth(t *testing.T) {
	s := newTestServer(t, &fakeContract{}, nil, Config{})
	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/metrics", "", false).Code)

	do(t, s, http.MethodGet, "/", "", false)
	rec := do(t, s, http.MethodGet, "/metrics", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `partnership_http_requests_total{code="200",route="/"} 1`)
}

func TestUnknownRouteJSON(t *testing.T) {
	s := newTestServer(t, &fakeContract{}, nil, Config{})
	rec := do(t, s, http.MethodGet, "/nope", "", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.True(t, decodeError(t, rec).Error)
}

func TestStartStop(t *testing.T) {
	s := newTestServer(t, &fakeContract{}, nil, Config{Addr: "127.0.0.1:0"})
	require.NoError(t, s.Start())
	defer s.Stop()

	resp, err := http.Get("http://" + s.Addr() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
