package ledger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"certanchor.dev/node/errs"
)

func newTestWoC(t *testing.T, h http.Handler) *WhatsOnChain {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	w, err := NewWhatsOnChain(WhatsOnChainConfig{
		BaseURL: srv.URL,
		Timeout: time.Second,
		Retries: 2,
		Backoff: time.Millisecond,
	})
	require.NoError(t, err)
	return w
}

func TestWhatsOnChainSpendableOutputs(t *testing.T) {
	w := newTestWoC(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/address/mxyz/unspent", r.URL.Path)
		_, _ = io.WriteString(rw, `[{"height":10,"tx_pos":1,"tx_hash":"aa","value":1500},{"height":0,"tx_pos":0,"tx_hash":"bb","value":7}]`)
	}))
	utxos, err := w.SpendableOutputs(context.Background(), "mxyz")
	require.NoError(t, err)
	require.Equal(t, []UnspentOutput{
		{TxID: "aa", OutputIndex: 1, Value: 1500},
		{TxID: "bb", OutputIndex: 0, Value: 7},
	}, utxos)
}

func TestWhatsOnChainTransactionConvertsAndCaches(t *testing.T) {
	var calls int32
	w := newTestWoC(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, "/tx/hash/abcd", r.URL.Path)
		_, _ = io.WriteString(rw, `{"txid":"abcd","vout":[{"value":1e-8,"n":0,"scriptPubKey":{"hex":"006a0568656c6c6f"}},{"value":0.00012345,"n":1,"scriptPubKey":{"hex":"76a9"}}]}`)
	}))
	for i := 0; i < 2; i++ {
		tx, err := w.Transaction(context.Background(), "abcd")
		require.NoError(t, err)
		require.Equal(t, "abcd", tx.TxID)
		require.Equal(t, uint64(1), tx.Outputs[0].Value)
		require.Equal(t, uint64(12345), tx.Outputs[1].Value)
		require.Equal(t, []byte{0x00, 0x6a, 0x05, 'h', 'e', 'l', 'l', 'o'}, tx.Outputs[0].Script)

		// callers own the returned view
		tx.Outputs[0].Script[0] = 0xff
		tx.Outputs = nil
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWhatsOnChainTransactionRejectsMismatchedID(t *testing.T) {
	w := newTestWoC(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(rw, `{"txid":"ffff","vout":[{"value":1e-8,"n":0,"scriptPubKey":{"hex":"006a"}}]}`)
	}))
	_, err := w.Transaction(context.Background(), "abcd")
	require.True(t, errs.Is(err, errs.ERR_UPSTREAM), "got %v", err)

	// not cached
	_, err = w.Transaction(context.Background(), "abcd")
	require.True(t, errs.Is(err, errs.ERR_UPSTREAM), "got %v", err)
}

func TestWhatsOnChainRawTransaction(t *testing.T) {
	w := newTestWoC(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(rw, "0100ff\n")
	}))
	raw, err := w.RawTransaction(context.Background(), "id")
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x00, 0xff}, raw)
}

func TestWhatsOnChainErrorMapping(t *testing.T) {
	w := newTestWoC(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tx/hash/missing":
			http.Error(rw, "unknown", http.StatusNotFound)
		default:
			http.Error(rw, "boom", http.StatusInternalServerError)
		}
	}))
	_, err := w.Transaction(context.Background(), "missing")
	require.True(t, errs.Is(err, errs.ERR_NOT_FOUND), "got %v", err)

	_, err = w.Transaction(context.Background(), "other")
	require.True(t, errs.Is(err, errs.ERR_UPSTREAM), "got %v", err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, http.StatusInternalServerError, e.Status)
	require.Contains(t, e.Body, "boom")
}

func TestWhatsOnChainBroadcast(t *testing.T) {
	w := newTestWoC(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tx/raw", r.URL.Path)
		var body wocBroadcast
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.TxHex != "beef" {
			http.Error(rw, "257: txn-already-known", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(rw, `"c0ffee"`)
	}))
	id, err := w.Broadcast(context.Background(), []byte{0xbe, 0xef})
	require.NoError(t, err)
	require.Equal(t, "c0ffee", id)

	_, err = w.Broadcast(context.Background(), []byte{0x01})
	require.True(t, errs.Is(err, errs.ERR_BROADCAST_REJECTED), "got %v", err)
	require.Contains(t, err.Error(), "txn-already-known")
}

func TestWhatsOnChainRetriesNetworkErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			hj, ok := rw.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		_, _ = io.WriteString(rw, `[]`)
	}))
	defer srv.Close()

	w, err := NewWhatsOnChain(WhatsOnChainConfig{BaseURL: srv.URL, Retries: 3, Backoff: time.Millisecond})
	require.NoError(t, err)
	utxos, err := w.SpendableOutputs(context.Background(), "a")
	require.NoError(t, err)
	require.Empty(t, utxos)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWhatsOnChainNetworkErrorAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	w, err := NewWhatsOnChain(WhatsOnChainConfig{BaseURL: url, Retries: 1, Backoff: time.Millisecond})
	require.NoError(t, err)
	_, err = w.SpendableOutputs(context.Background(), "a")
	require.True(t, errs.Is(err, errs.ERR_NETWORK), "got %v", err)
}
