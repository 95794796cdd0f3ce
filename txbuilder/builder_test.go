package txbuilder

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/stretchr/testify/require"

	"certanchor.dev/node/chain"
	"certanchor.dev/node/errs"
	"certanchor.dev/node/ledger"
	"certanchor.dev/node/script"
)

func TestEstimateFee(t *testing.T) {
	cases := []struct {
		size int
		rate FeeRate
		want uint64
	}{
		{0, 500, 0},
		{1, 500, 1},
		{215, 500, 108},
		{250, 500, 125},
		{1000, 1000, 1000},
		{1001, 1000, 1001},
		{3, 1, 1},
		{400, 0, 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, EstimateFee(tc.size, tc.rate), "size=%d rate=%d", tc.size, tc.rate)
	}
}

func TestSelect(t *testing.T) {
	_, err := Select(nil)
	require.True(t, errs.Is(err, errs.ERR_NO_FUNDS))

	utxos := []ledger.UnspentOutput{
		{TxID: "a", Value: 10},
		{TxID: "b", Value: 30},
		{TxID: "c", Value: 30},
		{TxID: "d", Value: 5},
	}
	got, err := Select(utxos)
	require.NoError(t, err)
	require.Equal(t, "b", got.TxID)
}

type fixture struct {
	ledger *ledger.MemLedger
	key    *chain.Key
	src    Source
}

func newFixture(t *testing.T, value uint64) fixture {
	t.Helper()
	k, err := chain.GenerateKey()
	require.NoError(t, err)
	return newFixtureWithKey(t, k, value)
}

func newFixtureWithKey(t *testing.T, k *chain.Key, value uint64) fixture {
	t.Helper()
	m := ledger.NewMemLedger(chain.Testnet)
	addr := k.Address(chain.Testnet)
	_, err := m.Fund(addr, value)
	require.NoError(t, err)

	utxos, err := m.SpendableOutputs(context.Background(), addr)
	require.NoError(t, err)
	u, err := Select(utxos)
	require.NoError(t, err)
	raw, err := m.RawTransaction(context.Background(), u.TxID)
	require.NoError(t, err)
	src, err := ResolveSource(u, raw)
	require.NoError(t, err)
	return fixture{ledger: m, key: k, src: src}
}

func TestBuilderHappyPath(t *testing.T) {
	f := newFixture(t, 100_000)
	blob := []byte("0123456789")

	b := New(f.key, DefaultFeeRate)
	require.Equal(t, StateEmpty, b.State())
	require.NoError(t, b.BindInput(f.src))
	require.NoError(t, b.BindOutputs(blob))
	require.Equal(t, 215, b.EstimatedSignedSize())

	fee, err := b.ApplyFee()
	require.NoError(t, err)
	require.Equal(t, uint64(108), fee)
	require.Equal(t, StateFeeApplied, b.State())

	tx := b.Tx()
	require.Len(t, tx.Outputs, 2)
	change, data := tx.Outputs[0], tx.Outputs[1]
	require.Equal(t, DataOutputValue, data.Value)
	require.Equal(t, f.src.Value, change.Value+data.Value+fee)
	_, isP2PKH := script.P2PKHHash(change.LockingScript)
	require.True(t, isP2PKH)
	require.True(t, script.IsDataScript(data.LockingScript))

	require.NoError(t, b.Sign())
	raw, err := b.Raw()
	require.NoError(t, err)
	require.LessOrEqual(t, len(raw), b.EstimatedSignedSize())

	want, err := b.TxID()
	require.NoError(t, err)
	id, err := b.Broadcast(context.Background(), f.ledger)
	require.NoError(t, err)
	require.Equal(t, want, id)
	require.Equal(t, StateBroadcast, b.State())

	// change is spendable on the ledger
	require.Equal(t, change.Value, f.ledger.Balance(f.key.Address(chain.Testnet)))
}

func TestBuilderFeeCoversUncompressedKey(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	// no 0x01 suffix: uncompressed public key
	k, err := chain.DecodeWIF(base58.CheckEncode(priv.Serialize(), 0xef), chain.Testnet)
	require.NoError(t, err)
	require.Len(t, k.PubKey(), 65)

	const rate FeeRate = 10_000
	f := newFixtureWithKey(t, k, 100_000)
	b := New(f.key, rate)
	require.NoError(t, b.BindInput(f.src))
	require.NoError(t, b.BindOutputs([]byte("0123456789")))
	require.Equal(t, 247, b.EstimatedSignedSize())
	fee, err := b.ApplyFee()
	require.NoError(t, err)
	require.NoError(t, b.Sign())

	raw, err := b.Raw()
	require.NoError(t, err)
	require.LessOrEqual(t, len(raw), b.EstimatedSignedSize())
	require.GreaterOrEqual(t, fee*1000, uint64(len(raw))*uint64(rate))

	_, err = b.Broadcast(context.Background(), f.ledger)
	require.NoError(t, err)
}

func TestBuilderOutOfOrder(t *testing.T) {
	f := newFixture(t, 10_000)
	b := New(f.key, DefaultFeeRate)

	require.True(t, errs.Is(b.BindOutputs([]byte("x")), errs.ERR_INVALID_STATE))
	_, err := b.ApplyFee()
	require.True(t, errs.Is(err, errs.ERR_INVALID_STATE))
	require.True(t, errs.Is(b.Sign(), errs.ERR_INVALID_STATE))
	_, err = b.Broadcast(context.Background(), f.ledger)
	require.True(t, errs.Is(err, errs.ERR_INVALID_STATE))
	_, err = b.Raw()
	require.True(t, errs.Is(err, errs.ERR_INVALID_STATE))

	require.NoError(t, b.BindInput(f.src))
	require.True(t, errs.Is(b.BindInput(f.src), errs.ERR_INVALID_STATE))
	require.Equal(t, StateInputsBound, b.State())
}

func TestBuilderInsufficientFunds(t *testing.T) {
	f := newFixture(t, 50)
	b := New(f.key, DefaultFeeRate)
	require.NoError(t, b.BindInput(f.src))
	require.NoError(t, b.BindOutputs([]byte("payload")))
	_, err := b.ApplyFee()
	require.True(t, errs.Is(err, errs.ERR_INSUFFICIENT_FUNDS), "got %v", err)
	require.Equal(t, StateOutputsBound, b.State())
}

func TestBuilderRejectsForeignSource(t *testing.T) {
	f := newFixture(t, 10_000)
	other, err := chain.GenerateKey()
	require.NoError(t, err)
	b := New(other, DefaultFeeRate)
	require.True(t, errs.Is(b.BindInput(f.src), errs.ERR_SIGNING))
	require.Equal(t, StateEmpty, b.State())
}

func TestBroadcastRejected(t *testing.T) {
	f := newFixture(t, 10_000)
	f.ledger.SetBroadcastHook(func(*chain.Tx) error {
		return errs.New(errs.ERR_BROADCAST_REJECTED, "258: txn-mempool-conflict")
	})
	b := New(f.key, DefaultFeeRate)
	require.NoError(t, b.BindInput(f.src))
	require.NoError(t, b.BindOutputs([]byte("payload")))
	_, err := b.ApplyFee()
	require.NoError(t, err)
	require.NoError(t, b.Sign())
	_, err = b.Broadcast(context.Background(), f.ledger)
	require.True(t, errs.Is(err, errs.ERR_BROADCAST_REJECTED))
	require.Contains(t, err.Error(), "txn-mempool-conflict")
	require.Equal(t, StateSigned, b.State())
}

func TestResolveSourceChecksListing(t *testing.T) {
	f := newFixture(t, 10_000)
	raw, err := f.ledger.RawTransaction(context.Background(), f.src.OutPoint.Hash.String())
	require.NoError(t, err)

	u := ledger.UnspentOutput{TxID: f.src.OutPoint.Hash.String(), OutputIndex: 0, Value: 9_999}
	_, err = ResolveSource(u, raw)
	require.True(t, errs.Is(err, errs.ERR_UPSTREAM))

	u.Value = 10_000
	u.OutputIndex = 4
	_, err = ResolveSource(u, raw)
	require.True(t, errs.Is(err, errs.ERR_UPSTREAM))

	u.OutputIndex = 0
	u.TxID = chain.OutPoint{}.Hash.String()
	_, err = ResolveSource(u, raw)
	require.True(t, errs.Is(err, errs.ERR_UPSTREAM))
}
