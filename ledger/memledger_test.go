package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"certanchor.dev/node/chain"
	"certanchor.dev/node/errs"
	"certanchor.dev/node/script"
)

func signedSpend(t *testing.T, k *chain.Key, prev chain.OutPoint, prevValue uint64, outs []chain.TxOut) *chain.Tx {
	t.Helper()
	tx := &chain.Tx{
		Version: chain.TxVersion,
		Inputs:  []chain.TxIn{{PrevOut: prev, Sequence: chain.SequenceFinal}},
		Outputs: outs,
	}
	lock := script.P2PKHLock(k.PubKeyHash())
	digest, err := chain.SighashDigest(tx, 0, lock, prevValue)
	require.NoError(t, err)
	sig := append(k.Sign(digest), byte(chain.SighashAllForkID))
	unlock, err := script.P2PKHUnlock(sig, k.PubKey())
	require.NoError(t, err)
	tx.Inputs[0].UnlockingScript = unlock
	return tx
}

func TestMemLedgerFundAndSpend(t *testing.T) {
	ctx := context.Background()
	m := NewMemLedger(chain.Testnet)
	k, err := chain.GenerateKey()
	require.NoError(t, err)
	addr := k.Address(chain.Testnet)

	op, err := m.Fund(addr, 10_000)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000), m.Balance(addr))

	utxos, err := m.SpendableOutputs(ctx, addr)
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	require.Equal(t, op.Hash.String(), utxos[0].TxID)

	data, err := script.DataScript([]byte("hello"))
	require.NoError(t, err)
	tx := signedSpend(t, k, op, 10_000, []chain.TxOut{
		{Value: 1, LockingScript: data},
		{Value: 9_000, LockingScript: script.P2PKHLock(k.PubKeyHash())},
	})
	id, err := m.Broadcast(ctx, tx.Marshal())
	require.NoError(t, err)
	require.Equal(t, tx.TxHash().String(), id)

	// data output is not spendable; change is.
	require.Equal(t, uint64(9_000), m.Balance(addr))

	view, err := m.Transaction(ctx, id)
	require.NoError(t, err)
	require.Len(t, view.Outputs, 2)
	require.Equal(t, data, view.Outputs[0].Script)
	require.Equal(t, 1, m.TransactionCalls())

	raw, err := m.RawTransaction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, tx.Marshal(), raw)

	// double spend.
	_, err = m.Broadcast(ctx, tx.Marshal())
	require.True(t, errs.Is(err, errs.ERR_BROADCAST_REJECTED), "got %v", err)
}

func TestMemLedgerRejectsBadSpends(t *testing.T) {
	ctx := context.Background()
	m := NewMemLedger(chain.Testnet)
	k, _ := chain.GenerateKey()
	other, _ := chain.GenerateKey()
	op, err := m.Fund(k.Address(chain.Testnet), 5_000)
	require.NoError(t, err)
	lock := script.P2PKHLock(k.PubKeyHash())

	cases := []struct {
		name string
		tx   *chain.Tx
	}{
		{"wrong_key", signedSpend(t, other, op, 5_000, []chain.TxOut{{Value: 100, LockingScript: lock}})},
		{"wrong_value_committed", signedSpend(t, k, op, 4_000, []chain.TxOut{{Value: 100, LockingScript: lock}})},
		{"overspend", signedSpend(t, k, op, 5_000, []chain.TxOut{{Value: 5_001, LockingScript: lock}})},
		{"missing_outpoint", signedSpend(t, k, chain.OutPoint{Index: 7}, 5_000, []chain.TxOut{{Value: 1, LockingScript: lock}})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Broadcast(ctx, tc.tx.Marshal())
			require.True(t, errs.Is(err, errs.ERR_BROADCAST_REJECTED), "got %v", err)
		})
	}
	require.Equal(t, uint64(5_000), m.Balance(k.Address(chain.Testnet)))
}

func TestMemLedgerHookAndNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemLedger(chain.Testnet)
	k, _ := chain.GenerateKey()
	op, _ := m.Fund(k.Address(chain.Testnet), 5_000)

	m.SetBroadcastHook(func(*chain.Tx) error {
		return errs.New(errs.ERR_NETWORK, "connection reset")
	})
	tx := signedSpend(t, k, op, 5_000, []chain.TxOut{{Value: 10, LockingScript: script.P2PKHLock(k.PubKeyHash())}})
	_, err := m.Broadcast(ctx, tx.Marshal())
	require.True(t, errs.Is(err, errs.ERR_NETWORK))

	_, err = m.Transaction(ctx, "00")
	require.True(t, errs.Is(err, errs.ERR_NOT_FOUND))
	_, err = m.RawTransaction(ctx, "00")
	require.True(t, errs.Is(err, errs.ERR_NOT_FOUND))
}
