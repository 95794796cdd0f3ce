// Package ledger is the narrow view of the external ledger network the
// anchoring core consumes: UTXO listing, transaction fetch and broadcast.
package ledger

import "context"

// UnspentOutput is one spendable output of the funding address.
// LockingScript may be empty when the indexer does not report it; callers
// that need it take it from the source transaction.
type UnspentOutput struct {
	TxID          string
	OutputIndex   uint32
	Value         uint64
	LockingScript []byte
}

type Output struct {
	Value  uint64
	Script []byte
}

// Transaction is the decoded view of a confirmed transaction.
type Transaction struct {
	TxID    string
	Outputs []Output
}

// Clone returns a deep copy of tx.
func (tx *Transaction) Clone() *Transaction {
	out := &Transaction{TxID: tx.TxID, Outputs: make([]Output, len(tx.Outputs))}
	for i, o := range tx.Outputs {
		out.Outputs[i] = Output{Value: o.Value, Script: append([]byte(nil), o.Script...)}
	}
	return out
}

// Client is implemented by every ledger backend. All methods may fail with
// errs.ERR_NETWORK (retryable) or errs.ERR_UPSTREAM; missing transactions
// are errs.ERR_NOT_FOUND and rejected broadcasts errs.ERR_BROADCAST_REJECTED.
type Client interface {
	SpendableOutputs(ctx context.Context, address string) ([]UnspentOutput, error)
	RawTransaction(ctx context.Context, txid string) ([]byte, error)
	Transaction(ctx context.Context, txid string) (*Transaction, error)
	Broadcast(ctx context.Context, rawTx []byte) (string, error)
}
