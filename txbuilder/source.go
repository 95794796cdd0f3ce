package txbuilder

import (
	"certanchor.dev/node/chain"
	"certanchor.dev/node/errs"
	"certanchor.dev/node/ledger"
	"certanchor.dev/node/script"
)

// Source is a fully resolved funding output: the outpoint plus the value and
// locking script the signature commits to.
type Source struct {
	OutPoint      chain.OutPoint
	Value         uint64
	LockingScript []byte
}

// ResolveSource checks raw against the listing entry u and extracts the
// spent output. The indexer's listing is not trusted for value or script.
func ResolveSource(u ledger.UnspentOutput, raw []byte) (Source, error) {
	hash, err := chain.ParseTxID(u.TxID)
	if err != nil {
		return Source{}, errs.Wrap(errs.ERR_UPSTREAM, err, "unspent txid")
	}
	tx, err := chain.ParseTx(raw)
	if err != nil {
		return Source{}, errs.Wrap(errs.ERR_UPSTREAM, err, "source transaction")
	}
	if tx.TxHash() != hash {
		return Source{}, errs.Newf(errs.ERR_UPSTREAM, "source transaction hashes to %s, want %s", tx.TxHash(), u.TxID)
	}
	if int(u.OutputIndex) >= len(tx.Outputs) {
		return Source{}, errs.Newf(errs.ERR_UPSTREAM, "source transaction has no output %d", u.OutputIndex)
	}
	out := tx.Outputs[u.OutputIndex]
	if out.Value != u.Value {
		return Source{}, errs.Newf(errs.ERR_UPSTREAM, "source output value %d, listing says %d", out.Value, u.Value)
	}
	if _, ok := script.P2PKHHash(out.LockingScript); !ok {
		return Source{}, errs.New(errs.ERR_UNSUPPORTED_SCRIPT, "source output is not pay-to-public-key-hash")
	}
	return Source{
		OutPoint:      chain.OutPoint{Hash: hash, Index: u.OutputIndex},
		Value:         out.Value,
		LockingScript: out.LockingScript,
	}, nil
}
