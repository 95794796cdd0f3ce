package chain

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/ripemd160" // #nosec G507 -- HASH160 is part of the P2PKH template.
)

// Marshal serialises tx into its wire format. It is the exact inverse of
// ParseTx.
func (tx *Tx) Marshal() []byte {
	b := make([]byte, 0, tx.SerializeSize())
	b = appendU32le(b, tx.Version)

	b = AppendCompactSize(b, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		b = append(b, in.PrevOut.Hash[:]...)
		b = appendU32le(b, in.PrevOut.Index)
		b = AppendCompactSize(b, uint64(len(in.UnlockingScript)))
		b = append(b, in.UnlockingScript...)
		b = appendU32le(b, in.Sequence)
	}

	b = AppendCompactSize(b, uint64(len(tx.Outputs)))
	for _, o := range tx.Outputs {
		b = appendOutput(b, o)
	}

	return appendU32le(b, tx.Locktime)
}

func appendOutput(b []byte, o TxOut) []byte {
	b = appendU64le(b, o.Value)
	b = AppendCompactSize(b, uint64(len(o.LockingScript)))
	return append(b, o.LockingScript...)
}

// SerializeSize is len(tx.Marshal()) without allocating.
func (tx *Tx) SerializeSize() int {
	n := 4 + CompactSizeLen(uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		n += chainhash.HashSize + 4 + CompactSizeLen(uint64(len(in.UnlockingScript))) + len(in.UnlockingScript) + 4
	}
	n += CompactSizeLen(uint64(len(tx.Outputs)))
	for _, o := range tx.Outputs {
		n += 8 + CompactSizeLen(uint64(len(o.LockingScript))) + len(o.LockingScript)
	}
	return n + 4
}

// TxHash is the double-SHA256 of the serialization. Its String form is the
// byte-reversed hex the ledger uses as transaction id.
func (tx *Tx) TxHash() chainhash.Hash {
	return chainhash.DoubleHashH(tx.Marshal())
}

// TxID returns the display-order hex id of raw transaction bytes.
func TxID(raw []byte) string {
	return chainhash.DoubleHashH(raw).String()
}

// ParseTxID parses a display-order hex transaction id.
func ParseTxID(s string) (chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return *h, nil
}

// Hash160 is RIPEMD160(SHA256(b)).
func Hash160(b []byte) [20]byte {
	sha := sha256.Sum256(b)
	r := ripemd160.New()
	_, _ = r.Write(sha[:])
	var out [20]byte
	copy(out[:], r.Sum(nil))
	return out
}
