package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	SighashAll    uint32 = 0x01
	SighashForkID uint32 = 0x40

	// SighashAllForkID is the only hash type this package signs with.
	SighashAllForkID = SighashAll | SighashForkID
)

// SighashDigest computes the BIP143-style FORKID signature hash for input
// inputIndex, which spends an output locked by prevScript holding prevValue.
func SighashDigest(tx *Tx, inputIndex int, prevScript []byte, prevValue uint64) ([32]byte, error) {
	if inputIndex < 0 || inputIndex >= len(tx.Inputs) {
		return [32]byte{}, fmt.Errorf("sighash: input_index %d out of bounds", inputIndex)
	}

	prevouts := make([]byte, 0, len(tx.Inputs)*(chainhash.HashSize+4))
	sequences := make([]byte, 0, len(tx.Inputs)*4)
	for _, in := range tx.Inputs {
		prevouts = append(prevouts, in.PrevOut.Hash[:]...)
		prevouts = appendU32le(prevouts, in.PrevOut.Index)
		sequences = appendU32le(sequences, in.Sequence)
	}
	hashPrevouts := chainhash.DoubleHashB(prevouts)
	hashSequences := chainhash.DoubleHashB(sequences)

	var outputs []byte
	for _, o := range tx.Outputs {
		outputs = appendOutput(outputs, o)
	}
	hashOutputs := chainhash.DoubleHashB(outputs)

	in := tx.Inputs[inputIndex]
	preimage := make([]byte, 0, 4+32+32+36+9+len(prevScript)+8+4+32+4+4)
	preimage = appendU32le(preimage, tx.Version)
	preimage = append(preimage, hashPrevouts...)
	preimage = append(preimage, hashSequences...)
	preimage = append(preimage, in.PrevOut.Hash[:]...)
	preimage = appendU32le(preimage, in.PrevOut.Index)
	preimage = AppendCompactSize(preimage, uint64(len(prevScript)))
	preimage = append(preimage, prevScript...)
	preimage = appendU64le(preimage, prevValue)
	preimage = appendU32le(preimage, in.Sequence)
	preimage = append(preimage, hashOutputs...)
	preimage = appendU32le(preimage, tx.Locktime)
	preimage = appendU32le(preimage, SighashAllForkID)

	return chainhash.DoubleHashH(preimage), nil
}
