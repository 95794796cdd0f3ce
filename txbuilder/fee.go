// Package txbuilder assembles, prices, signs and reads the single-input
// anchor transactions.
package txbuilder

import (
	"fmt"

	"certanchor.dev/node/errs"
	"certanchor.dev/node/ledger"
)

// FeeRate is a fee rate in satoshis per 1000 bytes of serialized transaction.
type FeeRate uint64

const (
	DefaultFeeRate FeeRate = 500

	// DataOutputValue is the value placed on the data output: the smallest
	// non-zero amount, also what lets LocateDataOutput tell it from change.
	DataOutputValue uint64 = 1

	// MinChangeValue is the smallest change the builder will emit.
	MinChangeValue uint64 = 1
)

func (r FeeRate) String() string {
	return fmt.Sprintf("%d sat/kB", uint64(r))
}

// EstimateFee returns ceil(size * rate / 1000).
func EstimateFee(size int, rate FeeRate) uint64 {
	if size <= 0 || rate == 0 {
		return 0
	}
	return (uint64(size)*uint64(rate) + 999) / 1000
}

// Select returns the largest spendable output, the first one seen on ties.
// It is deliberately not coin-selection-optimal: one input funds the whole
// anchor and smaller outputs are left for later stores.
func Select(utxos []ledger.UnspentOutput) (ledger.UnspentOutput, error) {
	if len(utxos) == 0 {
		return ledger.UnspentOutput{}, errs.New(errs.ERR_NO_FUNDS, "no spendable outputs")
	}
	best := 0
	for i := 1; i < len(utxos); i++ {
		if utxos[i].Value > utxos[best].Value {
			best = i
		}
	}
	return utxos[best], nil
}
