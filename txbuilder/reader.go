package txbuilder

import (
	"certanchor.dev/node/crypto"
	"certanchor.dev/node/errs"
	"certanchor.dev/node/ledger"
	"certanchor.dev/node/logger"
	"certanchor.dev/node/payload"
	"certanchor.dev/node/script"
)

// LocateDataOutput returns the output with the minimum value, the first one
// on ties. This is a value heuristic, not a script check: it relies on the
// builder giving the data output the smallest amount.
func LocateDataOutput(outputs []ledger.Output) (ledger.Output, error) {
	if len(outputs) == 0 {
		return ledger.Output{}, errs.New(errs.ERR_UNSUPPORTED_SCRIPT, "transaction has no outputs")
	}
	lo := 0
	for i := 1; i < len(outputs); i++ {
		if outputs[i].Value < outputs[lo].Value {
			lo = i
		}
	}
	return outputs[lo], nil
}

// FindDataOutput returns the first output whose script has the data carrier
// shape.
func FindDataOutput(outputs []ledger.Output) (ledger.Output, bool) {
	for _, o := range outputs {
		if script.IsDataScript(o.Script) {
			return o, true
		}
	}
	return ledger.Output{}, false
}

type Reader struct {
	codec *payload.Codec
	log   logger.Logger
}

func NewReader(codec *payload.Codec, log logger.Logger) *Reader {
	if codec == nil {
		codec = payload.Default()
	}
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Reader{codec: codec, log: log}
}

// Recover extracts the envelope anchored in tx. The data output is found by
// script shape; transactions without one fall back to LocateDataOutput.
func (r *Reader) Recover(tx *ledger.Transaction) (crypto.Envelope, error) {
	if tx == nil {
		return crypto.Envelope{}, errs.New(errs.ERR_UNSUPPORTED_SCRIPT, "nil transaction")
	}
	out, ok := FindDataOutput(tx.Outputs)
	if !ok {
		var err error
		if out, err = LocateDataOutput(tx.Outputs); err != nil {
			return crypto.Envelope{}, err
		}
		r.log.WithField("txid", tx.TxID).Debugf("no data-carrier script found, assuming the minimum-value output carries the payload")
	}
	blob, err := script.Unscriptify(script.StripDataMarker(out.Script))
	if err != nil {
		return crypto.Envelope{}, err
	}
	return r.codec.Decode(blob)
}
