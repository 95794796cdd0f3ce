package txbuilder

import (
	"context"
	"fmt"

	"certanchor.dev/node/chain"
	"certanchor.dev/node/errs"
	"certanchor.dev/node/ledger"
	"certanchor.dev/node/script"
)

type State int

const (
	StateEmpty State = iota
	StateInputsBound
	StateOutputsBound
	StateFeeApplied
	StateSigned
	StateBroadcast
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "Empty"
	case StateInputsBound:
		return "InputsBound"
	case StateOutputsBound:
		return "OutputsBound"
	case StateFeeApplied:
		return "FeeApplied"
	case StateSigned:
		return "Signed"
	case StateBroadcast:
		return "Broadcast"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	changeOutput = 0
	dataOutput   = 1

	// maxDERSigSize bounds a low-S DER secp256k1 signature.
	maxDERSigSize   = 72
	compressedPKLen = 33
)

// Builder drives one anchor transaction through
// Empty -> InputsBound -> OutputsBound -> FeeApplied -> Signed -> Broadcast.
// A failed step leaves the state unchanged. A Builder is not safe for
// concurrent use and is not reusable.
type Builder struct {
	state State
	key   *chain.Key
	rate  FeeRate
	src   Source
	tx    chain.Tx
	fee   uint64
	raw   []byte
}

func New(key *chain.Key, rate FeeRate) *Builder {
	return &Builder{key: key, rate: rate, tx: chain.Tx{Version: chain.TxVersion}}
}

func (b *Builder) State() State { return b.state }

// Fee is the fee applied by ApplyFee.
func (b *Builder) Fee() uint64 { return b.fee }

func (b *Builder) expect(s State, op string) error {
	if b.state != s {
		return errs.Newf(errs.ERR_INVALID_STATE, "%s: builder is %s, want %s", op, b.state, s)
	}
	return nil
}

// BindInput references src as the single input.
func (b *Builder) BindInput(src Source) error {
	if err := b.expect(StateEmpty, "bind input"); err != nil {
		return err
	}
	if b.key == nil {
		return errs.New(errs.ERR_SIGNING, "no signing key")
	}
	pkh, ok := script.P2PKHHash(src.LockingScript)
	if !ok {
		return errs.New(errs.ERR_UNSUPPORTED_SCRIPT, "bind input: source is not pay-to-public-key-hash")
	}
	if pkh != b.key.PubKeyHash() {
		return errs.New(errs.ERR_SIGNING, "bind input: source is not locked to the signing key")
	}
	b.src = src
	b.tx.Inputs = []chain.TxIn{{PrevOut: src.OutPoint, Sequence: chain.SequenceFinal}}
	b.state = StateInputsBound
	return nil
}

// BindOutputs adds the change output (placeholder value until ApplyFee) and
// the data output carrying blob.
func (b *Builder) BindOutputs(blob []byte) error {
	if err := b.expect(StateInputsBound, "bind outputs"); err != nil {
		return err
	}
	data, err := script.DataScript(blob)
	if err != nil {
		return err
	}
	var change uint64
	if b.src.Value > DataOutputValue {
		change = b.src.Value - DataOutputValue
	}
	b.tx.Outputs = []chain.TxOut{
		changeOutput: {Value: change, LockingScript: script.P2PKHLock(b.key.PubKeyHash())},
		dataOutput:   {Value: DataOutputValue, LockingScript: data},
	}
	b.state = StateOutputsBound
	return nil
}

// EstimatedSignedSize is the serialized size once the input carries a
// maximum-size signature and the signing key's public key.
func (b *Builder) EstimatedSignedSize() int {
	pkLen := compressedPKLen
	if b.key != nil {
		pkLen = len(b.key.PubKey())
	}
	sig := maxDERSigSize + 1
	unlockLen := script.PushSize(sig) + script.PushSize(pkLen)
	size := b.tx.SerializeSize()
	for _, in := range b.tx.Inputs {
		size += unlockLen - len(in.UnlockingScript)
		size += chain.CompactSizeLen(uint64(unlockLen)) - chain.CompactSizeLen(uint64(len(in.UnlockingScript)))
	}
	return size
}

// ApplyFee prices the transaction at the builder's rate and takes the fee
// out of change. Total input = change + data + fee holds afterwards.
func (b *Builder) ApplyFee() (uint64, error) {
	if err := b.expect(StateOutputsBound, "apply fee"); err != nil {
		return 0, err
	}
	fee := EstimateFee(b.EstimatedSignedSize(), b.rate)
	need := DataOutputValue + fee + MinChangeValue
	if b.src.Value < need {
		return 0, errs.Newf(errs.ERR_INSUFFICIENT_FUNDS, "input %d sat cannot cover data %d + fee %d + change %d",
			b.src.Value, DataOutputValue, fee, MinChangeValue)
	}
	b.tx.Outputs[changeOutput].Value = b.src.Value - DataOutputValue - fee
	b.fee = fee
	b.state = StateFeeApplied
	return fee, nil
}

// Sign produces the unlocking script of the single input. On failure the
// input stays unsigned.
func (b *Builder) Sign() error {
	if err := b.expect(StateFeeApplied, "sign"); err != nil {
		return err
	}
	digest, err := chain.SighashDigest(&b.tx, 0, b.src.LockingScript, b.src.Value)
	if err != nil {
		return errs.Wrap(errs.ERR_SIGNING, err, "sighash")
	}
	der := b.key.Sign(digest)
	if len(der) == 0 || len(der) > maxDERSigSize {
		return errs.Newf(errs.ERR_SIGNING, "unexpected signature length %d", len(der))
	}
	pub := b.key.PubKey()
	if !chain.VerifySignature(pub, digest, der) {
		return errs.New(errs.ERR_SIGNING, "signature does not verify")
	}
	sig := append(der, byte(chain.SighashAllForkID))
	unlock, err := script.P2PKHUnlock(sig, pub)
	if err != nil {
		return errs.Wrap(errs.ERR_SIGNING, err, "unlocking script")
	}
	b.tx.Inputs[0].UnlockingScript = unlock
	b.raw = b.tx.Marshal()
	b.state = StateSigned
	return nil
}

// Raw returns the signed serialization.
func (b *Builder) Raw() ([]byte, error) {
	if b.state != StateSigned && b.state != StateBroadcast {
		return nil, errs.Newf(errs.ERR_INVALID_STATE, "raw: builder is %s", b.state)
	}
	return append([]byte(nil), b.raw...), nil
}

// Tx returns a copy of the transaction in its current state.
func (b *Builder) Tx() chain.Tx {
	tx := b.tx
	tx.Inputs = append([]chain.TxIn(nil), b.tx.Inputs...)
	tx.Outputs = append([]chain.TxOut(nil), b.tx.Outputs...)
	return tx
}

// TxID is the id the signed transaction will have on the ledger.
func (b *Builder) TxID() (string, error) {
	raw, err := b.Raw()
	if err != nil {
		return "", err
	}
	return chain.TxID(raw), nil
}

// Broadcast submits the signed bytes. The returned anchor id is the hash of
// those bytes; a ledger answering with a different id is an upstream fault.
// Resubmitting the same signed bytes is safe, rebuilding is not.
func (b *Builder) Broadcast(ctx context.Context, client ledger.Client) (string, error) {
	if err := b.expect(StateSigned, "broadcast"); err != nil {
		return "", err
	}
	want := chain.TxID(b.raw)
	got, err := client.Broadcast(ctx, b.raw)
	if err != nil {
		return "", err
	}
	if got != "" && got != want {
		return "", errs.Newf(errs.ERR_UPSTREAM, "ledger reported txid %s for transaction %s", got, want)
	}
	b.state = StateBroadcast
	return want, nil
}
