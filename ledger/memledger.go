package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"certanchor.dev/node/chain"
	"certanchor.dev/node/errs"
	"certanchor.dev/node/script"
)

type memEntry struct {
	value  uint64
	script []byte
	seq    uint64
}

// MemLedger is an in-process ledger that validates and connects P2PKH
// spends. It backs tests and the offline "mem" ledger kind.
type MemLedger struct {
	mu      sync.Mutex
	net     chain.Network
	utxos   map[chain.OutPoint]memEntry
	raw     map[string][]byte
	seq     uint64
	funds   uint32
	txCalls int
	hook    func(*chain.Tx) error
}

func NewMemLedger(net chain.Network) *MemLedger {
	return &MemLedger{
		net:   net,
		utxos: make(map[chain.OutPoint]memEntry),
		raw:   make(map[string][]byte),
	}
}

// Fund credits address with a fresh output of value sats and returns its
// outpoint.
func (m *MemLedger) Fund(address string, value uint64) (chain.OutPoint, error) {
	pkh, err := chain.DecodeAddress(address, m.net)
	if err != nil {
		return chain.OutPoint{}, errs.Wrap(errs.ERR_VALIDATION, err, "fund address")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.funds++
	tx := &chain.Tx{
		Version: chain.TxVersion,
		Inputs: []chain.TxIn{{
			PrevOut:         chain.OutPoint{Index: 0xffffffff},
			UnlockingScript: []byte{byte(m.funds), byte(m.funds >> 8), byte(m.funds >> 16), byte(m.funds >> 24)},
			Sequence:        chain.SequenceFinal,
		}},
		Outputs: []chain.TxOut{{Value: value, LockingScript: script.P2PKHLock(pkh)}},
	}
	m.connectLocked(tx)
	return chain.OutPoint{Hash: tx.TxHash(), Index: 0}, nil
}

// SetBroadcastHook installs fn to run before validation of every broadcast.
// A non-nil return rejects the transaction with that error.
func (m *MemLedger) SetBroadcastHook(fn func(*chain.Tx) error) {
	m.mu.Lock()
	m.hook = fn
	m.mu.Unlock()
}

// TransactionCalls reports how many Transaction lookups were served.
func (m *MemLedger) TransactionCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCalls
}

// Balance sums the unspent value locked to address.
func (m *MemLedger) Balance(address string) uint64 {
	utxos, err := m.SpendableOutputs(context.Background(), address)
	if err != nil {
		return 0
	}
	var sum uint64
	for _, u := range utxos {
		sum += u.Value
	}
	return sum
}

func (m *MemLedger) SpendableOutputs(_ context.Context, address string) ([]UnspentOutput, error) {
	pkh, err := chain.DecodeAddress(address, m.net)
	if err != nil {
		return nil, errs.Wrap(errs.ERR_UPSTREAM, err, "unspent lookup")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	type item struct {
		u   UnspentOutput
		seq uint64
	}
	var items []item
	for op, e := range m.utxos {
		if h, ok := script.P2PKHHash(e.script); !ok || h != pkh {
			continue
		}
		items = append(items, item{
			u: UnspentOutput{
				TxID:          op.Hash.String(),
				OutputIndex:   op.Index,
				Value:         e.value,
				LockingScript: append([]byte(nil), e.script...),
			},
			seq: e.seq,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	out := make([]UnspentOutput, 0, len(items))
	for _, it := range items {
		out = append(out, it.u)
	}
	return out, nil
}

func (m *MemLedger) RawTransaction(_ context.Context, txid string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.raw[txid]
	if !ok {
		return nil, errs.Newf(errs.ERR_NOT_FOUND, "transaction %s", txid)
	}
	return append([]byte(nil), raw...), nil
}

func (m *MemLedger) Transaction(_ context.Context, txid string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++
	raw, ok := m.raw[txid]
	if !ok {
		return nil, errs.Newf(errs.ERR_NOT_FOUND, "transaction %s", txid)
	}
	tx, err := chain.ParseTx(raw)
	if err != nil {
		return nil, errs.Wrap(errs.ERR_UPSTREAM, err, "stored transaction")
	}
	view := &Transaction{TxID: txid, Outputs: make([]Output, 0, len(tx.Outputs))}
	for _, o := range tx.Outputs {
		view.Outputs = append(view.Outputs, Output{Value: o.Value, Script: o.LockingScript})
	}
	return view, nil
}

func (m *MemLedger) Broadcast(_ context.Context, rawTx []byte) (string, error) {
	tx, err := chain.ParseTx(rawTx)
	if err != nil {
		return "", errs.Wrap(errs.ERR_BROADCAST_REJECTED, err, "parse")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hook != nil {
		if err := m.hook(tx); err != nil {
			return "", err
		}
	}
	if err := m.validateLocked(tx); err != nil {
		return "", errs.Wrap(errs.ERR_BROADCAST_REJECTED, err, "validate")
	}
	return m.connectLocked(tx), nil
}

func (m *MemLedger) validateLocked(tx *chain.Tx) error {
	if len(tx.Inputs) == 0 {
		return fmt.Errorf("no inputs")
	}
	if len(tx.Outputs) == 0 {
		return fmt.Errorf("no outputs")
	}
	id := tx.TxHash().String()
	if _, ok := m.raw[id]; ok {
		return fmt.Errorf("transaction already known")
	}

	seen := make(map[chain.OutPoint]struct{}, len(tx.Inputs))
	var sumIn uint64
	for i, in := range tx.Inputs {
		if _, dup := seen[in.PrevOut]; dup {
			return fmt.Errorf("input %d: duplicate outpoint %s", i, in.PrevOut)
		}
		seen[in.PrevOut] = struct{}{}

		entry, ok := m.utxos[in.PrevOut]
		if !ok {
			return fmt.Errorf("input %d: missing or spent outpoint %s", i, in.PrevOut)
		}
		if err := checkP2PKHSpend(tx, i, entry); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		sumIn += entry.value
		if sumIn < entry.value {
			return fmt.Errorf("input value overflow")
		}
	}

	var sumOut uint64
	for _, o := range tx.Outputs {
		sumOut += o.Value
		if sumOut < o.Value {
			return fmt.Errorf("output value overflow")
		}
	}
	if sumOut > sumIn {
		return fmt.Errorf("outputs %d exceed inputs %d", sumOut, sumIn)
	}
	return nil
}

func checkP2PKHSpend(tx *chain.Tx, idx int, entry memEntry) error {
	pkh, ok := script.P2PKHHash(entry.script)
	if !ok {
		return fmt.Errorf("spent output is not P2PKH")
	}
	unlock := tx.Inputs[idx].UnlockingScript
	sig, off, err := script.ReadPush(unlock, 0)
	if err != nil {
		return err
	}
	pub, end, err := script.ReadPush(unlock, off)
	if err != nil {
		return err
	}
	if end != len(unlock) {
		return fmt.Errorf("trailing bytes in unlocking script")
	}
	if len(sig) < 2 || sig[len(sig)-1] != byte(chain.SighashAllForkID) {
		return fmt.Errorf("unsupported sighash type")
	}
	if h := chain.Hash160(pub); !bytes.Equal(h[:], pkh[:]) {
		return fmt.Errorf("pubkey does not match locking script")
	}
	digest, err := chain.SighashDigest(tx, idx, entry.script, entry.value)
	if err != nil {
		return err
	}
	if !chain.VerifySignature(pub, digest, sig[:len(sig)-1]) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// connectLocked spends the inputs of tx and records its spendable outputs.
// Data outputs and zero-value outputs never enter the UTXO set.
func (m *MemLedger) connectLocked(tx *chain.Tx) string {
	for _, in := range tx.Inputs {
		delete(m.utxos, in.PrevOut)
	}
	hash := tx.TxHash()
	for i, o := range tx.Outputs {
		if o.Value == 0 || script.IsDataScript(o.LockingScript) {
			continue
		}
		m.seq++
		m.utxos[chain.OutPoint{Hash: hash, Index: uint32(i)}] = memEntry{
			value:  o.Value,
			script: append([]byte(nil), o.LockingScript...),
			seq:    m.seq,
		}
	}
	id := hash.String()
	m.raw[id] = tx.Marshal()
	return id
}
