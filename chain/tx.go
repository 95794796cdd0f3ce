// Package chain holds the ledger transaction model and its wire encoding,
// transaction ids, signature hashing and single-key P2PKH helpers.
package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	TxVersion       uint32 = 1
	SequenceFinal   uint32 = 0xffffffff
	maxScriptLen           = 100 << 20
	maxTxComponents        = 1 << 20
)

type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.Hash, o.Index)
}

type TxIn struct {
	PrevOut         OutPoint
	UnlockingScript []byte
	Sequence        uint32
}

type TxOut struct {
	Value         uint64
	LockingScript []byte
}

type Tx struct {
	Version  uint32
	Inputs   []TxIn
	Outputs  []TxOut
	Locktime uint32
}

type cursor struct {
	b   []byte
	pos int
}

func (c *cursor) remaining() int {
	if c.pos >= len(c.b) {
		return 0
	}
	return len(c.b) - c.pos
}

func (c *cursor) readExact(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, fmt.Errorf("parse: truncated")
	}
	start := c.pos
	c.pos += n
	return c.b[start:c.pos], nil
}

func (c *cursor) readU32LE() (uint32, error) {
	b, err := c.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) readU64LE() (uint64, error) {
	b, err := c.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) readCompactSize(name string, max uint64) (int, error) {
	v, used, err := DecodeCompactSize(c.b[c.pos:])
	if err != nil {
		return 0, err
	}
	if v > max {
		return 0, fmt.Errorf("parse: %s %d exceeds limit", name, v)
	}
	c.pos += used
	return int(v), nil
}

func (c *cursor) readVarBytes(name string) ([]byte, error) {
	n, err := c.readCompactSize(name, maxScriptLen)
	if err != nil {
		return nil, err
	}
	b, err := c.readExact(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

const (
	// outpoint + empty script + sequence
	minTxInSize = chainhash.HashSize + 4 + 1 + 4
	// value + empty script
	minTxOutSize = 8 + 1
)

// ParseTx decodes a serialized transaction. Trailing bytes are an error.
func ParseTx(b []byte) (*Tx, error) {
	cur := &cursor{b: b}
	tx := &Tx{}
	var err error

	if tx.Version, err = cur.readU32LE(); err != nil {
		return nil, err
	}

	inputCount, err := cur.readCompactSize("input_count", maxTxComponents)
	if err != nil {
		return nil, err
	}
	tx.Inputs = make([]TxIn, 0, min(inputCount, cur.remaining()/minTxInSize))
	for i := 0; i < inputCount; i++ {
		var in TxIn
		h, err := cur.readExact(chainhash.HashSize)
		if err != nil {
			return nil, err
		}
		copy(in.PrevOut.Hash[:], h)
		if in.PrevOut.Index, err = cur.readU32LE(); err != nil {
			return nil, err
		}
		if in.UnlockingScript, err = cur.readVarBytes("unlocking_script_len"); err != nil {
			return nil, err
		}
		if in.Sequence, err = cur.readU32LE(); err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, in)
	}

	outputCount, err := cur.readCompactSize("output_count", maxTxComponents)
	if err != nil {
		return nil, err
	}
	tx.Outputs = make([]TxOut, 0, min(outputCount, cur.remaining()/minTxOutSize))
	for i := 0; i < outputCount; i++ {
		var out TxOut
		if out.Value, err = cur.readU64LE(); err != nil {
			return nil, err
		}
		if out.LockingScript, err = cur.readVarBytes("locking_script_len"); err != nil {
			return nil, err
		}
		tx.Outputs = append(tx.Outputs, out)
	}

	if tx.Locktime, err = cur.readU32LE(); err != nil {
		return nil, err
	}
	if cur.remaining() != 0 {
		return nil, fmt.Errorf("parse: %d trailing bytes", cur.remaining())
	}
	return tx, nil
}

