package script

import (
	"encoding/binary"
	"math"

	"certanchor.dev/node/errs"
)

const (
	OP_0            byte = 0x00
	OP_FALSE        byte = OP_0
	OP_DATA_75      byte = 0x4b
	OP_PUSHDATA1    byte = 0x4c
	OP_PUSHDATA2    byte = 0x4d
	OP_PUSHDATA4    byte = 0x4e
	OP_RETURN       byte = 0x6a
	OP_DUP          byte = 0x76
	OP_EQUALVERIFY  byte = 0x88
	OP_HASH160      byte = 0xa9
	OP_CHECKSIG     byte = 0xac
)

const (
	maxDirectPush       = int(OP_DATA_75)
	maxPushData1        = 0xff
	maxPushData2        = 0xffff
	maxPushData4  int64 = math.MaxUint32
)

// Scriptify prefixes blob with the minimal push opcode for its length:
// 1..75 direct, then OP_PUSHDATA1/2/4 with a little-endian length.
func Scriptify(blob []byte) ([]byte, error) {
	return AppendPush(nil, blob)
}

// AppendPush appends the minimal push of data to dst.
func AppendPush(dst []byte, data []byte) ([]byte, error) {
	n := len(data)
	switch {
	case n == 0:
		return nil, errs.New(errs.ERR_VALIDATION, "push: empty data")
	case n <= maxDirectPush:
		dst = append(dst, byte(n))
	case n <= maxPushData1:
		dst = append(dst, OP_PUSHDATA1, byte(n))
	case n <= maxPushData2:
		var b2 [2]byte
		binary.LittleEndian.PutUint16(b2[:], uint16(n))
		dst = append(dst, OP_PUSHDATA2, b2[0], b2[1])
	case int64(n) <= maxPushData4:
		var b4 [4]byte
		binary.LittleEndian.PutUint32(b4[:], uint32(n)) // #nosec G115 -- bounded by maxPushData4.
		dst = append(dst, OP_PUSHDATA4, b4[0], b4[1], b4[2], b4[3])
	default:
		return nil, errs.New(errs.ERR_VALIDATION, "push: data exceeds OP_PUSHDATA4 range")
	}
	return append(dst, data...), nil
}

// PushSize is the number of script bytes a push of n data bytes occupies.
func PushSize(n int) int {
	switch {
	case n <= maxDirectPush:
		return 1 + n
	case n <= maxPushData1:
		return 2 + n
	case n <= maxPushData2:
		return 3 + n
	default:
		return 5 + n
	}
}

// Unscriptify reads the push at the start of script and returns its data.
func Unscriptify(script []byte) ([]byte, error) {
	data, _, err := ReadPush(script, 0)
	return data, err
}

// ReadPush decodes the push opcode at script[off] and returns the pushed bytes
// and the offset just past them.
func ReadPush(script []byte, off int) ([]byte, int, error) {
	if off < 0 || off >= len(script) {
		return nil, off, errs.New(errs.ERR_UNSUPPORTED_SCRIPT, "push: empty script")
	}
	op := script[off]
	off++

	var n int
	switch {
	case op >= 1 && int(op) <= maxDirectPush:
		n = int(op)
	case op == OP_PUSHDATA1:
		if len(script)-off < 1 {
			return nil, off, errs.New(errs.ERR_UNSUPPORTED_SCRIPT, "push: truncated PUSHDATA1 length")
		}
		n = int(script[off])
		off++
	case op == OP_PUSHDATA2:
		if len(script)-off < 2 {
			return nil, off, errs.New(errs.ERR_UNSUPPORTED_SCRIPT, "push: truncated PUSHDATA2 length")
		}
		n = int(binary.LittleEndian.Uint16(script[off:]))
		off += 2
	case op == OP_PUSHDATA4:
		if len(script)-off < 4 {
			return nil, off, errs.New(errs.ERR_UNSUPPORTED_SCRIPT, "push: truncated PUSHDATA4 length")
		}
		n64 := uint64(binary.LittleEndian.Uint32(script[off:]))
		off += 4
		if n64 > uint64(len(script)-off) {
			return nil, off, errs.New(errs.ERR_UNSUPPORTED_SCRIPT, "push: data shorter than declared length")
		}
		n = int(n64)
	default:
		return nil, off, errs.Newf(errs.ERR_UNSUPPORTED_SCRIPT, "push: unsupported opcode 0x%02x", op)
	}

	if n > len(script)-off {
		return nil, off, errs.New(errs.ERR_UNSUPPORTED_SCRIPT, "push: data shorter than declared length")
	}
	return append([]byte(nil), script[off:off+n]...), off + n, nil
}
