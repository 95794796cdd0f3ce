package script

import "bytes"

const PubKeyHashSize = 20

// P2PKHLock builds OP_DUP OP_HASH160 <pkh> OP_EQUALVERIFY OP_CHECKSIG.
func P2PKHLock(pkh [PubKeyHashSize]byte) []byte {
	out := make([]byte, 0, 25)
	out = append(out, OP_DUP, OP_HASH160, PubKeyHashSize)
	out = append(out, pkh[:]...)
	return append(out, OP_EQUALVERIFY, OP_CHECKSIG)
}

// P2PKHHash returns the pubkey hash of a pay-to-public-key-hash script.
func P2PKHHash(s []byte) ([PubKeyHashSize]byte, bool) {
	var pkh [PubKeyHashSize]byte
	if len(s) != 25 ||
		s[0] != OP_DUP || s[1] != OP_HASH160 || s[2] != PubKeyHashSize ||
		s[23] != OP_EQUALVERIFY || s[24] != OP_CHECKSIG {
		return pkh, false
	}
	copy(pkh[:], s[3:23])
	return pkh, true
}

// P2PKHUnlock builds <sig> <pubkey>.
func P2PKHUnlock(sigWithHashType, pubKey []byte) ([]byte, error) {
	out, err := AppendPush(nil, sigWithHashType)
	if err != nil {
		return nil, err
	}
	return AppendPush(out, pubKey)
}

// DataScript builds the unspendable data carrier OP_FALSE OP_RETURN <push>.
func DataScript(blob []byte) ([]byte, error) {
	return AppendPush([]byte{OP_FALSE, OP_RETURN}, blob)
}

// dataMarkerLen reports how many leading bytes of s form the unspendable
// marker: 2 for OP_FALSE OP_RETURN, 1 for a bare OP_RETURN, 0 otherwise.
func dataMarkerLen(s []byte) int {
	switch {
	case bytes.HasPrefix(s, []byte{OP_FALSE, OP_RETURN}):
		return 2
	case len(s) > 0 && s[0] == OP_RETURN:
		return 1
	default:
		return 0
	}
}

// IsDataScript recognizes a data output by shape: an unspendable marker
// followed by one well-formed push.
func IsDataScript(s []byte) bool {
	m := dataMarkerLen(s)
	if m == 0 {
		return false
	}
	_, _, err := ReadPush(s, m)
	return err == nil
}

// StripDataMarker drops a leading OP_RETURN / OP_FALSE OP_RETURN so the
// remainder starts at the push opcode. Scripts without a marker are returned
// unchanged.
func StripDataMarker(s []byte) []byte {
	return s[dataMarkerLen(s):]
}
