package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"certanchor.dev/node/errs"
)

// AES-256 Key Wrap (RFC 3394). Used by the key index to keep per-record key
// material wrapped at rest under a KEK derived from the master secret.

var kwIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// WrapKeyMaterial wraps the 48-byte salt||key blob. The result is 56 bytes.
func WrapKeyMaterial(kek []byte, km KeyMaterial) ([]byte, error) {
	return keyWrap(kek, km.Bytes())
}

func UnwrapKeyMaterial(kek, wrapped []byte) (KeyMaterial, error) {
	raw, err := keyUnwrap(kek, wrapped)
	if err != nil {
		return KeyMaterial{}, err
	}
	return KeyMaterialFromBytes(raw)
}

func kwBlock(kek []byte) (cipher.Block, error) {
	if len(kek) != 32 {
		return nil, errors.New("keywrap: kek must be 32 bytes (AES-256)")
	}
	return aes.NewCipher(kek)
}

func keyWrap(kek, plain []byte) ([]byte, error) {
	if len(plain) < 16 || len(plain)%8 != 0 {
		return nil, errors.New("keywrap: input must be >= 16 bytes and a multiple of 8")
	}
	block, err := kwBlock(kek)
	if err != nil {
		return nil, err
	}

	n := len(plain) / 8
	out := make([]byte, 8+len(plain))
	copy(out[8:], plain)
	a := kwIV

	var buf [16]byte
	for j := 0; j < 6; j++ {
		for i := 1; i <= n; i++ {
			r := out[i*8 : (i+1)*8]
			copy(buf[:8], a[:])
			copy(buf[8:], r)
			block.Encrypt(buf[:], buf[:])
			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(a[:], binary.BigEndian.Uint64(buf[:8])^t)
			copy(r, buf[8:])
		}
	}
	copy(out[:8], a[:])
	return out, nil
}

func keyUnwrap(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped) < 24 || len(wrapped)%8 != 0 {
		return nil, errors.New("keywrap: wrapped input must be >= 24 bytes and a multiple of 8")
	}
	block, err := kwBlock(kek)
	if err != nil {
		return nil, err
	}

	n := len(wrapped)/8 - 1
	out := make([]byte, len(wrapped))
	copy(out, wrapped)
	var a [8]byte
	copy(a[:], out[:8])

	var buf [16]byte
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			r := out[i*8 : (i+1)*8]
			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(buf[:8], binary.BigEndian.Uint64(a[:])^t)
			copy(buf[8:], r)
			block.Decrypt(buf[:], buf[:])
			copy(a[:], buf[:8])
			copy(r, buf[8:])
		}
	}

	if subtle.ConstantTimeCompare(a[:], kwIV[:]) != 1 {
		return nil, errs.New(errs.ERR_INTEGRITY, "keywrap: integrity check failed")
	}
	return out[8:], nil
}
