package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"certanchor.dev/node/errs"
)

const (
	SaltSize        = 16
	NonceSize       = 16
	TagSize         = 16
	KeySize         = 32
	MasterKeySize   = 32
	KeyMaterialSize = SaltSize + KeySize

	// PBKDF2Iterations is fixed; changing it breaks every key already derived.
	PBKDF2Iterations = 100_000
)

// Envelope is the result of one encryption: AES-256-GCM ciphertext with the
// authentication tag split out.
type Envelope struct {
	Ciphertext []byte
	Nonce      []byte
	AuthTag    []byte
}

// KeyMaterial is the per-record key: the PBKDF2 salt and the key derived
// from it. It never leaves the process except through the key index.
type KeyMaterial struct {
	Salt       [SaltSize]byte
	DerivedKey [KeySize]byte
}

// Bytes returns salt || derivedKey.
func (k KeyMaterial) Bytes() []byte {
	out := make([]byte, 0, KeyMaterialSize)
	out = append(out, k.Salt[:]...)
	return append(out, k.DerivedKey[:]...)
}

func (k KeyMaterial) Hex() string {
	return hex.EncodeToString(k.Bytes())
}

func KeyMaterialFromBytes(b []byte) (KeyMaterial, error) {
	var k KeyMaterial
	if len(b) != KeyMaterialSize {
		return k, errs.Newf(errs.ERR_VALIDATION, "key material must be %d bytes (got %d)", KeyMaterialSize, len(b))
	}
	copy(k.Salt[:], b[:SaltSize])
	copy(k.DerivedKey[:], b[SaltSize:])
	return k, nil
}

func ParseKeyMaterialHex(s string) (KeyMaterial, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return KeyMaterial{}, errs.Wrap(errs.ERR_VALIDATION, err, "key material hex")
	}
	return KeyMaterialFromBytes(raw)
}

// Sealer encrypts records under keys derived from a process-wide master
// secret. It is safe for concurrent use.
type Sealer struct {
	master []byte
	rand   io.Reader
}

func NewSealer(master []byte) (*Sealer, error) {
	if len(master) != MasterKeySize {
		return nil, errs.Newf(errs.ERR_CONFIG, "master key must be %d bytes (got %d)", MasterKeySize, len(master))
	}
	return &Sealer{master: append([]byte(nil), master...), rand: rand.Reader}, nil
}

func (s *Sealer) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(s.master, salt, PBKDF2Iterations, KeySize, sha256.New)
}

// Encrypt serializes record as JSON and seals it under a freshly derived key.
// Salt and nonce are fresh on every call, so a nonce is never reused with the
// same key.
func (s *Sealer) Encrypt(record interface{}) (Envelope, KeyMaterial, error) {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return Envelope{}, KeyMaterial{}, errs.Wrap(errs.ERR_VALIDATION, err, "encode record")
	}
	return s.Seal(plaintext)
}

func (s *Sealer) Seal(plaintext []byte) (Envelope, KeyMaterial, error) {
	var km KeyMaterial
	if _, err := io.ReadFull(s.rand, km.Salt[:]); err != nil {
		return Envelope{}, KeyMaterial{}, fmt.Errorf("crypto: read salt: %w", err)
	}
	copy(km.DerivedKey[:], s.deriveKey(km.Salt[:]))

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return Envelope{}, KeyMaterial{}, fmt.Errorf("crypto: read nonce: %w", err)
	}

	aead, err := newAEAD(km.DerivedKey[:])
	if err != nil {
		return Envelope{}, KeyMaterial{}, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - TagSize
	return Envelope{
		Ciphertext: sealed[:split],
		Nonce:      nonce,
		AuthTag:    sealed[split:],
	}, km, nil
}

// Decrypt verifies the tag, then parses the plaintext JSON into out.
func Decrypt(env Envelope, km KeyMaterial, out interface{}) error {
	plaintext, err := Open(env, km)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return errs.Wrap(errs.ERR_DECODE, err, "plaintext is not a JSON record")
	}
	return nil
}

// Open returns the plaintext only if the authentication tag verifies.
func Open(env Envelope, km KeyMaterial) ([]byte, error) {
	if len(env.Nonce) != NonceSize {
		return nil, errs.Newf(errs.ERR_MALFORMED_ENVELOPE, "nonce must be %d bytes (got %d)", NonceSize, len(env.Nonce))
	}
	if len(env.AuthTag) != TagSize {
		return nil, errs.Newf(errs.ERR_MALFORMED_ENVELOPE, "auth tag must be %d bytes (got %d)", TagSize, len(env.AuthTag))
	}
	aead, err := newAEAD(km.DerivedKey[:])
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(env.Ciphertext)+TagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)
	plaintext, err := aead.Open(nil, env.Nonce, sealed, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ERR_INTEGRITY, err, "authentication failed")
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}
