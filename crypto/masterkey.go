package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"certanchor.dev/node/errs"
)

const wrapKeyInfo = "certanchor/key-index-wrap/v1"

// ParseMasterKey decodes the 64-hex-char master secret. There is no fallback:
// a record sealed under a throwaway secret is unrecoverable after restart, so
// a missing or malformed value is a configuration error.
func ParseMasterKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errs.New(errs.ERR_CONFIG, "master key is not set")
	}
	if len(s) != 2*MasterKeySize {
		return nil, errs.Newf(errs.ERR_CONFIG, "master key must be %d hex chars (got %d)", 2*MasterKeySize, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errs.Wrap(errs.ERR_CONFIG, err, "master key is not hex")
	}
	return b, nil
}

// GenerateMasterKey returns a fresh random master secret as hex, for operators
// provisioning a new deployment.
func GenerateMasterKey() (string, error) {
	var b [MasterKeySize]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// DeriveWrapKey derives the AES-256 KEK used to wrap key material at rest.
func DeriveWrapKey(master []byte) ([]byte, error) {
	if len(master) != MasterKeySize {
		return nil, errs.Newf(errs.ERR_CONFIG, "master key must be %d bytes", MasterKeySize)
	}
	kek := make([]byte, 32)
	r := hkdf.New(sha256.New, master, nil, []byte(wrapKeyInfo))
	if _, err := io.ReadFull(r, kek); err != nil {
		return nil, err
	}
	return kek, nil
}
