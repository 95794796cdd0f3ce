// Package payload implements the on-ledger wire format of an envelope:
// a 6-byte magic prefix followed by the UTF-8 JSON of the envelope with
// base64 fields.
package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"certanchor.dev/node/crypto"
	"certanchor.dev/node/errs"
)

const (
	PrefixSize    = 6
	DefaultPrefix = "disabd"
)

// wireEnvelope is the compatibility-sensitive JSON shape. Field order is
// part of the byte-exact format.
type wireEnvelope struct {
	EncryptedData string `json:"encryptedData"`
	Nonce         string `json:"nonce"`
	AuthTag       string `json:"authTag"`
}

// decodeEnvelope also accepts the legacy "iv" key and an outer
// {"encrypted": {...}} wrapper written by earlier issuers.
type decodeEnvelope struct {
	EncryptedData *string         `json:"encryptedData"`
	Nonce         *string         `json:"nonce"`
	IV            *string         `json:"iv"`
	AuthTag       *string         `json:"authTag"`
	Encrypted     *decodeEnvelope `json:"encrypted"`
}

type Codec struct {
	prefix []byte
}

func NewCodec(prefix string) (*Codec, error) {
	if len(prefix) != PrefixSize {
		return nil, errs.Newf(errs.ERR_CONFIG, "payload prefix must be %d bytes (got %d)", PrefixSize, len(prefix))
	}
	return &Codec{prefix: []byte(prefix)}, nil
}

// Default returns the codec for DefaultPrefix.
func Default() *Codec {
	return &Codec{prefix: []byte(DefaultPrefix)}
}

// Encode produces prefix || JSON(envelope). Output is deterministic.
func (c *Codec) Encode(env crypto.Envelope) ([]byte, error) {
	body, err := json.Marshal(wireEnvelope{
		EncryptedData: base64.StdEncoding.EncodeToString(env.Ciphertext),
		Nonce:         base64.StdEncoding.EncodeToString(env.Nonce),
		AuthTag:       base64.StdEncoding.EncodeToString(env.AuthTag),
	})
	if err != nil {
		return nil, fmt.Errorf("payload: encode: %w", err)
	}
	out := make([]byte, 0, len(c.prefix)+len(body))
	out = append(out, c.prefix...)
	return append(out, body...), nil
}

// Decode finds the prefix anywhere in blob and parses the JSON after it.
// Bytes before the prefix are ignored.
func (c *Codec) Decode(blob []byte) (crypto.Envelope, error) {
	idx := bytes.Index(blob, c.prefix)
	if idx < 0 {
		return crypto.Envelope{}, errs.Newf(errs.ERR_PREFIX_NOT_FOUND, "prefix %q not found", c.prefix)
	}
	var d decodeEnvelope
	if err := json.Unmarshal(blob[idx+len(c.prefix):], &d); err != nil {
		return crypto.Envelope{}, errs.Wrap(errs.ERR_MALFORMED_ENVELOPE, err, "payload is not JSON")
	}
	if d.Encrypted != nil && d.EncryptedData == nil {
		d = *d.Encrypted
	}
	return d.envelope()
}

func (d decodeEnvelope) envelope() (crypto.Envelope, error) {
	nonce := d.Nonce
	if nonce == nil {
		nonce = d.IV
	}
	if d.EncryptedData == nil || nonce == nil || d.AuthTag == nil {
		return crypto.Envelope{}, errs.New(errs.ERR_MALFORMED_ENVELOPE, "envelope requires encryptedData, nonce and authTag")
	}
	ct, err := base64.StdEncoding.DecodeString(*d.EncryptedData)
	if err != nil {
		return crypto.Envelope{}, errs.Wrap(errs.ERR_MALFORMED_ENVELOPE, err, "encryptedData")
	}
	n, err := base64.StdEncoding.DecodeString(*nonce)
	if err != nil {
		return crypto.Envelope{}, errs.Wrap(errs.ERR_MALFORMED_ENVELOPE, err, "nonce")
	}
	tag, err := base64.StdEncoding.DecodeString(*d.AuthTag)
	if err != nil {
		return crypto.Envelope{}, errs.Wrap(errs.ERR_MALFORMED_ENVELOPE, err, "authTag")
	}
	if len(n) != crypto.NonceSize || len(tag) != crypto.TagSize {
		return crypto.Envelope{}, errs.Newf(errs.ERR_MALFORMED_ENVELOPE, "nonce/authTag must be %d bytes (got %d/%d)", crypto.NonceSize, len(n), len(tag))
	}
	return crypto.Envelope{Ciphertext: ct, Nonce: n, AuthTag: tag}, nil
}
