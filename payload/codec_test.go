package payload

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"certanchor.dev/node/crypto"
	"certanchor.dev/node/errs"
	"certanchor.dev/node/script"
)

func sampleEnvelope() crypto.Envelope {
	return crypto.Envelope{
		Ciphertext: []byte("ciphertext-bytes"),
		Nonce:      bytes.Repeat([]byte{0x01}, crypto.NonceSize),
		AuthTag:    bytes.Repeat([]byte{0x02}, crypto.TagSize),
	}
}

func TestEncodeExactWireFormat(t *testing.T) {
	blob, err := Default().Encode(sampleEnvelope())
	require.NoError(t, err)
	want := `disabd{"encryptedData":"Y2lwaGVydGV4dC1ieXRlcw==","nonce":"AQEBAQEBAQEBAQEBAQEBAQ==","authTag":"AgICAgICAgICAgICAgICAg=="}`
	require.Equal(t, want, string(blob))
}

func TestEncodeDeterministic(t *testing.T) {
	c := Default()
	a, err := c.Encode(sampleEnvelope())
	require.NoError(t, err)
	b, err := c.Encode(sampleEnvelope())
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestDecodeRoundTripThroughScript(t *testing.T) {
	c := Default()
	env := sampleEnvelope()
	blob, err := c.Encode(env)
	require.NoError(t, err)
	s, err := script.Scriptify(blob)
	require.NoError(t, err)
	back, err := script.Unscriptify(s)
	require.NoError(t, err)

	got, err := c.Decode(back)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestDecodeToleratesLeadingBytes(t *testing.T) {
	c := Default()
	blob, err := c.Encode(sampleEnvelope())
	require.NoError(t, err)
	got, err := c.Decode(append([]byte{0x00, 0x6a, 0x4c, 0x99}, blob...))
	require.NoError(t, err)
	require.Equal(t, sampleEnvelope(), got)
}

func TestDecodeLegacyShapes(t *testing.T) {
	c := Default()
	iv := `disabd{"encryptedData":"Y2lwaGVydGV4dC1ieXRlcw==","iv":"AQEBAQEBAQEBAQEBAQEBAQ==","authTag":"AgICAgICAgICAgICAgICAg=="}`
	got, err := c.Decode([]byte(iv))
	require.NoError(t, err)
	require.Equal(t, sampleEnvelope(), got)

	wrapped := `disabd{"encrypted":{"encryptedData":"Y2lwaGVydGV4dC1ieXRlcw==","iv":"AQEBAQEBAQEBAQEBAQEBAQ==","authTag":"AgICAgICAgICAgICAgICAg=="}}`
	got, err = c.Decode([]byte(wrapped))
	require.NoError(t, err)
	require.Equal(t, sampleEnvelope(), got)
}

func TestDecodeErrors(t *testing.T) {
	c := Default()
	cases := []struct {
		name string
		blob string
		code errs.ErrorCode
	}{
		{"no_prefix", `{"encryptedData":"","nonce":"","authTag":""}`, errs.ERR_PREFIX_NOT_FOUND},
		{"not_json", `disabd{not json`, errs.ERR_MALFORMED_ENVELOPE},
		{"missing_tag", `disabd{"encryptedData":"AA==","nonce":"AQEBAQEBAQEBAQEBAQEBAQ=="}`, errs.ERR_MALFORMED_ENVELOPE},
		{"bad_base64", `disabd{"encryptedData":"!!","nonce":"AQEBAQEBAQEBAQEBAQEBAQ==","authTag":"AgICAgICAgICAgICAgICAg=="}`, errs.ERR_MALFORMED_ENVELOPE},
		{"short_nonce", `disabd{"encryptedData":"AA==","nonce":"AQE=","authTag":"AgICAgICAgICAgICAgICAg=="}`, errs.ERR_MALFORMED_ENVELOPE},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Decode([]byte(tc.blob))
			require.True(t, errs.Is(err, tc.code), "got %v", err)
		})
	}
}

func TestNewCodecPrefixLength(t *testing.T) {
	_, err := NewCodec("ANCHOR")
	require.NoError(t, err)
	_, err = NewCodec("toolongprefix")
	require.True(t, errs.Is(err, errs.ERR_CONFIG))
}
