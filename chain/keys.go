package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
)

type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

type netParams struct {
	pubKeyHashAddrID byte
	privateKeyID     byte
}

var networks = map[Network]netParams{
	Mainnet: {pubKeyHashAddrID: 0x00, privateKeyID: 0x80},
	Testnet: {pubKeyHashAddrID: 0x6f, privateKeyID: 0xef},
}

func ParseNetwork(s string) (Network, error) {
	n := Network(s)
	if _, ok := networks[n]; !ok {
		return "", fmt.Errorf("unknown network %q", s)
	}
	return n, nil
}

// Key is the single signing key of a funding address.
type Key struct {
	priv       *btcec.PrivateKey
	compressed bool
}

func NewKey(priv *btcec.PrivateKey) *Key {
	return &Key{priv: priv, compressed: true}
}

func GenerateKey() (*Key, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return NewKey(priv), nil
}

// DecodeWIF parses a wallet-import-format private key and checks it belongs
// to net.
func DecodeWIF(wif string, net Network) (*Key, error) {
	params, ok := networks[net]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", net)
	}
	_, version, err := base58.CheckDecode(wif)
	if err != nil {
		return nil, fmt.Errorf("wif: %w", err)
	}
	if version != params.privateKeyID {
		return nil, fmt.Errorf("wif: key is not for %s", net)
	}
	w, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("wif: %w", err)
	}
	return &Key{priv: w.PrivKey, compressed: w.CompressPubKey}, nil
}

func (k *Key) WIF(net Network) string {
	payload := k.priv.Serialize()
	if k.compressed {
		payload = append(payload, 0x01)
	}
	return base58.CheckEncode(payload, networks[net].privateKeyID)
}

func (k *Key) PubKey() []byte {
	if k.compressed {
		return k.priv.PubKey().SerializeCompressed()
	}
	return k.priv.PubKey().SerializeUncompressed()
}

func (k *Key) PubKeyHash() [20]byte {
	return Hash160(k.PubKey())
}

func (k *Key) Address(net Network) string {
	pkh := k.PubKeyHash()
	return EncodeAddress(pkh, net)
}

// Sign returns the DER (low-S) ECDSA signature of digest.
func (k *Key) Sign(digest [32]byte) []byte {
	return ecdsa.Sign(k.priv, digest[:]).Serialize()
}

func EncodeAddress(pkh [20]byte, net Network) string {
	return base58.CheckEncode(pkh[:], networks[net].pubKeyHashAddrID)
}

// DecodeAddress returns the pubkey hash of a P2PKH address on net.
func DecodeAddress(addr string, net Network) ([20]byte, error) {
	var pkh [20]byte
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return pkh, fmt.Errorf("address: %w", err)
	}
	if version != networks[net].pubKeyHashAddrID || len(payload) != 20 {
		return pkh, fmt.Errorf("address: %q is not a %s P2PKH address", addr, net)
	}
	copy(pkh[:], payload)
	return pkh, nil
}

// VerifySignature checks a DER signature over digest against a serialized
// public key.
func VerifySignature(pubKey []byte, digest [32]byte, der []byte) bool {
	pk, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return false
	}
	return sig.Verify(digest[:], pk)
}
