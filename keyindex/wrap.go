package keyindex

import (
	"encoding/hex"
	"time"

	"certanchor.dev/node/crypto"
	"certanchor.dev/node/errs"
)

// storedRecord is the on-disk form. With a key-encryption key configured the
// key material is kept only in WrappedKey (AES key wrap).
type storedRecord struct {
	AnchorID       string    `json:"anchorId"`
	KeyMaterialHex string    `json:"keyMaterialHex,omitempty"`
	WrappedKey     string    `json:"wrappedKey,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Preview        Preview   `json:"preview"`
}

type keyWrapper struct {
	kek []byte
}

func (w keyWrapper) seal(rec IndexRecord) (storedRecord, error) {
	s := storedRecord{
		AnchorID:  rec.AnchorID,
		CreatedAt: rec.CreatedAt,
		Preview:   rec.Preview,
	}
	if w.kek == nil {
		s.KeyMaterialHex = rec.KeyMaterialHex
		return s, nil
	}
	km, err := crypto.ParseKeyMaterialHex(rec.KeyMaterialHex)
	if err != nil {
		return storedRecord{}, err
	}
	wrapped, err := crypto.WrapKeyMaterial(w.kek, km)
	if err != nil {
		return storedRecord{}, err
	}
	s.WrappedKey = hex.EncodeToString(wrapped)
	return s, nil
}

func (w keyWrapper) open(s storedRecord) (IndexRecord, error) {
	rec := IndexRecord{
		AnchorID:       s.AnchorID,
		KeyMaterialHex: s.KeyMaterialHex,
		CreatedAt:      s.CreatedAt,
		Preview:        s.Preview,
	}
	if s.WrappedKey == "" {
		return rec, nil
	}
	if w.kek == nil {
		return IndexRecord{}, errs.Newf(errs.ERR_CONFIG, "record %s is key-wrapped but no wrap key is configured", s.AnchorID)
	}
	wrapped, err := hex.DecodeString(s.WrappedKey)
	if err != nil {
		return IndexRecord{}, errs.Wrap(errs.ERR_DECODE, err, "wrapped key")
	}
	km, err := crypto.UnwrapKeyMaterial(w.kek, wrapped)
	if err != nil {
		return IndexRecord{}, err
	}
	rec.KeyMaterialHex = km.Hex()
	return rec, nil
}
