// Package keyindex maps anchor ids to the key material that opens the
// envelope anchored under them, plus a non-sensitive preview for listing.
package keyindex

import (
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"certanchor.dev/node/crypto"
	"certanchor.dev/node/errs"
)

// AnchorIDSize is the length in hex characters of an anchor id.
const AnchorIDSize = 64

// Preview is the only certificate data stored in the clear.
type Preview struct {
	DisabilityType string    `json:"disabilityType"`
	Percentage     float64   `json:"percentage"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IndexRecord is immutable once put.
type IndexRecord struct {
	AnchorID       string    `json:"anchorId"`
	KeyMaterialHex string    `json:"keyMaterialHex"`
	CreatedAt      time.Time `json:"createdAt"`
	Preview        Preview   `json:"preview"`
}

// Index is implemented by every key index backend. Put fails with
// errs.ERR_ALREADY_EXISTS for a known anchor id and Get with
// errs.ERR_NOT_FOUND for an unknown one. GetAll is ordered by creation time.
type Index interface {
	Put(rec IndexRecord) error
	Get(anchorID string) (IndexRecord, error)
	GetAll() ([]IndexRecord, error)
	Clear() error
	Close() error
}

// ValidateAnchorID checks id is 64 hex characters.
func ValidateAnchorID(id string) error {
	if len(id) != AnchorIDSize {
		return errs.Newf(errs.ERR_VALIDATION, "anchor id must be %d hex characters (got %d)", AnchorIDSize, len(id))
	}
	if _, err := hex.DecodeString(id); err != nil {
		return errs.Wrap(errs.ERR_VALIDATION, err, "anchor id")
	}
	return nil
}

// NormalizeAnchorID validates id and returns it in the lowercase form ids
// are indexed under.
func NormalizeAnchorID(id string) (string, error) {
	if err := ValidateAnchorID(id); err != nil {
		return "", err
	}
	return strings.ToLower(id), nil
}

func validateRecord(rec IndexRecord) error {
	if err := ValidateAnchorID(rec.AnchorID); err != nil {
		return err
	}
	if _, err := crypto.ParseKeyMaterialHex(rec.KeyMaterialHex); err != nil {
		return err
	}
	return nil
}

func sortRecords(recs []IndexRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].AnchorID < recs[j].AnchorID
	})
}

func sortStored(list []storedRecord) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].AnchorID < list[j].AnchorID
	})
}
