package certificate

import (
	"math"

	"certanchor.dev/node/errs"
	"certanchor.dev/node/keyindex"
)

// FieldNames are the top-level JSON names of a certificate record,
// including the metadata object.
var FieldNames = []string{
	"firstName", "lastName", "documentId", "phoneNumber",
	"disabilityType", "disabilityPercentage", "disabilityDescription",
	"mobilityAids", "specialNeeds", "emergencyContact", "metadata",
}

func isFieldName(name string) bool {
	for _, f := range FieldNames {
		if f == name {
			return true
		}
	}
	return false
}

// Project returns the subset of record named by fields. A nil fields
// returns record unchanged; an empty one returns an empty object. Names the
// record does not carry are skipped and reported in dropped.
func Project(record map[string]interface{}, fields []string) (out map[string]interface{}, dropped []string) {
	if fields == nil {
		return record, nil
	}
	out = make(map[string]interface{}, len(fields))
	for _, f := range fields {
		v, ok := record[f]
		if !ok {
			dropped = append(dropped, f)
			continue
		}
		out[f] = v
	}
	return out, dropped
}

// ProjectStrict is Project that refuses names outside FieldNames. Known
// optional fields the record lacks are still skipped silently.
func ProjectStrict(record map[string]interface{}, fields []string) (map[string]interface{}, error) {
	for _, f := range fields {
		if !isFieldName(f) {
			return nil, errs.Newf(errs.ERR_VALIDATION, "unknown field %q", f)
		}
	}
	out, _ := Project(record, fields)
	return out, nil
}

type Stats struct {
	Total             int            `json:"total"`
	ByType            map[string]int `json:"byType"`
	AveragePercentage int            `json:"averagePercentage"`
}

// ComputeStats aggregates the previews of recs. The average is rounded to
// the nearest integer, halves away from zero.
func ComputeStats(recs []keyindex.IndexRecord) Stats {
	s := Stats{Total: len(recs), ByType: make(map[string]int)}
	var sum float64
	for _, r := range recs {
		s.ByType[r.Preview.DisabilityType]++
		sum += r.Preview.Percentage
	}
	if len(recs) > 0 {
		s.AveragePercentage = int(math.Round(sum / float64(len(recs))))
	}
	return s
}
