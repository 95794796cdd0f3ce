// Package certificate defines the disability certificate record, its
// validation rules and the non-sensitive views derived from it.
package certificate

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"certanchor.dev/node/errs"
	"certanchor.dev/node/keyindex"
)

// DefaultIssuer is stamped into metadata.issuer when none is configured.
const DefaultIssuer = "Disability Certificate Registry"

var DisabilityTypes = []string{"cognitiva", "fisica", "sensorial", "psiquica", "multiple"}

var phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]+$`)

type EmergencyContact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

type Certificate struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DocumentID  string `json:"documentId"`
	PhoneNumber string `json:"phoneNumber"`

	DisabilityType        string  `json:"disabilityType"`
	DisabilityPercentage  float64 `json:"disabilityPercentage"`
	DisabilityDescription string  `json:"disabilityDescription"`

	MobilityAids     []string               `json:"mobilityAids,omitempty"`
	SpecialNeeds     string                 `json:"specialNeeds,omitempty"`
	EmergencyContact *EmergencyContact      `json:"emergencyContact,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Parse decodes a JSON certificate, rejecting unknown fields.
func Parse(data []byte) (*Certificate, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var c Certificate
	if err := dec.Decode(&c); err != nil {
		return nil, errs.Wrap(errs.ERR_VALIDATION, err, "certificate JSON")
	}
	return &c, nil
}

func lengthBetween(field, v string, lo, hi int) error {
	n := utf8.RuneCountInString(v)
	if n < lo || n > hi {
		if lo <= 0 {
			return errs.Newf(errs.ERR_VALIDATION, "%q must be at most %d characters", field, hi)
		}
		return errs.Newf(errs.ERR_VALIDATION, "%q must be %d to %d characters", field, lo, hi)
	}
	return nil
}

func required(field, v string) error {
	if v == "" {
		return errs.Newf(errs.ERR_VALIDATION, "%q is required", field)
	}
	return nil
}

// Validate reports the first rule c breaks as an errs.ERR_VALIDATION.
func (c *Certificate) Validate() error {
	if c == nil {
		return errs.New(errs.ERR_VALIDATION, "certificate is required")
	}
	checks := []func() error{
		func() error { return required("firstName", c.FirstName) },
		func() error { return lengthBetween("firstName", c.FirstName, 1, 100) },
		func() error { return required("lastName", c.LastName) },
		func() error { return lengthBetween("lastName", c.LastName, 1, 100) },
		func() error { return required("documentId", c.DocumentID) },
		func() error { return lengthBetween("documentId", c.DocumentID, 7, 15) },
		func() error { return required("phoneNumber", c.PhoneNumber) },
		func() error {
			if !phonePattern.MatchString(c.PhoneNumber) {
				return errs.Newf(errs.ERR_VALIDATION, "%q has an invalid format", "phoneNumber")
			}
			return nil
		},
		func() error { return lengthBetween("phoneNumber", c.PhoneNumber, 9, 20) },
		func() error {
			for _, t := range DisabilityTypes {
				if c.DisabilityType == t {
					return nil
				}
			}
			return errs.Newf(errs.ERR_VALIDATION, "%q must be one of %s", "disabilityType", strings.Join(DisabilityTypes, ", "))
		},
		func() error {
			if c.DisabilityPercentage < 33 || c.DisabilityPercentage > 100 {
				return errs.Newf(errs.ERR_VALIDATION, "%q must be between 33 and 100", "disabilityPercentage")
			}
			return nil
		},
		func() error { return required("disabilityDescription", c.DisabilityDescription) },
		func() error { return lengthBetween("disabilityDescription", c.DisabilityDescription, 0, 1000) },
		func() error { return lengthBetween("specialNeeds", c.SpecialNeeds, 0, 500) },
		func() error {
			ec := c.EmergencyContact
			if ec == nil {
				return nil
			}
			if ec.Name == "" || ec.Phone == "" || ec.Relationship == "" {
				return errs.New(errs.ERR_VALIDATION, `"emergencyContact" requires name, phone and relationship`)
			}
			return nil
		},
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// Stamp returns a copy of c with metadata.issuedAt and metadata.issuer set.
// Caller metadata is preserved; the stamp wins on key clashes.
func (c *Certificate) Stamp(now time.Time, issuer string) *Certificate {
	out := *c
	out.Metadata = make(map[string]interface{}, len(c.Metadata)+2)
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	out.Metadata["issuedAt"] = now.UTC().Format(time.RFC3339Nano)
	out.Metadata["issuer"] = issuer
	return &out
}

// Preview is the listing summary kept unencrypted in the key index.
func (c *Certificate) Preview(now time.Time) keyindex.Preview {
	return keyindex.Preview{
		DisabilityType: c.DisabilityType,
		Percentage:     c.DisabilityPercentage,
		CreatedAt:      now.UTC(),
	}
}
