package model

// FieldType identifies which business field an extracted value describes.
type FieldType string

const (
	FieldBusinessName FieldType = "business_name"
	FieldEmail        FieldType = "email"
	FieldPhone        FieldType = "phone"
	FieldAddress      FieldType = "address"
	FieldWebsite      FieldType = "website"
)

// FieldTypes lists every field type in extraction order.
var FieldTypes = []FieldType{
	FieldBusinessName,
	FieldEmail,
	FieldPhone,
	FieldAddress,
	FieldWebsite,
}

// Provenance tags identify the method that produced a candidate.
const (
	ProvenanceTitle         = "title"
	ProvenanceH1            = "h1"
	ProvenanceRegex         = "regex"
	ProvenanceRegexFallback = "regex-fallback"
	ProvenancePhoneParser   = "phone-parser"
	provenanceSelector      = "selector:"
)

// SelectorProvenance returns the provenance tag for a CSS selector match.
func SelectorProvenance(selector string) string {
	return provenanceSelector + selector
}

// Candidate is one raw finding for a single field type. Candidates are
// created per extraction pass and never persisted.
type Candidate struct {
	Field      FieldType `json:"field"`
	Raw        string    `json:"raw"`
	Confidence float64   `json:"confidence"`
	Provenance string    `json:"provenance"`
}

// NormalizedValue is a candidate after canonicalization. Rejected
// candidates never produce a NormalizedValue.
type NormalizedValue struct {
	Field      FieldType `json:"field"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Provenance string    `json:"provenance"`
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
