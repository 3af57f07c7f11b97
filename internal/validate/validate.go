// Package validate holds the syntax checks shared by extraction and
// normalization: email and URL validation and locale-aware phone parsing.
package validate

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is the region used to parse numbers without a country code.
const DefaultRegion = "US"

var v = validator.New()

// Email reports whether s is a syntactically valid email address.
func Email(s string) bool {
	if s == "" {
		return false
	}
	return v.Var(s, "email") == nil
}

// URL reports whether s is an absolute http or https URL with a host.
func URL(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	return v.Var(s, "http_url") == nil
}

// ParsePhone parses raw in the given region and returns its E.164 form.
// ok is false when the text does not parse or is not a valid number.
func ParsePhone(raw, region string) (e164 string, ok bool) {
	if region == "" {
		region = DefaultRegion
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", false
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}
