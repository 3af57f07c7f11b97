// Package normalize canonicalizes extracted candidate values per field
// type and rejects malformed ones. Every function here is pure.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/validate"
)

// nameSuffixes are boilerplate page-title endings stripped from business
// names, checked in order.
var nameSuffixes = []string{
	" - Home",
	" | Home",
	" - Official Site",
	" | Official Site",
	" - Business",
	" | Business",
}

// Normalize canonicalizes c. ok is false when the value is rejected.
func Normalize(c model.Candidate, region string) (model.NormalizedValue, bool) {
	var (
		value string
		ok    bool
	)
	switch c.Field {
	case model.FieldBusinessName:
		value, ok = BusinessName(c.Raw)
	case model.FieldEmail:
		value, ok = Email(c.Raw)
	case model.FieldPhone:
		value, ok = Phone(c.Raw, region)
	case model.FieldWebsite:
		value, ok = Website(c.Raw)
	case model.FieldAddress:
		value, ok = Address(c.Raw)
	}
	if !ok {
		return model.NormalizedValue{}, false
	}
	return model.NormalizedValue{
		Field:      c.Field,
		Value:      value,
		Confidence: model.ClampConfidence(c.Confidence),
		Provenance: c.Provenance,
	}, true
}

// All normalizes every candidate, dropping rejected ones and keeping the
// input order.
func All(cs []model.Candidate, region string) []model.NormalizedValue {
	out := make([]model.NormalizedValue, 0, len(cs))
	for _, c := range cs {
		if nv, ok := Normalize(c, region); ok {
			out = append(out, nv)
		}
	}
	return out
}

// BusinessName trims s, strips boilerplate suffixes and collapses
// whitespace runs.
func BusinessName(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, suffix := range nameSuffixes {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
		}
	}
	s = collapseSpaces(s)
	return s, s != ""
}

// Email lowercases and trims s and checks its syntax.
func Email(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !validate.Email(s) {
		return "", false
	}
	return s, true
}

// Phone returns the E.164 form of s when it parses as a valid number in
// region, and the trimmed input otherwise. Only blank input is rejected.
func Phone(s, region string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if e164, ok := validate.ParsePhone(s, region); ok {
		return e164, true
	}
	return s, true
}

// Website trims s, adds an https scheme when none is present and checks
// the result is a valid URL.
func Website(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "https://" + s
	}
	if !validate.URL(s) {
		return "", false
	}
	return s, true
}

// Address trims s, collapses whitespace and title-cases each word.
func Address(s string) (string, bool) {
	s = collapseSpaces(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	return titleCase(s), true
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// titleCase upper-cases the first letter of each word and lowercases the
// rest.
func titleCase(s string) string {
	return cases.Title(language.Und).String(s)
}
