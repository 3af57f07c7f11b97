package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/model"
)

func TestBusinessName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Joe's Pizza - Home", "Joe's Pizza", true},
		{"  Acme   Plumbing | Official Site ", "Acme Plumbing", true},
		{"Widgets Inc - Business", "Widgets Inc", true},
		{"Home Depot", "Home Depot", true},
		{"Acme - Home - Home", "Acme - Home", true},
		{"Acme - Business - Home", "Acme", true},
		{"Acme | Official Site - Home", "Acme", true},
		{"   ", "", false},
	}
	for _, tt := range tests {
		got, ok := BusinessName(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestEmail(t *testing.T) {
	t.Parallel()

	got, ok := Email("  Info@JoesPizza.COM ")
	require.True(t, ok)
	assert.Equal(t, "info@joespizza.com", got)

	_, ok = Email("nobody@")
	assert.False(t, ok)
}

func TestPhone(t *testing.T) {
	t.Parallel()

	got, ok := Phone("(212) 555-1234", "US")
	require.True(t, ok)
	assert.Equal(t, "+12125551234", got)

	got, ok = Phone("  call us ", "US")
	require.True(t, ok, "unparseable phones are kept best-effort")
	assert.Equal(t, "call us", got)

	_, ok = Phone("  ", "US")
	assert.False(t, ok)
}

func TestWebsite(t *testing.T) {
	t.Parallel()

	got, ok := Website("joespizza.com")
	require.True(t, ok)
	assert.Equal(t, "https://joespizza.com", got)

	got, ok = Website(" http://example.org/about ")
	require.True(t, ok)
	assert.Equal(t, "http://example.org/about", got)

	_, ok = Website("not a url")
	assert.False(t, ok)

	_, ok = Website("")
	assert.False(t, ok)
}

func TestAddress(t *testing.T) {
	t.Parallel()

	got, ok := Address("  123   main st,\n springfield, IL 62704 ")
	require.True(t, ok)
	assert.Equal(t, "123 Main St, Springfield, Il 62704", got)

	got, ok = Address("123 MAIN STREET, SPRINGFIELD, IL 62704")
	require.True(t, ok)
	assert.Equal(t, "123 Main Street, Springfield, Il 62704", got)

	_, ok = Address(" \t ")
	assert.False(t, ok)
}

func TestNormalize_Dispatch(t *testing.T) {
	t.Parallel()

	nv, ok := Normalize(model.Candidate{
		Field: model.FieldBusinessName, Raw: "Joe's Pizza - Home", Confidence: 0.9, Provenance: model.ProvenanceTitle,
	}, "US")
	require.True(t, ok)
	assert.Equal(t, model.NormalizedValue{
		Field: model.FieldBusinessName, Value: "Joe's Pizza", Confidence: 0.9, Provenance: model.ProvenanceTitle,
	}, nv)

	_, ok = Normalize(model.Candidate{Field: model.FieldEmail, Raw: "broken@", Confidence: 0.95}, "US")
	assert.False(t, ok)

	_, ok = Normalize(model.Candidate{Field: model.FieldType("fax"), Raw: "123"}, "US")
	assert.False(t, ok)
}

func TestNormalize_ClampsConfidence(t *testing.T) {
	t.Parallel()

	nv, ok := Normalize(model.Candidate{Field: model.FieldEmail, Raw: "a@x.com", Confidence: 1.4}, "US")
	require.True(t, ok)
	assert.Equal(t, 1.0, nv.Confidence)
}

func TestNormalize_Deterministic(t *testing.T) {
	t.Parallel()

	cands := []model.Candidate{
		{Field: model.FieldBusinessName, Raw: " Acme | Home ", Confidence: 0.9},
		{Field: model.FieldPhone, Raw: "212.555.1234", Confidence: 0.7},
		{Field: model.FieldPhone, Raw: "call us", Confidence: 0.7},
		{Field: model.FieldWebsite, Raw: "acme.io", Confidence: 0.9},
		{Field: model.FieldAddress, Raw: "9 elm rd, salem", Confidence: 0.6},
		{Field: model.FieldEmail, Raw: "bad", Confidence: 0.95},
	}

	first := All(cands, "US")
	second := All(cands, "US")
	assert.Equal(t, first, second)
	require.Len(t, first, 5)
	assert.Equal(t, "Acme", first[0].Value)
	assert.Equal(t, "+12125551234", first[1].Value)
	assert.Equal(t, "9 Elm Rd, Salem", first[4].Value)
}
