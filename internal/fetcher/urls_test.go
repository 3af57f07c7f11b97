package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractURLs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rows [][]string
		want []string
	}{
		{
			name: "header column",
			rows: [][]string{
				{"Name", "Website", "Phone"},
				{"Joe's Pizza", "joespizza.example", "212-555-1234"},
				{"Acme", "https://acme.example/contact", ""},
				{"Blank", "", ""},
			},
			want: []string{"https://joespizza.example", "https://acme.example/contact"},
		},
		{
			name: "url header preferred over website",
			rows: [][]string{
				{"website", "URL"},
				{"https://ignored.example", "https://used.example"},
			},
			want: []string{"https://used.example"},
		},
		{
			name: "headerless first url-like cell",
			rows: [][]string{
				{"Joe's Pizza", "info@joespizza.example", "https://joespizza.example"},
				{"12.5", "acme.example"},
				{"nothing here"},
			},
			want: []string{"https://joespizza.example", "https://acme.example"},
		},
		{
			name: "duplicates dropped",
			rows: [][]string{{"https://a.example"}, {"https://a.example"}},
			want: []string{"https://a.example"},
		},
		{name: "empty", rows: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExtractURLs(tt.rows))
		})
	}
}
