package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/model"
)

func setRunFlags(t *testing.T, urls []string, keyword, location, file, source string) {
	t.Helper()
	runURLs, runKeyword, runLocation, runFile, runSource = urls, keyword, location, file, source
	t.Cleanup(func() {
		runURLs, runKeyword, runLocation, runFile, runSource = nil, "", "", "", ""
	})
}

func TestJobFromFlags(t *testing.T) {
	tests := []struct {
		name     string
		urls     []string
		keyword  string
		location string
		file     string
		source   string
		want     model.JobSource
		wantErr  string
	}{
		{name: "urls inferred", urls: []string{"https://acme.example"}, want: model.SourceURLs},
		{name: "file inferred", file: " ./leads.csv ", want: model.SourceFileUpload},
		{name: "web search inferred", keyword: "plumbers", location: "Austin, TX", want: model.SourceWebSearch},
		{name: "explicit api", keyword: "dentists", source: "api", want: model.SourceAPI},
		{name: "search without keyword", wantErr: "--keyword is required"},
		{name: "urls source without urls", source: "urls", wantErr: "--url is required"},
		{name: "file source without file", source: "file_upload", wantErr: "--file is required"},
		{name: "unknown source", source: "fax", wantErr: "unknown source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRunFlags(t, tt.urls, tt.keyword, tt.location, tt.file, tt.source)

			job, err := jobFromFlags()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, job.Source)
		})
	}
}

func TestJobFromFlags_TrimsInputs(t *testing.T) {
	setRunFlags(t, nil, "  plumbers ", " Austin, TX ", "", "")

	job, err := jobFromFlags()
	require.NoError(t, err)
	assert.Equal(t, "plumbers", job.Keyword)
	assert.Equal(t, "Austin, TX", job.Location)
}
