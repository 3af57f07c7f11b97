package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_Basic(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("url,name\nhttps://a.example, A \n"), CSVOptions{TrimSpace: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"url", "name"}, rows[0])
	assert.Equal(t, []string{"https://a.example", "A"}, rows[1])
}

func TestReadCSV_TabDelimitedVariableWidth(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("a\tb\tc\n1\t2\n"), CSVOptions{Delimiter: '\t'})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "2"}, rows[1])
}

func TestReadCSV_Comments(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("# exported\na,b\n"), CSVOptions{Comment: '#'})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, rows)
}

func TestReadCSV_MalformedQuotes(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a,\"b\nc"), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}

func TestStreamCSV_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	for range 10000 {
		sb.WriteString("a,b,c\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	<-rowCh
	cancel()
	for range rowCh {
	}

	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}
