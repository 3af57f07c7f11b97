// Package fetcher opens uploaded target files from local paths, HTTP or
// FTP and reads them as CSV or XLSX rows.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote file.
type Fetcher interface {
	Download(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Format is the tabular format of an uploaded file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
	FormatText Format = "text"
)

// DefaultMaxBytes caps how much of an upload is read.
const DefaultMaxBytes = 32 << 20

// Opener resolves a file URI to its bytes.
type Opener struct {
	HTTP     Fetcher
	FTP      Fetcher
	MaxBytes int64
}

// NewOpener creates an Opener with default HTTP and FTP fetchers.
func NewOpener(httpOpts HTTPOptions, ftpOpts FTPOptions) *Opener {
	return &Opener{
		HTTP:     NewHTTPFetcher(httpOpts),
		FTP:      NewFTPFetcher(ftpOpts),
		MaxBytes: DefaultMaxBytes,
	}
}

// Open returns a reader for uri. Plain paths and file:// URIs are read
// from disk.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse uri %q", uri)
	}
	switch strings.ToLower(u.Scheme) {
	case "", "file":
		p := uri
		if u.Scheme != "" {
			p = u.Path
		}
		f, err := os.Open(p) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: open file")
		}
		return f, nil
	case "http", "https":
		if o.HTTP == nil {
			return nil, eris.New("fetcher: no http fetcher configured")
		}
		return o.HTTP.Download(ctx, uri)
	case "ftp":
		if o.FTP == nil {
			return nil, eris.New("fetcher: no ftp fetcher configured")
		}
		return o.FTP.Download(ctx, uri)
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}

// ReadRows opens uri and parses it according to its extension.
// Unknown extensions are sniffed: a zip signature means XLSX, else CSV.
func (o *Opener) ReadRows(ctx context.Context, uri string) ([][]string, error) {
	rc, err := o.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	limit := o.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read upload")
	}

	switch DetectFormat(uri, data) {
	case FormatXLSX:
		return ReadXLSX(data, XLSXOptions{})
	case FormatTSV:
		return ReadCSV(ctx, bytes.NewReader(data), CSVOptions{Delimiter: '\t', TrimSpace: true})
	case FormatText:
		return readLines(data), nil
	default:
		return ReadCSV(ctx, bytes.NewReader(data), CSVOptions{TrimSpace: true, LazyQuotes: true})
	}
}

// DetectFormat picks a format from the URI extension, falling back to
// content sniffing.
func DetectFormat(uri string, data []byte) Format {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".xlsx":
		return FormatXLSX
	case ".tsv":
		return FormatTSV
	case ".txt":
		return FormatText
	case ".csv":
		return FormatCSV
	}
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return FormatXLSX
	}
	return FormatCSV
}

func readLines(data []byte) [][]string {
	var rows [][]string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rows = append(rows, []string{line})
	}
	return rows
}
