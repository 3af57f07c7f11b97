package fetcher

import (
	"strings"
	"unicode"

	"github.com/sells-group/leadgen-cli/internal/validate"
)

// urlHeaders name the columns that hold target URLs, in priority order.
var urlHeaders = []string{"url", "website", "site", "homepage", "link"}

// ExtractURLs pulls target URLs out of tabular rows. When the first row
// has a recognized header, that column is used for the remaining rows.
// Otherwise each row contributes its first cell that looks like a URL.
// Bare domains get an https:// prefix. Duplicates are dropped.
func ExtractURLs(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}

	col := headerColumn(rows[0])
	body := rows
	if col >= 0 {
		body = rows[1:]
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(cell string) bool {
		u, ok := asURL(cell)
		if !ok {
			return false
		}
		if _, dup := seen[u]; !dup {
			seen[u] = struct{}{}
			out = append(out, u)
		}
		return true
	}

	for _, row := range body {
		if col >= 0 {
			if col < len(row) {
				add(row[col])
			}
			continue
		}
		for _, cell := range row {
			if add(cell) {
				break
			}
		}
	}
	return out
}

func headerColumn(header []string) int {
	for _, want := range urlHeaders {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), want) {
				return i
			}
		}
	}
	return -1
}

func asURL(cell string) (string, bool) {
	s := strings.TrimSpace(cell)
	if s == "" || strings.ContainsAny(s, " \t@") {
		return "", false
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if !strings.Contains(s, ".") || strings.IndexFunc(s, unicode.IsLetter) < 0 {
			return "", false
		}
		s = "https://" + s
	}
	if !validate.URL(s) {
		return "", false
	}
	return s, true
}
