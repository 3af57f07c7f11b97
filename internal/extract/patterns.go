package extract

import "regexp"

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)

	// Tried in order: US dashed/dotted, bare 10-digit, parenthesized area
	// code, loose international.
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
		regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
		regexp.MustCompile(`\(\d{3}\)\s?\d{3}[-.]?\d{4}\b`),
		regexp.MustCompile(`\b\d{1,3}[-.\s]?\d{3,4}[-.\s]?\d{3,4}[-.\s]?\d{3,4}\b`),
	}

	// <number> <street>, <city>, <STATE> <ZIP>
	addressStrictRe = regexp.MustCompile(`\d+[ \t]+[A-Za-z0-9 \t]+,[ \t]+[A-Za-z \t]+,[ \t]+[A-Z]{2}[ \t]+\d{5}`)

	addressFallbackPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\d+[ \t]+[A-Za-z0-9 \t]+,[ \t]+[A-Za-z \t]+,[ \t]+\d{5}`),
		regexp.MustCompile(`(?i)\d+[ \t]+[A-Za-z0-9 \t]+,[ \t]+[A-Za-z \t]*[A-Za-z]`),
	}

	websiteRe = regexp.MustCompile(`https?://(www\.)?[-a-zA-Z0-9@:%._\+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b([-a-zA-Z0-9()@:%_\+.~#?&/=]*)`)
)
