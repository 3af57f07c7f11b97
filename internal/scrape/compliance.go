package scrape

import (
	"net/url"
	"strings"
)

// reviewRequiredDomains have terms of service that call for a manual
// review of anything collected from them.
var reviewRequiredDomains = []string{
	"google.com",
	"facebook.com",
	"linkedin.com",
	"twitter.com",
	"instagram.com",
	"youtube.com",
	"amazon.com",
	"ebay.com",
	"craigslist.org",
}

// captchaProneSources frequently serve CAPTCHAs to automated clients.
var captchaProneSources = []string{
	"google.com/search",
	"bing.com/search",
	"yahoo.com/search",
	"yellowpages.com",
	"yelp.com",
	"indeed.com",
	"glassdoor.com",
}

// RequiresReview reports whether rawURL's host is on the review list.
// Subdomains match.
func RequiresReview(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range reviewRequiredDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// CaptchaLikely reports whether rawURL points at a source known for
// serving CAPTCHAs.
func CaptchaLikely(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, s := range captchaProneSources {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
