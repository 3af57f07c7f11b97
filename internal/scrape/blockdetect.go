package scrape

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BlockType describes the kind of anti-bot response detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// captchaSelectors match the markup CAPTCHA widgets inject into a page.
var captchaSelectors = []string{
	`iframe[src*="captcha"]`,
	`[id*="captcha"]`,
	`[class*="captcha"]`,
	`img[alt*="captcha"]`,
	`.g-recaptcha`,
	`.h-captcha`,
}

// DetectBlock inspects a response for anti-bot interstitials. Captcha
// widgets are checked structurally so that pages merely mentioning the
// word are not flagged.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable) {
		if resp.Header.Get("cf-ray") != "" || strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cf-challenge") {
		return true, BlockCloudflare
	}

	if DetectCaptcha(body) {
		return true, BlockCaptcha
	}

	if len(body) < 2000 && strings.Contains(lower, `http-equiv="refresh"`) {
		return true, BlockJSShell
	}

	return false, BlockNone
}

// DetectCaptcha reports whether the HTML contains a CAPTCHA widget.
func DetectCaptcha(body []byte) bool {
	if !bytes.Contains(bytes.ToLower(body), []byte("captcha")) {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range captchaSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}
