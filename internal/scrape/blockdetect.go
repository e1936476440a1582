package scrape

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone        BlockType = ""
	BlockCloudflare  BlockType = "cloudflare"
	BlockCaptcha     BlockType = "captcha"
	BlockJSShell     BlockType = "js_shell"
	BlockRateLimited BlockType = "rate_limited"
)

// shellSize is the body size below which a page is considered a bare
// interstitial rather than a real site.
const shellSize = 2000

// DetectBlock checks an HTTP response for signs of anti-bot protection.
// Captcha widgets embedded in an ordinary 2xx page (contact forms) are not
// treated as blocks; only challenge pages are.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return true, BlockRateLimited
	}

	if isCloudflareChallenge(resp) {
		return true, BlockCloudflare
	}

	lower := strings.ToLower(string(body))
	challenge := resp.StatusCode >= 400 || len(body) < shellSize

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") {
		return true, BlockCloudflare
	}

	if challenge && strings.Contains(lower, "captcha") {
		return true, BlockCaptcha
	}

	if len(body) < shellSize {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "enable javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, `http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}

func isCloudflareChallenge(resp *http.Response) bool {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
		return false
	}
	return resp.Header.Get("cf-ray") != "" ||
		resp.Header.Get("cf-mitigated") != "" ||
		strings.EqualFold(resp.Header.Get("server"), "cloudflare")
}
