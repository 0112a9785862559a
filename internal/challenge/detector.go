// Package challenge classifies responses that bot-protection layers return
// in place of the requested data.
package challenge

import (
	"bytes"
	"net/http"
	"regexp"
	"strings"

	"github.com/jmylchreest/gatefetch/internal/browser"
)

// Type identifies what kind of rejection a response looks like.
type Type string

const (
	// TypeNone means the response looks like real data.
	TypeNone Type = "none"
	// TypeAkamai is an Akamai Bot Manager "Access Denied" page.
	TypeAkamai Type = "akamai"
	// TypeCloudflare is a Cloudflare JS or Turnstile challenge.
	TypeCloudflare Type = "cloudflare"
	// TypeDDoSGuard is a DDoS-Guard challenge.
	TypeDDoSGuard Type = "ddosguard"
	// TypeCaptcha is an hCaptcha or reCAPTCHA page.
	TypeCaptcha Type = "captcha"
	// TypeRateLimited is HTTP 429.
	TypeRateLimited Type = "rate_limited"
	// TypeAccessDenied is a 401/403 without a recognised vendor page.
	TypeAccessDenied Type = "access_denied"
	// TypeHTML is an HTML document where JSON was expected.
	TypeHTML Type = "html"
	// TypeEmpty is a successful status with no body.
	TypeEmpty Type = "empty"
	// TypeUnknown is any other non-success response.
	TypeUnknown Type = "unknown"
)

// Detection describes a classified response.
type Detection struct {
	Type   Type   `json:"type"`
	Status int    `json:"status"`
	Title  string `json:"title,omitempty"`
}

// Blocked reports whether the response was a rejection.
func (d Detection) Blocked() bool {
	return d.Type != TypeNone
}

var (
	titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

	// Checked in order; the first match wins.
	bodySignals = []struct {
		typ      Type
		patterns []string
	}{
		{TypeAkamai, []string{"errors.edgesuite.net", "reference&#32;&#35;", "you don't have permission to access"}},
		{TypeCloudflare, []string{"cf-browser-verification", "challenges.cloudflare.com", "cf-turnstile", "cf_chl_opt", "just a moment..."}},
		{TypeDDoSGuard, []string{"ddos-guard"}},
		{TypeCaptcha, []string{"hcaptcha.com", "h-captcha", "g-recaptcha", "www.google.com/recaptcha"}},
	}
)

// Detector classifies responses.
type Detector struct {
	// MaxScan caps how many body bytes are inspected.
	MaxScan int
}

// NewDetector creates a Detector with default settings.
func NewDetector() *Detector {
	return &Detector{MaxScan: 64 << 10}
}

// Classify inspects status, content type and body of resp.
func (d *Detector) Classify(resp *browser.Response) Detection {
	if resp == nil {
		return Detection{Type: TypeUnknown}
	}

	det := Detection{Type: TypeNone, Status: resp.Status}
	body := resp.Body
	if d.MaxScan > 0 && len(body) > d.MaxScan {
		body = body[:d.MaxScan]
	}
	lower := bytes.ToLower(body)
	det.Title = title(body)

	if resp.Status == http.StatusTooManyRequests {
		det.Type = TypeRateLimited
		return det
	}

	if isHTML(resp.ContentType, lower) {
		for _, sig := range bodySignals {
			for _, p := range sig.patterns {
				if bytes.Contains(lower, []byte(p)) {
					det.Type = sig.typ
					return det
				}
			}
		}
		if strings.EqualFold(det.Title, "Access Denied") {
			det.Type = TypeAkamai
			return det
		}
	}

	switch {
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		det.Type = TypeAccessDenied
	case !resp.OK():
		det.Type = TypeUnknown
	case len(bytes.TrimSpace(resp.Body)) == 0:
		det.Type = TypeEmpty
	case isHTML(resp.ContentType, lower):
		det.Type = TypeHTML
	}
	return det
}

func isHTML(contentType string, lowerBody []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	trimmed := bytes.TrimSpace(lowerBody)
	return bytes.HasPrefix(trimmed, []byte("<!doctype html")) || bytes.HasPrefix(trimmed, []byte("<html"))
}

func title(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(string(m[1]))
}
