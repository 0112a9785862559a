package fetch

import (
	"maps"

	"github.com/jmylchreest/gatefetch/internal/session"
)

// Header names sent with every call.
const (
	HeaderAccept         = "Accept"
	HeaderAcceptLanguage = "Accept-Language"
	HeaderOrigin         = "Origin"
	HeaderReferer        = "Referer"
	HeaderCookie         = "Cookie"
	HeaderUserAgent      = "User-Agent"
)

func baseHeaders(origin, referer string) map[string]string {
	h := map[string]string{
		HeaderAccept:         "application/json, text/plain, */*",
		HeaderAcceptLanguage: "en-US,en;q=0.9",
		"Sec-Fetch-Dest":     "empty",
		"Sec-Fetch-Mode":     "cors",
		"Sec-Fetch-Site":     "same-origin",
	}
	if origin != "" {
		h[HeaderOrigin] = origin
	}
	if referer != "" {
		h[HeaderReferer] = referer
	}
	return h
}

// requestHeaders is the fixed set plus the session's cookie and agent.
func requestHeaders(base map[string]string, creds session.Credentials) map[string]string {
	h := maps.Clone(base)
	h[HeaderCookie] = creds.CookieHeader
	h[HeaderUserAgent] = creds.UserAgent
	return h
}
