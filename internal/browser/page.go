package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// fetchScript performs the GET with the page's own network stack so the call
// carries the browser's TLS and JS fingerprint and its cookie jar. Headers the
// browser treats as forbidden (Cookie, Origin, ...) are silently dropped by
// fetch(); Referer is mapped onto the referrer option.
const fetchScript = `async (url, headers) => {
    const init = { method: 'GET', headers: {}, credentials: 'include', cache: 'no-store' };
    for (const [k, v] of Object.entries(headers || {})) {
        if (k.toLowerCase() === 'referer') {
            init.referrer = v;
            continue;
        }
        init.headers[k] = v;
    }
    const res = await fetch(url, init);
    const body = await res.text();
    return {
        url: res.url,
        status: res.status,
        contentType: res.headers.get('content-type') || '',
        body: body
    };
}`

type rodPage struct {
	page *rod.Page
	opts Options
}

func (p *rodPage) SetUserAgent(userAgent string) error {
	return p.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: "en-US,en;q=0.9",
	})
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx).Timeout(p.opts.NavigationTimeout)
	defer page.CancelTimeout()

	wait := page.WaitRequestIdle(p.opts.NetworkIdleWait, nil, nil, nil)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	wait()

	// WaitRequestIdle swallows timeouts, so surface them here.
	return page.GetContext().Err()
}

func (p *rodPage) Cookies() ([]Cookie, error) {
	cookies, err := p.page.Cookies(nil)
	if err != nil {
		return nil, err
	}
	return fromProtoCookies(cookies), nil
}

func (p *rodPage) Fetch(ctx context.Context, req FetchRequest) (*Response, error) {
	page := p.page.Context(ctx).Timeout(p.opts.RequestTimeout)
	defer page.CancelTimeout()

	res, err := page.Eval(fetchScript, req.URL, req.Headers)
	if err != nil {
		return nil, fmt.Errorf("in-page fetch: %w", err)
	}

	v := res.Value
	return &Response{
		URL:         v.Get("url").Str(),
		Status:      v.Get("status").Int(),
		ContentType: v.Get("contentType").Str(),
		Body:        []byte(v.Get("body").Str()),
	}, nil
}

func (p *rodPage) Closed() bool {
	_, err := p.page.Info()
	return err != nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

func fromProtoCookies(cookies []*proto.NetworkCookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return out
}
