package browser

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// languageScript keeps navigator.languages consistent with the Accept-Language
// header attached to in-context fetches.
const languageScript = `(() => {
    Object.defineProperty(navigator, 'languages', {
        get: () => Object.freeze(['en-US', 'en']),
        configurable: true
    });
})();`

// CreatePage opens a page on b. Unless disableStealth is set the page carries
// the go-rod/stealth evasions (puppeteer-extra-plugin-stealth port) and the
// language patch.
func CreatePage(b *rod.Browser, disableStealth bool) (*rod.Page, error) {
	if disableStealth {
		return b.Page(proto.TargetCreateTarget{})
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, err
	}
	if _, err := page.EvalOnNewDocument(languageScript); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}
