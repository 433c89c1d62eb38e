package sanitizer

import (
	"github.com/microcosm-cc/bluemonday"

	"github.com/oneinbox/mailsync/interfaces"
)

type htmlSanitizer struct {
	policy *bluemonday.Policy
}

// NewHTMLSanitizer builds the allow-list policy applied to every email
// body before it reaches the index. Everything outside the list is
// stripped, never rejected, so sanitization cannot fail.
func NewHTMLSanitizer() interfaces.Sanitizer {
	p := bluemonday.NewPolicy()

	// Text formatting
	p.AllowElements("b", "strong", "i", "em", "u", "s", "strike", "del", "sub", "sup", "small", "abbr")

	// Structure
	p.AllowElements("p", "br", "hr", "div", "span")
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowElements("ul", "ol", "li", "dl", "dt", "dd")
	p.AllowElements("blockquote", "code", "pre", "caption")

	// Tables
	p.AllowElements("table", "thead", "tbody", "tfoot", "tr", "th", "td")
	p.AllowAttrs("colspan", "rowspan").OnElements("td", "th")

	// Links
	p.AllowElements("a")
	p.AllowAttrs("href", "name", "target").OnElements("a")

	// Images
	p.AllowElements("img")
	p.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")

	// Inline styles are allowed everywhere; bluemonday strips url()
	// and expression() payloads from the values.
	p.AllowAttrs("style").Globally()

	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)

	return &htmlSanitizer{policy: p}
}

func (s *htmlSanitizer) Sanitize(html string) string {
	return s.policy.Sanitize(html)
}
