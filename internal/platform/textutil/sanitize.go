package textutil

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// textEntities reverses the escaping applied to text that cannot form markup.
// &lt; and &gt; stay escaped so text never turns back into tags.
var textEntities = strings.NewReplacer(
	"&amp;", "&",
	"&#39;", "'",
	"&#34;", `"`,
	"&#13;", "\r",
)

// PlainText strips every HTML element from customer supplied text such as
// order notes. The zero value is not usable; use NewPlainText.
type PlainText struct {
	policy *bluemonday.Policy
}

// NewPlainText builds a sanitizer backed by bluemonday's strict policy.
func NewPlainText() *PlainText {
	return &PlainText{policy: bluemonday.StrictPolicy()}
}

// Sanitize removes markup, unescapes ampersands and quotes, drops control
// characters other than newlines and tabs, and trims the result. Angle
// brackets that survive as text stay escaped.
func (p *PlainText) Sanitize(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	stripped := textEntities.Replace(p.policy.Sanitize(input))
	stripped = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, stripped)
	return strings.TrimSpace(stripped)
}
