package classifier

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractText strips markup from a filing document and returns at most maxChars
// bytes of whitespace-normalized text. Plain-text documents pass through.
func ExtractText(raw string, maxChars int) string {
	text := raw
	if strings.Contains(raw, "<") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
		if err == nil {
			doc.Find("script, style, head").Remove()
			text = doc.Text()
		}
	}

	text = strings.Join(strings.Fields(text), " ")
	if maxChars > 0 {
		text = truncate(text, maxChars)
	}
	return text
}
