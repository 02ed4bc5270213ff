package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const htmlBlockSelector = "p, div, li, tr, h1, h2, h3, h4, h5, h6, section, article, blockquote, pre, title"

func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, template, svg").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(htmlBlockSelector).AppendHtml("\n")

	var sb strings.Builder
	if title := strings.TrimSpace(doc.Find("head title").Text()); title != "" {
		sb.WriteString(title)
		sb.WriteString("\n\n")
	}
	body := doc.Find("body")
	if body.Length() == 0 {
		sb.WriteString(doc.Text())
	} else {
		sb.WriteString(body.Text())
	}
	return sb.String(), nil
}

func init() {
	Register("html", extractHTML)
}
