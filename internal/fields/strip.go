package fields

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML removes tags and comments and decodes entities.
func StripHTML(s string) string {
	return strip(s, false)
}

// StripHTMLMedia is StripHTML, but image references survive as their file
// name so two fields differing only in pictures do not compare equal.
func StripHTMLMedia(s string) string {
	return strip(s, true)
}

func strip(s string, keepMedia bool) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a malformed tail: keep what was collected.
			return strings.TrimSpace(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "script", "style":
				if tt == html.StartTagToken {
					skip++
				}
			case "img":
				if keepMedia {
					for _, a := range tok.Attr {
						if a.Key == "src" {
							b.WriteString(" " + a.Val + " ")
						}
					}
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if (string(name) == "script" || string(name) == "style") && skip > 0 {
				skip--
			}
		}
	}
}
