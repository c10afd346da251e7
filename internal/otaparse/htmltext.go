package otaparse

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements are HTML elements whose content is never message text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// HTMLToText parses an HTML body and returns its readable text with
// block elements separated by newlines. Used when an OTA payload
// carries only a text/html part.
func HTMLToText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		// Fallback: strip tags naively.
		return stripTags(raw)
	}

	var sb strings.Builder
	walkText(doc, &sb)
	return cleanWhitespace(sb.String())
}

func walkText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		if skipElements[n.DataAtom] {
			return
		}
		switch n.DataAtom {
		case atom.Br:
			sb.WriteByte('\n')
		case atom.P, atom.Div, atom.Tr, atom.Li, atom.Table,
			atom.H1, atom.H2, atom.H3, atom.H4:
			sb.WriteByte('\n')
		}
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, sb)
	}
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.P, atom.Div, atom.Tr, atom.Li, atom.Table,
			atom.H1, atom.H2, atom.H3, atom.H4:
			sb.WriteByte('\n')
		}
	}
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripTags(raw string) string {
	return cleanWhitespace(tagPattern.ReplaceAllString(raw, " "))
}

// cleanWhitespace trims line-level whitespace and collapses runs of
// blank lines to one.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
