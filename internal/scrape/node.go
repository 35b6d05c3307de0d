package scrape

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func parse(body string) (*html.Node, error) {
	return html.Parse(strings.NewReader(body))
}

// parseTable parses body so that bare <tr>/<td> fragments survive; the HTML5
// parser drops table rows that appear outside a table.
func parseTable(body string) (*html.Node, error) {
	if !strings.Contains(strings.ToLower(body), "<table") {
		body = "<table>" + body + "</table>"
	}
	return parse(body)
}

// collect returns every element matching a in document order.
func collect(root *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}

// rawText concatenates every text node under n without normalization.
func rawText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// cellText is the whitespace-collapsed visible text of a cell.
func cellText(n *html.Node) string {
	return strings.Join(strings.Fields(rawText(n)), " ")
}
