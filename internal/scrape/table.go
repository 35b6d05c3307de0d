package scrape

import (
	"regexp"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var tableIDPattern = regexp.MustCompile(`table_id=['"]?([^'"&\s;)]+)`)

// Row is one actionable listing row: its remote id and the visible text of
// each cell in order. Keeping the id and every column together means a row's
// stored filename can never be paired with another row's id.
type Row struct {
	ID    string
	Cells []string
}

// Cell returns the text at column i.
func (r Row) Cell(i int) (string, bool) {
	if i < 0 || i >= len(r.Cells) {
		return "", false
	}
	return r.Cells[i], true
}

// Index maps a row's display name to its remote id.
type Index map[string]string

// Rows extracts every listing row after the header row. Rows without a
// table_id token are not actionable and are skipped.
func Rows(body string) ([]Row, error) {
	doc, err := parseTable(body)
	if err != nil {
		return nil, &ScrapeError{What: "parse listing", Err: err}
	}
	trs := collect(doc, atom.Tr)
	if len(trs) == 0 {
		return nil, nil
	}

	rows := make([]Row, 0, len(trs)-1)
	for _, tr := range trs[1:] {
		id, ok := rowID(tr)
		if !ok {
			continue
		}
		tds := collect(tr, atom.Td)
		cells := make([]string, 0, len(tds))
		for _, td := range tds {
			cells = append(cells, cellText(td))
		}
		rows = append(rows, Row{ID: id, Cells: cells})
	}
	return rows, nil
}

// ScrapeIndex builds name -> id from the cell at keyColumn of every row.
func ScrapeIndex(body string, keyColumn int) (Index, error) {
	rows, err := Rows(body)
	if err != nil {
		return nil, err
	}
	return IndexRows(rows, keyColumn), nil
}

// IndexRows keys rows by the cell at keyColumn. Rows too short to have that
// cell are left out.
func IndexRows(rows []Row, keyColumn int) Index {
	idx := make(Index, len(rows))
	for _, row := range rows {
		name, ok := row.Cell(keyColumn)
		if !ok {
			continue
		}
		idx[name] = row.ID
	}
	return idx
}

// rowID finds the first table_id token in any attribute of the row or its
// descendants, typically an onclick handler.
func rowID(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if m := tableIDPattern.FindStringSubmatch(attr.Val); m != nil {
				return m[1], true
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if id, ok := rowID(c); ok {
			return id, true
		}
	}
	return "", false
}
