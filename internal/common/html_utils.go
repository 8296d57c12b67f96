package common

import (
	"strings"

	"golang.org/x/net/html"
)

// ParsedTable is the text content of one rendered HTML table: the header row
// and the body rows, with cell text whitespace-collapsed.
type ParsedTable struct {
	Headers []string
	Rows    []ParsedRow
}

// ParsedRow is one body row; EmptyMarker is set when the row is the
// datatable's "no data" placeholder (a cell carrying the dataTables_empty
// class) rather than a data row.
type ParsedRow struct {
	Cells       []string
	EmptyMarker bool
}

// ParseTable parses an HTML fragment containing a <table> and extracts its
// header and body rows. The header comes from the first <thead> row, or from
// the first row of the table when no <thead> exists.
func ParseTable(fragment string) (*ParsedTable, error) {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil, err
	}

	table := firstNodeByTag(root, "table")
	if table == nil {
		// The fragment may already be the table's inner content.
		table = root
	}

	parsed := &ParsedTable{}

	if thead := firstNodeByTag(table, "thead"); thead != nil {
		if tr := firstNodeByTag(thead, "tr"); tr != nil {
			parsed.Headers = rowCellTexts(tr)
		}
	}

	var bodyRows []*html.Node
	if tbody := firstNodeByTag(table, "tbody"); tbody != nil {
		bodyRows = childrenByTag(tbody, "tr")
	} else {
		bodyRows = findNodesByTag(table, "tr")
	}

	for i, tr := range bodyRows {
		if parsed.Headers == nil && i == 0 {
			parsed.Headers = rowCellTexts(tr)
			continue
		}
		row := ParsedRow{Cells: rowCellTexts(tr)}
		for _, cell := range childrenByTag(tr, "td") {
			if strings.Contains(nodeAttr(cell, "class"), "dataTables_empty") {
				row.EmptyMarker = true
				break
			}
		}
		parsed.Rows = append(parsed.Rows, row)
	}

	return parsed, nil
}

func rowCellTexts(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, CollapseSpaces(extractText(c)))
		}
	}
	return cells
}

// extractText gets all text content from an HTML node and its children.
func extractText(node *html.Node) string {
	var text strings.Builder

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
			text.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}

	traverse(node)
	return strings.TrimSpace(text.String())
}

func firstNodeByTag(root *html.Node, tagName string) *html.Node {
	if root.Type == html.ElementNode && root.Data == tagName {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := firstNodeByTag(c, tagName); found != nil {
			return found
		}
	}
	return nil
}

func childrenByTag(parent *html.Node, tagName string) []*html.Node {
	var nodes []*html.Node
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tagName {
			nodes = append(nodes, c)
		}
	}
	return nodes
}

func findNodesByTag(root *html.Node, tagName string) []*html.Node {
	var nodes []*html.Node

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tagName {
			nodes = append(nodes, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}

	traverse(root)
	return nodes
}

func nodeAttr(node *html.Node, attrKey string) string {
	if node.Type != html.ElementNode {
		return ""
	}
	for _, attr := range node.Attr {
		if attr.Key == attrKey {
			return attr.Val
		}
	}
	return ""
}
