package apex

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	strip "github.com/grokify/html-strip-tags-go"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"live-timing/internal/models"
	"live-timing/internal/store"
)

var (
	rowIDPattern   = regexp.MustCompile(`^r\d+$`)
	cellIDPattern  = regexp.MustCompile(`^r\d+c(\d+)$`)
	looseRow       = regexp.MustCompile(`(?is)<tr\b([^>]*)>(.*?)</tr>`)
	looseCell      = regexp.MustCompile(`(?is)<td\b([^>]*)>(.*?)</td>`)
	looseRowID     = regexp.MustCompile(`(?i)\b(?:data-id|id)\s*=\s*["']?(r\d+)["'\s>]`)
	looseCellID    = regexp.MustCompile(`(?i)\bdata-id\s*=\s*["']?r\d+c(\d+)["'\s>]`)
	spaceCollapser = regexp.MustCompile(`\s+`)
)

// columnFields maps 1-based grid columns onto competitor fields. Column 1
// carries the row status colour and is not mapped.
var columnFields = map[int]store.Field{
	2:  store.FieldPosition,
	3:  store.FieldKart,
	4:  store.FieldDriver,
	5:  store.FieldSector1,
	6:  store.FieldSector2,
	7:  store.FieldSector3,
	8:  store.FieldLastLap,
	9:  store.FieldBestLap,
	10: store.FieldGap,
	11: store.FieldLaps,
	12: store.FieldTeam,
	13: store.FieldPitStops,
}

// FieldForColumn returns the competitor field for a 1-based grid column
func FieldForColumn(column int) store.Field {
	if f, ok := columnFields[column]; ok {
		return f
	}
	return store.FieldUnknown
}

// ParseGrid extracts competitor rows from a grid fragment or full race page.
// Structured traversal runs first; the permissive pattern scan only runs
// when it finds nothing. Header and placeholder rows are dropped.
func ParseGrid(fragment string) []models.Competitor {
	if strings.TrimSpace(fragment) == "" {
		return nil
	}
	if rows := parseGridTree(fragment); len(rows) > 0 {
		return rows
	}
	return parseGridLoose(fragment)
}

type rawRow struct {
	id    string
	cells map[int]string
}

func parseGridTree(fragment string) []models.Competitor {
	doc := fragment
	if !strings.Contains(strings.ToLower(fragment), "<table") {
		doc = "<table>" + fragment + "</table>"
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}

	var raws []rawRow
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			if id := rowID(n); id != "" {
				raws = append(raws, rawRow{id: id, cells: treeCells(n)})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return buildRows(raws)
}

func rowID(n *html.Node) string {
	for _, key := range []string{"data-id", "id"} {
		if v := attr(n, key); rowIDPattern.MatchString(v) {
			return v
		}
	}
	return ""
}

func treeCells(tr *html.Node) map[int]string {
	cells := make(map[int]string)
	index := 0
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		index++
		column := index
		if m := cellIDPattern.FindStringSubmatch(attr(c, "data-id")); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				column = v
			}
		}
		cells[column] = cleanText(nodeText(c))
	}
	return cells
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return b.String()
}

func parseGridLoose(fragment string) []models.Competitor {
	var raws []rawRow
	for i, m := range looseRow.FindAllStringSubmatch(fragment, -1) {
		id := fmt.Sprintf("row%d", i+1)
		if idm := looseRowID.FindStringSubmatch(m[1] + " "); idm != nil {
			id = idm[1]
		}

		cells := make(map[int]string)
		for j, cm := range looseCell.FindAllStringSubmatch(m[2], -1) {
			column := j + 1
			if cid := looseCellID.FindStringSubmatch(cm[1] + " "); cid != nil {
				if v, err := strconv.Atoi(cid[1]); err == nil {
					column = v
				}
			}
			cells[column] = cleanText(strip.StripTags(cm[2]))
		}
		raws = append(raws, rawRow{id: id, cells: cells})
	}
	return buildRows(raws)
}

// buildRows runs raw cells through the same field rules as live patches so
// snapshot rows and patched rows agree.
func buildRows(raws []rawRow) []models.Competitor {
	scratch := store.New()
	rows := make([]models.Competitor, 0, len(raws))
	for _, raw := range raws {
		if raw.id == "r0" {
			continue
		}
		for column, text := range raw.cells {
			scratch.PatchField(raw.id, FieldForColumn(column), text)
		}
		row, ok := scratch.Get(raw.id)
		if !ok {
			continue
		}
		if row.DriverName == "" && row.KartNumber == "" && row.Position == 0 {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// cleanText unescapes entities and collapses whitespace
func cleanText(s string) string {
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(spaceCollapser.ReplaceAllString(s, " "))
}
