package controller

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/dontdude/qdoas/internal/domain"
)

// Page is the plot and table output the engine produced for one page number.
type Page struct {
	Number int
	Title  string
	Tag    string
	Plots  []domain.PlotData
	// Cells are sorted by row, then column.
	Cells []domain.Cell
}

// BuildPages groups flat engine output by page number.
// Pages are returned in ascending page order; a later label for the same page wins.
func BuildPages(plots []domain.PlotData, cells []domain.Cell, labels []domain.PageLabel) []*Page {
	byNumber := make(map[int]*Page)
	get := func(n int) *Page {
		p, ok := byNumber[n]
		if !ok {
			p = &Page{Number: n}
			byNumber[n] = p
		}
		return p
	}

	for _, pd := range plots {
		p := get(pd.Page)
		p.Plots = append(p.Plots, pd)
	}
	for _, c := range cells {
		p := get(c.Page)
		p.Cells = append(p.Cells, c)
	}
	for _, l := range labels {
		p := get(l.Page)
		p.Title, p.Tag = l.Title, l.Tag
	}

	pages := make([]*Page, 0, len(byNumber))
	for _, p := range byNumber {
		sort.SliceStable(p.Cells, func(i, j int) bool {
			if p.Cells[i].Row != p.Cells[j].Row {
				return p.Cells[i].Row < p.Cells[j].Row
			}
			return p.Cells[i].Col < p.Cells[j].Col
		})
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages
}

// Table renders the cells as a dense grid of strings. Missing cells are empty.
func (p *Page) Table() [][]string {
	rows, cols := 0, 0
	for _, c := range p.Cells {
		rows = max(rows, c.Row+1)
		cols = max(cols, c.Col+1)
	}
	grid := make([][]string, rows)
	for i := range grid {
		grid[i] = make([]string, cols)
	}
	for _, c := range p.Cells {
		if c.Row < 0 || c.Col < 0 {
			continue
		}
		grid[c.Row][c.Col] = FormatValue(c.Value)
	}
	return grid
}

// FormatValue renders a cell value the way tables display it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', 6, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', 6, 32)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}
