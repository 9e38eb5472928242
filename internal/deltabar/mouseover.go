package deltabar

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// Record is one hit-testable segment of a column.
type Record struct {
	Y        float64 `json:"y"`
	Height   float64 `json:"height"`
	Color    string  `json:"color"`
	Category int     `json:"category"`
	Hidden   bool    `json:"hidden,omitempty"`
}

// MouseoverIndex holds, per column, the segments sorted by ascending y.
type MouseoverIndex struct {
	Columns [][]Record `json:"columns"`
}

// NewMouseoverIndex regroups a batch's rectangles by column.
func NewMouseoverIndex(b *Batch) *MouseoverIndex {
	cols := make([][]Record, b.Columns)
	for _, r := range b.Rects {
		if r.Column < 0 || r.Column >= len(cols) {
			continue
		}
		cols[r.Column] = append(cols[r.Column], Record{
			Y:        r.Y,
			Height:   r.Height,
			Color:    r.Color,
			Category: r.Category,
			Hidden:   r.Hidden,
		})
	}
	for _, col := range cols {
		slices.SortStableFunc(col, func(a, b Record) int {
			switch {
			case a.Y < b.Y:
				return -1
			case a.Y > b.Y:
				return 1
			}
			return 0
		})
	}
	return &MouseoverIndex{Columns: cols}
}

// Find returns the segment of column containing y.
func (m *MouseoverIndex) Find(column int, y float64) (Record, bool) {
	if m == nil || column < 0 || column >= len(m.Columns) {
		return Record{}, false
	}
	row := m.Columns[column]
	if len(row) == 0 {
		return Record{}, false
	}
	last := row[len(row)-1]
	if y < row[0].Y || y >= last.Y+last.Height {
		return Record{}, false
	}
	for _, r := range row {
		if y >= r.Y && y < r.Y+r.Height {
			if r.Hidden {
				return Record{}, false
			}
			return r, true
		}
	}
	return Record{}, false
}

// Hit is the answer to a mouseover query.
type Hit struct {
	Column   int     `json:"column"`
	Category int     `json:"category"`
	Label    string  `json:"label"`
	Value    float64 `json:"value"`
	Text     string  `json:"text"`
	Color    string  `json:"color"`
}

// toPrecision formats v with four significant digits, keeping trailing zeros.
func toPrecision(v float64) string {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		if v == 0 {
			return "0.000"
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	// The exponent is taken after rounding, so 9999.6 becomes 1.000e+4.
	s := strconv.FormatFloat(v, 'e', 3, 64)
	i := strings.IndexByte(s, 'e')
	exp, _ := strconv.Atoi(s[i+1:])
	if exp < -6 || exp >= 4 {
		// Short exponent form: 1.235e+5 rather than 1.235e+05.
		return s[:i+2] + strconv.Itoa(abs(exp))
	}
	return strconv.FormatFloat(v, 'f', 3-exp, 64)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
