// Package parse contains the structural slicers for the external feed
// formats. The upstreams serve broken or shifting markup, so these parsers
// are deliberately forgiving: a row that does not fit is dropped, and the
// worst outcome is "no rows found" rather than a hard error.
package parse

import "strings"

// CSVRows splits line-oriented CSV text into rows, skipping the header line
// and dropping rows with fewer than minCols columns. No quoting rules are
// applied; the feeds this serves never quote fields.
func CSVRows(text string, minCols int) [][]string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}

	var rows [][]string
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		cols := strings.Split(line, ",")
		if len(cols) < minCols {
			continue
		}
		rows = append(rows, cols)
	}
	return rows
}

// StripTags removes every <...> span from s and trims surrounding space.
func StripTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inTag := false
	for _, r := range s {
		switch {
		case inTag:
			if r == '>' {
				inTag = false
			}
		case r == '<':
			inTag = true
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// FindRowsRange locates the rows of the first table whose body contains
// landmark after its "<table" tag. The returned range starts at the last
// "<tr" before the landmark and ends at the table close.
func FindRowsRange(html, landmark string) (begin, end int, ok bool) {
	tbl := strings.Index(html, "<table")
	if tbl < 0 {
		return 0, 0, false
	}
	mark := strings.Index(html[tbl:], landmark)
	if mark < 0 {
		return 0, 0, false
	}
	mark += tbl

	begin = strings.LastIndex(html[:mark], "<tr")
	if begin < 0 {
		return 0, 0, false
	}
	tail := strings.Index(html[begin:], "</table")
	if tail < 0 {
		return 0, 0, false
	}
	return begin, begin + tail, true
}

// TableRows extracts <td> cell texts from the rows in html[begin:end],
// keeping rows with at least minCols cells. Cell text is tag-stripped.
func TableRows(html string, begin, end, minCols int) [][]string {
	var table [][]string

	for begin < end {
		endTR := strings.Index(html[begin:], "</tr")
		if endTR < 0 {
			break
		}
		endTR += begin

		var row []string
		for {
			td := strings.Index(html[begin:], "<td")
			if td < 0 {
				break
			}
			td += begin
			if td > endTR {
				break
			}

			gt := strings.Index(html[td:], ">")
			if gt < 0 {
				break
			}
			gt += td

			endTD := strings.Index(html[gt:], "</td")
			if endTD < 0 {
				break
			}
			endTD += gt

			row = append(row, StripTags(html[gt+1:endTD]))
			begin = endTD
		}

		if len(row) >= minCols {
			table = append(table, row)
		}

		next := strings.Index(html[endTR:], "<tr")
		if next < 0 {
			break
		}
		begin = endTR + next
	}

	return table
}
