package util

import (
	"encoding/csv"
	"io"
	"strings"
)

// EscapeCSVCell neutralizes values a spreadsheet would evaluate as a formula
// by prefixing a single quote. Quoting itself is left to the CSV writer.
func EscapeCSVCell(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + v
	}
	return v
}

// WriteCSV writes header and rows as RFC 4180 CSV with formula neutralization.
func WriteCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if len(header) > 0 {
		if err := cw.Write(escapeRow(header)); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if err := cw.Write(escapeRow(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func escapeRow(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = EscapeCSVCell(strings.ReplaceAll(cell, "\x00", ""))
	}
	return out
}
