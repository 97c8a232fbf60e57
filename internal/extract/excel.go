package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel renders each non-empty sheet under a "# <sheet>" heading. The first row is
// taken as the header and every later row becomes its own paragraph of "header: value" pairs,
// so the chunker can cut a long sheet between rows.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var sections []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		rows = nonEmptyRows(rows)
		if len(rows) == 0 {
			continue
		}
		paras := []string{"# " + sheet}
		if len(rows) == 1 {
			paras = append(paras, strings.Join(rows[0], " | "))
		}
		header := rows[0]
		for _, row := range rows[1:] {
			if line := labelRow(header, row); line != "" {
				paras = append(paras, line)
			}
		}
		sections = append(sections, strings.Join(paras, "\n\n"))
	}
	return strings.Join(sections, "\n\n"), nil
}

// labelRow pairs each non-empty cell with its header, falling back to the column letter.
func labelRow(header, row []string) string {
	pairs := make([]string, 0, len(row))
	for i, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		name := ""
		if i < len(header) {
			name = strings.TrimSpace(header[i])
		}
		if name == "" {
			name, _ = excelize.ColumnNumberToName(i + 1)
		}
		pairs = append(pairs, name+": "+cell)
	}
	return strings.Join(pairs, "; ")
}

func nonEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		if strings.TrimSpace(strings.Join(row, "")) != "" {
			out = append(out, row)
		}
	}
	return out
}
