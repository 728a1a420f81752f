package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel renders each non-empty sheet as its name followed by tab separated rows.
// Sheets are separated by a blank line.
func extractExcel(content []byte) (string, map[string]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	sections := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var buf strings.Builder
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if line == "" {
				continue
			}
			buf.WriteByte('\n')
			buf.WriteString(line)
		}
		if buf.Len() == 0 {
			continue
		}
		sections = append(sections, sheet+buf.String())
	}
	return strings.Join(sections, "\n\n"), map[string]string{"sheets": strconv.Itoa(len(sheets))}, nil
}
