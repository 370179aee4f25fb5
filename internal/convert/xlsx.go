package convert

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"infra-rag-platform/models"
)

// XLSXConverter renders every non-empty sheet as a heading followed by a table.
// Each sheet counts as one page.
type XLSXConverter struct{}

func (XLSXConverter) Convert(_ context.Context, _ string, data []byte) (*models.ConvertedDocument, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	sheets := 0
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		rows = dropEmptyRows(rows)
		if len(rows) == 0 {
			continue
		}
		sheets++
		fmt.Fprintf(&b, "%s\n## %s\n\n%s\n\n", pageMarker(sheets), sheet, markdownTable(rows))
	}

	if sheets == 0 {
		return nil, fmt.Errorf("%w: workbook has no data", models.ErrInvalidInput)
	}
	return &models.ConvertedDocument{Markdown: b.String(), PageCount: sheets}, nil
}

func dropEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}
