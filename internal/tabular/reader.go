package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

var (
	groupHeaders      = []string{"country", "region", "jurisdiction", "category", "group", "state", "territory"}
	descriptorHeaders = []string{"description", "descriptor", "type", "item", "label", "line", "name"}
	amountHeaders     = []string{"amount", "total", "tax", "vat", "value", "sum"}
)

type columns struct {
	group      int
	descriptor int
	amount     int
}

// ReadXLSX reads report rows from the first non-empty sheet of a workbook.
func ReadXLSX(r io.Reader) ([]domain.ReportRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %w", domain.ErrInvalidInput, err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		cells, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		rows := parseGrid(cells)
		if len(rows) > 0 {
			return rows, nil
		}
	}
	return nil, nil
}

func ReadCSV(r io.Reader) ([]domain.ReportRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var cells [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read csv: %w", domain.ErrInvalidInput, err)
		}
		cells = append(cells, record)
	}
	return parseGrid(cells), nil
}

func parseGrid(cells [][]string) []domain.ReportRow {
	start := 0
	cols, ok := columns{}, false
	for i, row := range cells {
		if cols, ok = detectHeader(row); ok {
			start = i + 1
			break
		}
		if i >= 10 {
			break
		}
	}

	var out []domain.ReportRow
	for i := start; i < len(cells); i++ {
		row := cells[i]
		if isBlank(row) {
			continue
		}
		c := cols
		if !ok {
			c = positional(row)
		}
		if c.amount < 0 || c.amount >= len(row) {
			continue
		}
		amount, _, err := domain.ParseAmount(row[c.amount])
		if err != nil {
			continue
		}
		out = append(out, domain.ReportRow{
			Line:       i + 1,
			Group:      cell(row, c.group),
			Descriptor: cell(row, c.descriptor),
			Amount:     amount,
		})
	}
	return out
}

func detectHeader(row []string) (columns, bool) {
	c := columns{group: -1, descriptor: -1, amount: -1}
	for i, raw := range row {
		h := strings.ToLower(strings.TrimSpace(raw))
		if h == "" {
			continue
		}
		switch {
		case c.amount < 0 && matchesAny(h, amountHeaders):
			c.amount = i
		case c.group < 0 && matchesAny(h, groupHeaders):
			c.group = i
		case c.descriptor < 0 && matchesAny(h, descriptorHeaders):
			c.descriptor = i
		}
	}
	return c, c.amount >= 0 && (c.group >= 0 || c.descriptor >= 0)
}

// positional handles headerless sheets: group, optional descriptor, and the
// last numeric cell as the amount.
func positional(row []string) columns {
	c := columns{group: 0, descriptor: -1, amount: -1}
	for i := len(row) - 1; i >= 1; i-- {
		if strings.TrimSpace(row[i]) == "" {
			continue
		}
		if _, _, err := domain.ParseAmount(row[i]); err == nil {
			c.amount = i
			break
		}
	}
	if c.amount > 1 {
		c.descriptor = 1
	}
	return c
}

func matchesAny(h string, names []string) bool {
	for _, n := range names {
		if h == n || strings.HasPrefix(h, n+" ") || strings.HasSuffix(h, " "+n) {
			return true
		}
	}
	return false
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// RenderText lays the rows out as tab-separated lines so text based
// fingerprinting and template patterns work on spreadsheets too.
func RenderText(rows []domain.ReportRow) string {
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(row.Group)
		b.WriteByte('\t')
		b.WriteString(row.Descriptor)
		b.WriteByte('\t')
		b.WriteString(strconv.FormatFloat(row.Amount, 'f', 2, 64))
		b.WriteByte('\n')
	}
	return b.String()
}
