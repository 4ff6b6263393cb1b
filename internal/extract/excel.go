package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// sheetRows streams the rows of the first worksheet. The first call to yield
// receives the header row.
type sheetRows func(yield func(row []string) error) error

// xlsxRows streams the first sheet of an .xlsx workbook.
func xlsxRows(content []byte) sheetRows {
	return func(yield func([]string) error) error {
		f, err := excelize.OpenReader(bytes.NewReader(content))
		if err != nil {
			return err
		}
		defer f.Close()

		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return errors.New("workbook has no sheets")
		}
		rows, err := f.Rows(sheets[0])
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			cols, err := rows.Columns()
			if err != nil {
				return err
			}
			if err := yield(cols); err != nil {
				return err
			}
		}
		return rows.Error()
	}
}

// xlsRows streams the first sheet of a legacy .xls workbook.
func xlsRows(content []byte) sheetRows {
	return func(yield func([]string) error) error {
		wb, err := xls.OpenReader(bytes.NewReader(content), "utf-8")
		if err != nil {
			return err
		}
		if wb.NumSheets() == 0 {
			return errors.New("workbook has no sheets")
		}
		sheet := wb.GetSheet(0)
		if sheet == nil {
			return errors.New("first sheet is unreadable")
		}

		for i := 0; i <= int(sheet.MaxRow); i++ {
			row := sheet.Row(i)
			if row == nil {
				continue
			}
			cols := make([]string, 0, row.LastCol()+1)
			for j := 0; j <= row.LastCol(); j++ {
				cols = append(cols, row.Col(j))
			}
			if err := yield(cols); err != nil {
				return err
			}
		}
		return nil
	}
}

// chunkRows renders the sheet as CSV blocks of at most chunkSize data rows,
// each block starting with the header. Blocks are separated by a blank line.
// Blank rows are skipped and short rows are padded to the header width.
func chunkRows(rows sheetRows, chunkSize int) (string, error) {
	var (
		header []string
		chunk  [][]string
		blocks []string
	)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(header); err != nil {
			return err
		}
		if err := w.WriteAll(chunk); err != nil {
			return err
		}
		blocks = append(blocks, buf.String())
		chunk = chunk[:0]
		return nil
	}

	err := rows(func(row []string) error {
		if isBlankRow(row) {
			return nil
		}
		if header == nil {
			header = row
			return nil
		}
		for len(row) < len(header) {
			row = append(row, "")
		}
		chunk = append(chunk, row)
		if len(chunk) == chunkSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := flush(); err != nil {
		return "", err
	}
	return strings.Join(blocks, "\n\n"), nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func extractExcel(doc document, chunkSize int) (outcome, error) {
	rows := xlsxRows(doc.content)
	if doc.ext == "xls" {
		rows = xlsRows(doc.content)
	}
	text, err := chunkRows(rows, chunkSize)
	if err != nil {
		return outcome{}, err
	}
	return outcome{text: text, message: "Text extracted from Excel"}, nil
}
