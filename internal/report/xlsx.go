package report

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	headerColor = "1F4E78"
	targetColor = "C6EFCE"
	lostColor   = "FFB6C1"
	maxColWidth = 100
)

// WriteXLSX renders wb as an .xlsx document.
func WriteXLSX(w io.Writer, wb Workbook) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", cerr)
		}
	}()

	styles, err := newStyles(f)
	if err != nil {
		return err
	}
	defaultSheet := f.GetSheetName(0)
	for i, sheet := range wb.Sheets {
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, sheet.Name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return fmt.Errorf("add sheet %q: %w", sheet.Name, err)
		}
		if err := writeSheet(f, sheet, styles); err != nil {
			return fmt.Errorf("write sheet %q: %w", sheet.Name, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// EncodeXLSX renders wb into memory.
func EncodeXLSX(wb Workbook) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, wb); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type styleSet struct {
	header int
	marks  map[Mark]int
}

func newStyles(f *excelize.File) (styleSet, error) {
	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerColor}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return styleSet{}, fmt.Errorf("header style: %w", err)
	}
	target, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{targetColor}},
	})
	if err != nil {
		return styleSet{}, fmt.Errorf("target style: %w", err)
	}
	lost, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "8B0000"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{lostColor}},
	})
	if err != nil {
		return styleSet{}, fmt.Errorf("lost style: %w", err)
	}
	return styleSet{header: header, marks: map[Mark]int{MarkTarget: target, MarkLost: lost}}, nil
}

func writeSheet(f *excelize.File, sheet Sheet, styles styleSet) error {
	widths := make([]int, len(sheet.Header))
	header := make([]any, len(sheet.Header))
	for i, h := range sheet.Header {
		header[i] = h
		widths[i] = utf8.RuneCountInString(h)
	}
	if err := f.SetSheetRow(sheet.Name, "A1", &header); err != nil {
		return err
	}
	if err := styleRow(f, sheet.Name, 1, len(header), styles.header); err != nil {
		return err
	}

	for i, row := range sheet.Rows {
		line := i + 2
		cell, err := excelize.CoordinatesToCellName(1, line)
		if err != nil {
			return err
		}
		cells := row.Cells
		if err := f.SetSheetRow(sheet.Name, cell, &cells); err != nil {
			return err
		}
		if style, ok := styles.marks[row.Mark]; ok {
			if err := styleRow(f, sheet.Name, line, len(header), style); err != nil {
				return err
			}
		}
		for c, v := range cells {
			if c < len(widths) {
				widths[c] = max(widths[c], utf8.RuneCountInString(fmt.Sprint(v)))
			}
		}
	}

	for c, width := range widths {
		col, err := excelize.ColumnNumberToName(c + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet.Name, col, col, float64(min(width+3, maxColWidth))); err != nil {
			return err
		}
	}
	return nil
}

func styleRow(f *excelize.File, sheet string, line, cols, style int) error {
	if cols == 0 {
		return nil
	}
	first, err := excelize.CoordinatesToCellName(1, line)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(cols, line)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, first, last, style)
}
