package excelparse

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// Sheet is a normalized 2-D grid: first source row promoted to Headers,
// merged cells filled, total columns stripped.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]CellValue
}

// Columns matching these patterns (accent-stripped, case-insensitive) are
// presentation artifacts of the source workbook, not data, and are dropped
// together with their header.
var totalColumnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^total`),
	regexp.MustCompile(`(?i)^somme`),
	regexp.MustCompile(`(?i)^sum`),
	regexp.MustCompile(`(?i)^sous[- ]?total`),
	regexp.MustCompile(`(?i)^cumul`),
	regexp.MustCompile(`(?i)\btotal\b`),
}

func isTotalColumn(header string) bool {
	h := StripAccents(strings.TrimSpace(header))
	for _, re := range totalColumnPatterns {
		if re.MatchString(h) {
			return true
		}
	}
	return false
}

// Parse reads workbook bytes into normalized sheets. The payload is opened
// as .xlsx first; on failure the filename extension selects the legacy .xls
// reader or the CSV reader. Merged-range propagation applies to .xlsx only:
// the legacy .xls reader exposes no merge metadata, so merged cells in .xls
// files surface as blanks outside their anchor cell.
func Parse(data []byte, filename string) ([]Sheet, error) {
	if sheets, err := parseXLSX(data); err == nil {
		return sheets, nil
	}
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".xls":
		return parseXLS(data)
	case ".csv", ".txt":
		return parseCSV(data, filename)
	}
	return nil, fmt.Errorf("format de fichier non reconnu: %s", filename)
}

func parseXLSX(data []byte) ([]Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("lecture de la feuille %s: %w", name, err)
		}
		grid := padGrid(rows)
		if err := fillMergedCells(f, name, grid); err != nil {
			return nil, err
		}
		sheets = append(sheets, normalizeSheet(name, grid))
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("classeur sans feuille")
	}
	return sheets, nil
}

// fillMergedCells propagates each merged range's top-left value to every
// cell of the range; outside the anchor those cells read as empty.
func fillMergedCells(f *excelize.File, sheet string, grid [][]string) error {
	merges, err := f.GetMergeCells(sheet)
	if err != nil {
		return err
	}
	for _, m := range merges {
		c1, r1, err := excelize.CellNameToCoordinates(m.GetStartAxis())
		if err != nil {
			continue
		}
		c2, r2, err := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err != nil {
			continue
		}
		value := m.GetCellValue()
		for r := r1; r <= r2; r++ {
			for c := c1; c <= c2; c++ {
				if r-1 < len(grid) && c-1 < len(grid[r-1]) {
					grid[r-1][c-1] = value
				}
			}
		}
	}
	return nil
}

func parseXLS(data []byte) ([]Sheet, error) {
	// extrame/xls only opens files, not readers
	tmp, err := os.CreateTemp("", "import-*.xls")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, err
	}
	tmp.Close()

	wb, err := xls.Open(tmp.Name(), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("ouverture xls: %w", err)
	}

	var sheets []Sheet
	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}
		var rows [][]string
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := ws.Row(r)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			var cells []string
			for c := 0; c <= row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			rows = append(rows, cells)
		}
		sheets = append(sheets, normalizeSheet(ws.Name, padGrid(rows)))
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("classeur xls sans feuille")
	}
	return sheets, nil
}

func parseCSV(data []byte, filename string) ([]Sheet, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("lecture csv: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return []Sheet{normalizeSheet(name, padGrid(records))}, nil
}

func detectDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, sep := 0, ','
	for _, cand := range []byte{';', ',', '\t'} {
		if n := bytes.Count(line, []byte{cand}); n > best {
			best, sep = n, rune(cand)
		}
	}
	return sep
}

// padGrid squares off ragged rows to the widest row.
func padGrid(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	grid := make([][]string, len(rows))
	for i, r := range rows {
		row := make([]string, width)
		copy(row, r)
		grid[i] = row
	}
	return grid
}

func normalizeSheet(name string, grid [][]string) Sheet {
	sheet := Sheet{Name: name}
	if len(grid) == 0 {
		return sheet
	}

	keep := make([]int, 0, len(grid[0]))
	for i, h := range grid[0] {
		if !isTotalColumn(h) {
			keep = append(keep, i)
		}
	}
	for _, i := range keep {
		sheet.Headers = append(sheet.Headers, strings.TrimSpace(grid[0][i]))
	}
	for _, row := range grid[1:] {
		cells := make([]CellValue, len(keep))
		for j, i := range keep {
			cells[j] = TypeCell(row[i])
		}
		sheet.Rows = append(sheet.Rows, cells)
	}
	return sheet
}
