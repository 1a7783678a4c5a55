package excelparse

import (
	"strconv"
	"strings"
	"time"
)

// CellKind tags the raw value read from a spreadsheet cell. All type
// ambiguity from the source workbook is resolved here, at the parser
// boundary, so downstream code never guesses.
type CellKind int

const (
	CellEmpty CellKind = iota
	CellNumber
	CellString
	CellDate
)

type CellValue struct {
	Kind CellKind
	Num  float64
	Str  string
	Date time.Time
}

func (c CellValue) IsEmpty() bool { return c.Kind == CellEmpty }

// Text renders the cell as the string downstream extraction works on.
// Numbers are rendered without exponent so long codes survive intact.
func (c CellValue) Text() string {
	switch c.Kind {
	case CellNumber:
		if c.Str != "" {
			return c.Str
		}
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	case CellString:
		return c.Str
	case CellDate:
		return c.Date.Format("2006-01-02")
	default:
		return ""
	}
}

var dateLayouts = []string{"02/01/2006", "02-01-2006", "2006-01-02"}

// TypeCell classifies a raw string cell as returned by the workbook reader.
func TypeCell(raw string) CellValue {
	s := strings.TrimSpace(raw)
	if s == "" {
		return CellValue{Kind: CellEmpty}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return CellValue{Kind: CellDate, Date: t, Str: s}
		}
	}
	if n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
		// keep the original text too: "03" must not collapse to "3"
		return CellValue{Kind: CellNumber, Num: n, Str: s}
	}
	return CellValue{Kind: CellString, Str: s}
}

var accentReplacer = strings.NewReplacer(
	"à", "a", "â", "a", "ä", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"î", "i", "ï", "i",
	"ô", "o", "ö", "o",
	"ù", "u", "û", "u", "ü", "u",
	"ç", "c",
	"À", "A", "Â", "A", "Ä", "A",
	"É", "E", "È", "E", "Ê", "E", "Ë", "E",
	"Î", "I", "Ï", "I",
	"Ô", "O", "Ö", "O",
	"Ù", "U", "Û", "U", "Ü", "U",
	"Ç", "C",
)

// StripAccents folds accented characters to their ASCII base, the
// normalization used by header and sheet-name matching.
func StripAccents(s string) string {
	return accentReplacer.Replace(s)
}
