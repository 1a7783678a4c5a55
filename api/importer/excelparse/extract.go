package excelparse

import (
	"fmt"
	"math"
	"strings"

	"ArtiBudget/api/budget/imputation"

	"github.com/shopspring/decimal"
)

// ParsedRow is one spreadsheet row after extraction: raw values, parsed
// components, the recomputed imputation, and the row's verdict. A row is
// valid iff Errors is empty; warnings never block validity.
type ParsedRow struct {
	RowNumber int
	Raw       map[Field]string

	Objectif      *int
	Action        *int
	Activite      *int
	SousActivite  *int
	Direction     *int
	NatureDepense *int
	NBE           string

	Imputation string
	Format     string

	Montant decimal.Decimal

	Errors   []string
	Warnings []string
}

func (p *ParsedRow) IsValid() bool { return len(p.Errors) == 0 }

// Status returns the staging status for the row: ok, warning or error.
func (p *ParsedRow) Status() string {
	switch {
	case len(p.Errors) > 0:
		return "error"
	case len(p.Warnings) > 0:
		return "warning"
	default:
		return "ok"
	}
}

// Message joins errors and warnings the way the staging table stores them:
// semicolon-separated, warnings prefixed with [Warning].
func (p *ParsedRow) Message() string {
	parts := make([]string, 0, len(p.Errors)+len(p.Warnings))
	parts = append(parts, p.Errors...)
	for _, w := range p.Warnings {
		parts = append(parts, "[Warning] "+w)
	}
	return strings.Join(parts, "; ")
}

// ExtractRow turns one grid row into a ParsedRow. Fully blank rows return
// (nil, false) and are skipped by callers. rowNumber is the spreadsheet row
// (header row = 1, first data row = 2).
func ExtractRow(row []CellValue, mapping Mapping, rowNumber int) (*ParsedRow, bool) {
	blank := true
	for _, c := range row {
		if !c.IsEmpty() {
			blank = false
			break
		}
	}
	if blank {
		return nil, false
	}

	p := &ParsedRow{RowNumber: rowNumber, Raw: map[Field]string{}}

	cell := func(f Field) (CellValue, bool) {
		idx, ok := mapping[f]
		if !ok || idx < 0 || idx >= len(row) {
			return CellValue{}, false
		}
		c := row[idx]
		if c.IsEmpty() {
			return CellValue{}, false
		}
		p.Raw[f] = c.Text()
		return c, true
	}

	code := func(f Field) *int {
		c, ok := cell(f)
		if !ok {
			return nil
		}
		if c.Kind == CellNumber && c.Num == math.Trunc(c.Num) {
			n := int(c.Num)
			return &n
		}
		if n, ok := imputation.ParseComponentCode(c.Text()); ok {
			return &n
		}
		return nil
	}

	p.Objectif = code(FieldObjectif)
	p.Action = code(FieldAction)
	p.Activite = code(FieldActivite)
	p.SousActivite = code(FieldSousActivite)
	p.Direction = code(FieldDirection)
	p.NatureDepense = code(FieldNatureDepense)

	if c, ok := cell(FieldNBE); ok {
		p.NBE = c.Text()
	}
	literal := ""
	if c, ok := cell(FieldImputation); ok {
		literal = c.Text()
	}

	res := imputation.Build(imputation.Components{
		Objectif:      p.Objectif,
		Action:        p.Action,
		Activite:      p.Activite,
		SousActivite:  p.SousActivite,
		Direction:     p.Direction,
		NatureDepense: p.NatureDepense,
		NBE:           p.NBE,
		CodeLitteral:  literal,
	})
	p.Imputation = res.Code
	p.Format = res.Format
	p.Errors = append(p.Errors, res.Errors...)
	p.Warnings = append(p.Warnings, res.Warnings...)

	if c, ok := cell(FieldMontant); ok {
		amount, err := ParseAmount(c.Text())
		switch {
		case err != nil:
			p.Errors = append(p.Errors, fmt.Sprintf("Montant invalide: %q", c.Text()))
		case amount.IsNegative():
			p.Errors = append(p.Errors, fmt.Sprintf("Montant négatif: %s", amount.String()))
		default:
			p.Montant = amount
		}
	} else {
		p.Errors = append(p.Errors, "Montant manquant")
	}

	return p, true
}

var amountCleaner = strings.NewReplacer(
	" ", "",
	"\u00a0", "",
	"\u202f", "",
	",", ".",
)

// ParseAmount parses a monetary cell tolerant of thousand-separator spaces
// and comma decimals. Any non-numeric residue is an error.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := amountCleaner.Replace(strings.TrimSpace(raw))
	if s == "" {
		return decimal.Zero, fmt.Errorf("montant vide")
	}
	return decimal.NewFromString(s)
}

// ExtractSheet runs ExtractRow over every data row of a sheet with the given
// mapping, skipping blank rows.
func ExtractSheet(sheet Sheet, mapping Mapping) []*ParsedRow {
	var rows []*ParsedRow
	for i, row := range sheet.Rows {
		if p, ok := ExtractRow(row, mapping, i+2); ok {
			rows = append(rows, p)
		}
	}
	return rows
}
