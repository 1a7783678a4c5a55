package excelparse

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHeaders = []string{"OS", "Action", "Activité", "Sous-activité", "Direction", "Nature de dépense", "NBE", "Montant", "Imputation"}

func testMapping() Mapping {
	return DetectMapping(testHeaders, DefaultMappingRules())
}

func rowOf(cells ...string) []CellValue {
	out := make([]CellValue, len(cells))
	for i, c := range cells {
		out[i] = TypeCell(c)
	}
	return out
}

func TestExtractRowComplete(t *testing.T) {
	row := rowOf("03", "01", "12 - Régulation", "04", "07 - DAAF", "6", "621100 : Achats", "1 250 000,50", "")
	p, ok := ExtractRow(row, testMapping(), 2)
	require.True(t, ok)
	require.True(t, p.IsValid(), p.Errors)

	assert.Equal(t, 2, p.RowNumber)
	assert.Equal(t, 3, *p.Objectif)
	assert.Equal(t, 1, *p.Action)
	assert.Equal(t, 12, *p.Activite)
	assert.Equal(t, 4, *p.SousActivite)
	assert.Equal(t, 7, *p.Direction)
	assert.Equal(t, 6, *p.NatureDepense)
	assert.Equal(t, "030101204076621100", p.Imputation)
	assert.Equal(t, "18", p.Format)
	assert.True(t, p.Montant.Equal(decimal.RequireFromString("1250000.50")), p.Montant.String())
	assert.Equal(t, "ok", p.Status())
	assert.Empty(t, p.Message())
}

func TestExtractRowMissingComponentsEnumerated(t *testing.T) {
	row := rowOf("03", "", "", "04", "07", "6", "621100", "100", "")
	p, ok := ExtractRow(row, testMapping(), 5)
	require.True(t, ok)
	assert.False(t, p.IsValid())
	assert.Contains(t, p.Errors, "Activité manquante")
	assert.Contains(t, p.Errors, "Sous-activité manquante")
	assert.Len(t, p.Errors, 2)
	assert.Equal(t, "error", p.Status())
	assert.Equal(t, "Activité manquante; Sous-activité manquante", p.Message())
}

func TestExtractRowNegativeAmount(t *testing.T) {
	row := rowOf("03", "01", "12", "04", "07", "6", "621100", "-5", "")
	p, ok := ExtractRow(row, testMapping(), 3)
	require.True(t, ok)
	require.Len(t, p.Errors, 1)
	assert.Contains(t, p.Errors[0], "négatif")
}

func TestExtractRowNonNumericAmount(t *testing.T) {
	row := rowOf("03", "01", "12", "04", "07", "6", "621100", "N/A", "")
	p, _ := ExtractRow(row, testMapping(), 3)
	require.Len(t, p.Errors, 1)
	assert.Contains(t, p.Errors[0], "Montant invalide")
}

func TestExtractRowAmountColumnNotFound(t *testing.T) {
	m := testMapping()
	delete(m, FieldMontant)
	row := rowOf("03", "01", "12", "04", "07", "6", "621100", "100", "")
	p, _ := ExtractRow(row, m, 3)
	assert.Contains(t, p.Errors, "Montant manquant")
}

func TestExtractRowLiteralMismatch(t *testing.T) {
	row := rowOf("03", "01", "12", "04", "07", "6", "621100", "100", "990101204076621100")
	p, _ := ExtractRow(row, testMapping(), 4)
	require.Len(t, p.Errors, 1)
	assert.Contains(t, p.Errors[0], "différente")
	assert.Equal(t, "030101204076621100", p.Imputation)
}

func TestExtractRowLiteralFallbackIsWarning(t *testing.T) {
	// components absent, a literal imputation and amount present
	row := rowOf("", "", "", "", "", "", "", "2 000", "030101204076621100")
	p, ok := ExtractRow(row, testMapping(), 7)
	require.True(t, ok)
	assert.Equal(t, "030101204076621100", p.Imputation)
	require.NotEmpty(t, p.Warnings)
	assert.Contains(t, p.Message(), "[Warning]")
	// missing components still make the row invalid
	assert.False(t, p.IsValid())
}

func TestExtractRowBlankSkipped(t *testing.T) {
	row := rowOf("", "", "", "", "", "", "", "", "")
	p, ok := ExtractRow(row, testMapping(), 9)
	assert.False(t, ok)
	assert.Nil(t, p)
}

func TestExtractSheetNumbersRowsFromTwo(t *testing.T) {
	sheet := Sheet{
		Headers: testHeaders,
		Rows: [][]CellValue{
			rowOf("03", "01", "12", "04", "07", "6", "621100", "100", ""),
			rowOf("", "", "", "", "", "", "", "", ""),
			rowOf("03", "01", "13", "04", "07", "6", "621100", "200", ""),
		},
	}
	rows := ExtractSheet(sheet, testMapping())
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].RowNumber)
	assert.Equal(t, 4, rows[1].RowNumber)
}

func TestParseAmountSeparators(t *testing.T) {
	cases := map[string]string{
		"1 250 000,50": "1250000.5",
		"1 000":        "1000",
		"12,5":         "12.5",
		"300":          "300",
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), in)
	}
	_, err := ParseAmount("12F")
	assert.Error(t, err)
	_, err = ParseAmount("")
	assert.Error(t, err)
}
