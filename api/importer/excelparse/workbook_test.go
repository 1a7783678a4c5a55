package excelparse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"OS", "Activité", "Montant", "Total général"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"03", "12", "1000", "99999"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{"", "13", "2000", "99999"}))
	// OS spans rows 2-3: only the anchor carries the value in the file
	require.NoError(t, f.MergeCell(sheet, "A2", "A3"))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestParseXLSX(t *testing.T) {
	sheets, err := Parse(buildWorkbook(t), "budget.xlsx")
	require.NoError(t, err)
	require.Len(t, sheets, 1)

	s := sheets[0]
	assert.Equal(t, []string{"OS", "Activité", "Montant"}, s.Headers, "total column dropped")
	require.Len(t, s.Rows, 2)
	assert.Len(t, s.Rows[0], 3)

	// merged cell propagated to the non-anchor row
	assert.Equal(t, "03", s.Rows[0][0].Text())
	assert.Equal(t, "03", s.Rows[1][0].Text())
	assert.Equal(t, "13", s.Rows[1][1].Text())
}

func TestParseCSVFallback(t *testing.T) {
	data := []byte("OS;Activité;Montant\n03;12;1000\n03;13;2000\n")
	sheets, err := Parse(data, "budget.csv")
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	assert.Equal(t, "budget", sheets[0].Name)
	assert.Equal(t, []string{"OS", "Activité", "Montant"}, sheets[0].Headers)
	require.Len(t, sheets[0].Rows, 2)
	assert.Equal(t, "1000", sheets[0].Rows[0][2].Text())
}

func TestParseUnknownFormat(t *testing.T) {
	_, err := Parse([]byte("not a workbook"), "budget.pdf")
	assert.Error(t, err)
}

func TestTypeCell(t *testing.T) {
	assert.Equal(t, CellEmpty, TypeCell("  ").Kind)
	assert.Equal(t, CellNumber, TypeCell("12,5").Kind)
	assert.Equal(t, CellString, TypeCell("12 - Régulation").Kind)
	assert.Equal(t, CellDate, TypeCell("15/01/2026").Kind)

	// long codes survive as typed text, no exponent rendering
	c := TypeCell("030101204076621100")
	assert.Equal(t, "030101204076621100", c.Text())
}
