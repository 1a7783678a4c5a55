package referentiel

import (
	"context"
	"strings"
	"testing"

	"ArtiBudget/api/importer/excelparse"
	"ArtiBudget/internal/pgmock"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cell(s string) excelparse.CellValue {
	return excelparse.CellValue{Kind: excelparse.CellString, Str: s}
}

func actionsDef(t *testing.T) entityDef {
	t.Helper()
	for _, def := range entityDefs() {
		if def.Key == "actions" {
			return def
		}
	}
	t.Fatal("actions entity missing")
	return entityDef{}
}

// Syncing actions before any objectives exist must error every row on the
// unresolved parent instead of inserting orphans; the dependency order
// objectifs → actions → activites → sous_activites is what makes a full
// workbook succeed.
func TestSyncEntityActionsWithoutObjectivesAllErrored(t *testing.T) {
	sheets := []excelparse.Sheet{{
		Name:    "Actions",
		Headers: []string{"Code", "Libellé", "OS"},
		Rows: [][]excelparse.CellValue{
			{cell("01"), cell("Pilotage"), cell("03")},
			{cell("02"), cell("Appui institutionnel"), cell("03")},
			{cell("03"), cell("Coordination"), cell("04")},
		},
	}}

	res, codeToID, err := syncEntity(context.Background(), &pgmock.Tx{}, sheets, actionsDef(t), map[string]string{})
	require.NoError(t, err)

	assert.True(t, res.SheetFound)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Errors)
	assert.Zero(t, res.Inserted)
	assert.Zero(t, res.Updated)
	assert.Empty(t, codeToID, "no action may resolve without its objective")

	require.Len(t, res.ErrorDetails, 3)
	assert.Contains(t, res.ErrorDetails[0], `Ligne 2: OS parent "03" non résolu`)
	assert.Contains(t, res.ErrorDetails[2], `Ligne 4: OS parent "04" non résolu`)
}

func TestSyncEntityResolvesParentWithLeadingZeros(t *testing.T) {
	sheets := []excelparse.Sheet{{
		Name:    "Actions",
		Headers: []string{"Code", "Libellé", "OS"},
		Rows: [][]excelparse.CellValue{
			{cell("01"), cell("Pilotage"), cell("03")},
		},
	}}
	parents := map[string]string{"3": "os-id-3"}

	inserted := false
	tx := &pgmock.Tx{
		QueryRowFunc: func(sql string, args []any) pgx.Row {
			if strings.Contains(sql, "SELECT id FROM") {
				return pgmock.Row{Err: pgx.ErrNoRows}
			}
			inserted = true
			return pgmock.Row{Values: []any{"action-id-1"}}
		},
	}

	res, codeToID, err := syncEntity(context.Background(), tx, sheets, actionsDef(t), parents)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Zero(t, res.Errors)
	assert.True(t, inserted)
	assert.Equal(t, "action-id-1", codeToID["01"])
	assert.Equal(t, "action-id-1", codeToID["1"], "trimmed code resolves too")
}
