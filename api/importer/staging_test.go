package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"ArtiBudget/api/importer/excelparse"
	"ArtiBudget/internal/pgmock"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsedRow(n int, status string) *excelparse.ParsedRow {
	p := &excelparse.ParsedRow{RowNumber: n, Montant: decimal.NewFromInt(100)}
	switch status {
	case "warning":
		p.Warnings = []string{"avertissement"}
	case "error":
		p.Errors = []string{"erreur"}
	}
	return p
}

func TestRunStats(t *testing.T) {
	rows := []*excelparse.ParsedRow{
		parsedRow(2, "ok"),
		parsedRow(3, "warning"),
		parsedRow(4, "error"),
		parsedRow(5, "ok"),
	}
	total, ok, warning, errs := RunStats(rows)
	assert.Equal(t, 4, total)
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, warning)
	assert.Equal(t, 1, errs)
}

func TestMarkDuplicatesFlagsEveryOccurrenceAfterFirst(t *testing.T) {
	rows := []*StagedRow{
		{RowNumber: 2, Imputation: "030101204076621100", Statut: "ok"},
		{RowNumber: 3, Imputation: "0301204076621100", Statut: "ok"},
		{RowNumber: 4, Imputation: "030101204076621100", Statut: "ok"},
		{RowNumber: 5, Imputation: "030101204076621100", Statut: "warning", Message: "[Warning] littéral"},
	}
	flagged := MarkDuplicates(rows)

	assert.Equal(t, 2, flagged)
	assert.Equal(t, "ok", rows[0].Statut, "first occurrence untouched")
	assert.Equal(t, "ok", rows[1].Statut)

	assert.Equal(t, "error", rows[2].Statut)
	assert.Contains(t, rows[2].Message, "ligne 2")

	assert.Equal(t, "error", rows[3].Statut)
	assert.Contains(t, rows[3].Message, "ligne 2")
	assert.Contains(t, rows[3].Message, "[Warning] littéral; ", "existing message preserved")
}

func TestMarkDuplicatesIgnoresEmptyImputations(t *testing.T) {
	rows := []*StagedRow{
		{RowNumber: 2, Imputation: "", Statut: "error", Message: "NBE manquant"},
		{RowNumber: 3, Imputation: "", Statut: "error", Message: "NBE manquant"},
	}
	assert.Equal(t, 0, MarkDuplicates(rows))
	assert.Equal(t, "NBE manquant", rows[1].Message)
}

func TestMarkDuplicatesNoDuplicates(t *testing.T) {
	rows := []*StagedRow{
		{RowNumber: 2, Imputation: "A", Statut: "ok"},
		{RowNumber: 3, Imputation: "B", Statut: "ok"},
	}
	assert.Equal(t, 0, MarkDuplicates(rows))
	for _, r := range rows {
		assert.Equal(t, "ok", r.Statut)
	}
}

func TestApplyMappingOverrides(t *testing.T) {
	headers := []string{"Colonne A", "Dotation 2026", "NBE"}
	mapping := excelparse.Mapping{excelparse.FieldMontant: 0}

	applyMappingOverrides(mapping, map[excelparse.Field]string{
		excelparse.FieldMontant: "Dotation 2026",
		excelparse.FieldNBE:     "NBE",
	}, headers)
	assert.Equal(t, 1, mapping[excelparse.FieldMontant])
	assert.Equal(t, 2, mapping[excelparse.FieldNBE])

	// an override naming a header that does not exist clears the field
	applyMappingOverrides(mapping, map[excelparse.Field]string{
		excelparse.FieldMontant: "Inexistante",
	}, headers)
	_, ok := mapping[excelparse.FieldMontant]
	assert.False(t, ok)
}

func TestStagedRowMessageJoin(t *testing.T) {
	p := &excelparse.ParsedRow{
		RowNumber: 2,
		Errors:    []string{"OS manquant", "NBE manquant"},
		Warnings:  []string{"code littéral utilisé"},
	}
	require.Equal(t, "error", p.Status())
	assert.Equal(t, "OS manquant; NBE manquant; [Warning] code littéral utilisé", p.Message())
}

func TestLoadStagingFailedBatchAbortsWholeLoad(t *testing.T) {
	rows := make([]*excelparse.ParsedRow, 250)
	for i := range rows {
		rows[i] = &excelparse.ParsedRow{
			RowNumber:  i + 2,
			Imputation: fmt.Sprintf("%018d", i),
			Format:     "18",
			Montant:    decimal.NewFromInt(1000),
		}
	}

	copyCalls := 0
	committed := false
	rolledBack := false
	db := &pgmock.DB{
		BeginFunc: func() (pgx.Tx, error) {
			return &pgmock.Tx{
				ExecFunc: func(string, []any) (pgconn.CommandTag, error) {
					return pgconn.CommandTag{}, nil
				},
				CopyFromFunc: func(_ pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
					copyCalls++
					if copyCalls == 3 {
						return 0, errors.New("connexion perdue")
					}
					n := int64(0)
					for src.Next() {
						n++
					}
					return n, nil
				},
				CommitFunc:   func() error { committed = true; return nil },
				RollbackFunc: func() error { rolledBack = true; return nil },
			}, nil
		},
	}

	err := LoadStaging(context.Background(), db, "run-1", rows, "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lot 201-250")
	assert.Equal(t, 3, copyCalls)
	assert.False(t, committed, "a failed batch must leave the transaction uncommitted")
	assert.True(t, rolledBack)
}

func TestExecuteRunRejectsImportedRun(t *testing.T) {
	begun := false
	db := &pgmock.DB{
		QueryRowFunc: func(string, []any) pgx.Row {
			return pgmock.Row{Values: []any{RunImported, 2026}}
		},
		BeginFunc: func() (pgx.Tx, error) {
			begun = true
			return nil, errors.New("transaction inattendue")
		},
	}

	_, err := ExecuteRun(context.Background(), db, "run-1", "u1")
	require.EqualError(t, err, "le run a déjà été importé")
	assert.False(t, begun, "an imported run must be rejected before any transaction opens")
}

func TestValidateRunRecountsAfterDuplicateFlagging(t *testing.T) {
	var counterArgs []any
	db := &pgmock.DB{
		QueryRowFunc: func(string, []any) pgx.Row {
			return pgmock.Row{Values: []any{RunDraft}}
		},
		QueryFunc: func(string, []any) (pgx.Rows, error) {
			return &pgmock.Rows{Data: [][]any{
				{2, "030101204076621100", "ok", "", "1000"},
				{3, "030101204076621100", "ok", "", "2000"},
				{4, "0301204076621100", "warning", "[Warning] Imputation non recalculée, code littéral utilisé", "500"},
			}}, nil
		},
		BeginFunc: func() (pgx.Tx, error) {
			return &pgmock.Tx{
				ExecFunc: func(sql string, args []any) (pgconn.CommandTag, error) {
					if strings.Contains(sql, "UPDATE import_runs") {
						counterArgs = args
					}
					return pgconn.CommandTag{}, nil
				},
			}, nil
		},
	}

	statut, problems, err := ValidateRun(context.Background(), db, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunDraft, statut, "a duplicate keeps the run in draft")
	require.Len(t, problems, 2)

	require.Len(t, counterArgs, 6)
	assert.Equal(t, RunDraft, counterArgs[0])
	assert.Equal(t, 3, counterArgs[1], "rows_total")
	assert.Equal(t, 1, counterArgs[2], "rows_ok after the duplicate flip")
	assert.Equal(t, 1, counterArgs[3], "rows_warning")
	assert.Equal(t, 1, counterArgs[4], "rows_error")
}
