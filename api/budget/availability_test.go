package budget

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeAvailabilityNominal(t *testing.T) {
	agg := LineAggregate{
		LineIDs:               []string{"l1"},
		DotationInitiale:      dec("1000000"),
		TransfertsRecus:       dec("200000"),
		TransfertsEmis:        dec("50000"),
		EngagementsAnterieurs: dec("300000"),
		MontantReserve:        dec("100000"),
	}
	av := ComputeAvailability(agg, dec("250000"))

	assert.True(t, av.DotationActuelle.Equal(dec("1150000")))
	assert.True(t, av.Disponible.Equal(dec("850000")))
	assert.True(t, av.DisponibleNet.Equal(dec("500000")))
	assert.True(t, av.IsSufficient)
	assert.True(t, av.Deficit.IsZero())
	assert.Equal(t, 1, av.LineCount)
}

func TestComputeAvailabilityDeficitOfOne(t *testing.T) {
	agg := LineAggregate{
		LineIDs:          []string{"l1"},
		DotationInitiale: dec("1000000"),
	}
	av := ComputeAvailability(agg, dec("1000001"))

	assert.False(t, av.IsSufficient)
	assert.True(t, av.Deficit.Equal(dec("1")), av.Deficit.String())
	assert.True(t, av.DisponibleNet.Equal(dec("-1")))
}

func TestComputeAvailabilityExactBoundaryIsSufficient(t *testing.T) {
	agg := LineAggregate{LineIDs: []string{"l1"}, DotationInitiale: dec("500")}
	av := ComputeAvailability(agg, dec("500"))
	assert.True(t, av.IsSufficient, "disponible_net = 0 authorizes")
	assert.True(t, av.Deficit.IsZero())
}

func TestComputeAvailabilityFailClosedOnNoLine(t *testing.T) {
	av := ComputeAvailability(LineAggregate{
		DotationInitiale:      decimal.Zero,
		TransfertsRecus:       decimal.Zero,
		TransfertsEmis:        decimal.Zero,
		EngagementsAnterieurs: decimal.Zero,
		MontantReserve:        decimal.Zero,
	}, dec("75000"))

	assert.Equal(t, 0, av.LineCount)
	assert.True(t, av.DotationInitiale.IsZero())
	assert.False(t, av.IsSufficient)
	assert.True(t, av.Deficit.Equal(dec("75000")))
	assert.True(t, av.DisponibleNet.Equal(dec("-75000")))
}

func TestJustificationLength(t *testing.T) {
	assert.Equal(t, 0, JustificationLength("   \t\n"))
	assert.Equal(t, 9, JustificationLength("trop court")) // "tropcourt"
	assert.Equal(t, 11, JustificationLength("dépassement"))
}

func TestValidateForce(t *testing.T) {
	// no force: justification irrelevant
	require.NoError(t, ValidateForce(false, ""))

	// 9 non-whitespace characters: rejected
	assert.Error(t, ValidateForce(true, "trop court"))
	assert.Error(t, ValidateForce(true, "a b c d e f g h i"))
	// 10 non-whitespace characters: accepted
	assert.NoError(t, ValidateForce(true, "abcdefghij"))
	assert.NoError(t, ValidateForce(true, "Décision DG n°42"))
	// whitespace padding does not help
	assert.Error(t, ValidateForce(true, "  abcd efg  "))
}

func TestFilterClause(t *testing.T) {
	obj := "obj-1"
	nat := 6
	where, args := filterClause(ComponentFilters{
		Exercice:      2026,
		ObjectifID:    &obj,
		NatureDepense: &nat,
	})
	assert.Equal(t, "exercice = $1 AND actif = TRUE AND objectif_id = $2 AND nature_depense = $3", where)
	assert.Equal(t, []any{2026, "obj-1", 6}, args)
}

func TestFilterClauseExerciceOnly(t *testing.T) {
	where, args := filterClause(ComponentFilters{Exercice: 2025})
	assert.Equal(t, "exercice = $1 AND actif = TRUE", where)
	assert.Equal(t, []any{2025}, args)
}
