package excelparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMappingTypicalWorkbook(t *testing.T) {
	headers := []string{
		"Imputation", "OS", "Action", "Activité", "Sous-activité",
		"Direction", "Nature de dépense", "NBE", "Montant (FCFA)",
	}
	m := DetectMapping(headers, DefaultMappingRules())

	require.Len(t, m, 9)
	assert.Equal(t, 0, m[FieldImputation])
	assert.Equal(t, 1, m[FieldObjectif])
	assert.Equal(t, 2, m[FieldAction])
	assert.Equal(t, 3, m[FieldActivite])
	assert.Equal(t, 4, m[FieldSousActivite])
	assert.Equal(t, 5, m[FieldDirection])
	assert.Equal(t, 6, m[FieldNatureDepense])
	assert.Equal(t, 7, m[FieldNBE])
	assert.Equal(t, 8, m[FieldMontant])
}

func TestDetectMappingFirstMatchWins(t *testing.T) {
	// "Dotation initiale" and "Montant engagé" both match the montant rules;
	// "montant" is tried before "dotation", and header order breaks ties.
	headers := []string{"Dotation initiale", "Montant engagé"}
	m := DetectMapping(headers, DefaultMappingRules())
	assert.Equal(t, 1, m[FieldMontant])
}

func TestDetectMappingAccentAndCaseInsensitive(t *testing.T) {
	headers := []string{"ACTIVITE", "nature de DÉPENSE", "Prévision 2026"}
	m := DetectMapping(headers, DefaultMappingRules())
	assert.Equal(t, 0, m[FieldActivite])
	assert.Equal(t, 1, m[FieldNatureDepense])
	assert.Equal(t, 2, m[FieldMontant])
}

func TestDetectMappingUnmappedFieldsAbsent(t *testing.T) {
	m := DetectMapping([]string{"Colonne A", "Colonne B"}, DefaultMappingRules())
	assert.Empty(t, m)
	_, ok := m[FieldMontant]
	assert.False(t, ok)
}

func TestDetectMappingSousActiviteNotCapturedByActivite(t *testing.T) {
	headers := []string{"Sous-activité", "Activité"}
	m := DetectMapping(headers, DefaultMappingRules())
	assert.Equal(t, 1, m[FieldActivite])
	assert.Equal(t, 0, m[FieldSousActivite])
}

func TestDetectMappingAlternateVocabulary(t *testing.T) {
	headers := []string{"Code budgétaire", "Objectif stratégique", "S/Activité", "Nomenclature", "Crédit ouvert"}
	m := DetectMapping(headers, DefaultMappingRules())
	assert.Equal(t, 0, m[FieldImputation])
	assert.Equal(t, 1, m[FieldObjectif])
	assert.Equal(t, 2, m[FieldSousActivite])
	assert.Equal(t, 3, m[FieldNBE])
	assert.Equal(t, 4, m[FieldMontant])
}

func TestIsTotalColumn(t *testing.T) {
	for _, h := range []string{"Total", "TOTAL 2026", "Somme", "Sous-total", "Cumul", "Grand total"} {
		assert.True(t, isTotalColumn(h), h)
	}
	for _, h := range []string{"Montant", "Dotation", "Direction"} {
		assert.False(t, isTotalColumn(h), h)
	}
}
