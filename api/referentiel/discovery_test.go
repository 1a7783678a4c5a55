package referentiel

import (
	"testing"

	"ArtiBudget/api/importer/excelparse"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "sousactivites", normalizeName("Sous-activités "))
	assert.Equal(t, "sousactivites", normalizeName("SOUS ACTIVITES"))
	assert.Equal(t, "objectifsstrategiques", normalizeName("Objectifs Stratégiques"))
	assert.Equal(t, "nbe", normalizeName(" N.B.E. "))
}

func TestFindSheetExactBeforeSubstring(t *testing.T) {
	sheets := []excelparse.Sheet{
		{Name: "Liste des actions 2026"},
		{Name: "Actions"},
	}
	i := findSheet(sheets, []string{"action", "actions"})
	assert.Equal(t, 1, i, "exact normalized match preferred over substring")
}

func TestFindSheetSubstringFallback(t *testing.T) {
	sheets := []excelparse.Sheet{
		{Name: "Budget"},
		{Name: "Feuille OS 2026"},
	}
	i := findSheet(sheets, []string{"os", "objectif"})
	assert.Equal(t, 1, i)
}

func TestFindSheetAbsent(t *testing.T) {
	sheets := []excelparse.Sheet{{Name: "Budget"}, {Name: "Divers"}}
	assert.Equal(t, -1, findSheet(sheets, []string{"nbe", "nomenclature"}))
}

func TestFindColumn(t *testing.T) {
	headers := []string{"N°", "Code OS", "Libellé"}
	assert.Equal(t, 1, findColumn(headers, []string{"code", "os"}))
	assert.Equal(t, 2, findColumn(headers, []string{"libelle", "intitule"}))
	assert.Equal(t, -1, findColumn(headers, []string{"montant"}))
}

func TestEntityDefsDependencyOrder(t *testing.T) {
	defs := entityDefs()
	pos := map[string]int{}
	for i, d := range defs {
		pos[d.Key] = i
	}
	assert.Less(t, pos["objectifs"], pos["actions"])
	assert.Less(t, pos["actions"], pos["activites"])
	assert.Less(t, pos["activites"], pos["sous_activites"])
}

func TestParentKeyFor(t *testing.T) {
	assert.Equal(t, "objectifs", parentKeyFor("actions"))
	assert.Equal(t, "actions", parentKeyFor("activites"))
	assert.Equal(t, "activites", parentKeyFor("sous_activites"))
	assert.Equal(t, "", parentKeyFor("directions"))
}

func TestExtractCodePadsNBE(t *testing.T) {
	assert.Equal(t, "006211", extractCode("6211 : Achats", true))
	assert.Equal(t, "3", extractCode("3", false))
	assert.Equal(t, "03", extractCode("03 - Mobilité", false))
	assert.Equal(t, "", extractCode("sans code", false))
}
