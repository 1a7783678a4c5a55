package referentiel

import (
	"context"
	"fmt"
	"strings"

	"ArtiBudget/api/budget/imputation"
	"ArtiBudget/api/importer/excelparse"

	"github.com/jackc/pgx/v5"
)

// txBeginner is the slice of the pool the sync needs; *pgxpool.Pool
// satisfies it.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// entityDef describes one reference table for the generic upsert-by-code
// routine. The pattern lists are configuration: they mirror the sheet and
// header vocabulary of the organization's reference workbooks.
type entityDef struct {
	Key           string
	Label         string
	Table         string
	SheetPatterns []string
	CodePatterns  []string
	LabelPatterns []string
	ParentColumn  string
	ParentLabel   string
	PadCodeToNBE  bool
}

// Processing order matters: parents must be synced before children because
// child rows resolve their foreign key through the parent's code→id map.
func entityDefs() []entityDef {
	return []entityDef{
		{
			Key: "objectifs", Label: "OS", Table: "objectifs_strategiques",
			SheetPatterns: []string{"os", "objectif", "objectifs", "objectifs strategiques"},
			CodePatterns:  []string{"code", "os", "numero"},
			LabelPatterns: []string{"libelle", "intitule", "designation"},
		},
		{
			Key: "actions", Label: "Action", Table: "actions_budgetaires",
			SheetPatterns: []string{"action", "actions"},
			CodePatterns:  []string{"code", "action", "numero"},
			LabelPatterns: []string{"libelle", "intitule", "designation"},
			ParentColumn:  "objectif_id", ParentLabel: "OS",
		},
		{
			Key: "activites", Label: "Activité", Table: "activites",
			SheetPatterns: []string{"activite", "activites", "fonctionnement", "projet pip"},
			CodePatterns:  []string{"code", "activite", "numero"},
			LabelPatterns: []string{"libelle", "intitule", "designation"},
			ParentColumn:  "action_id", ParentLabel: "Action",
		},
		{
			Key: "sous_activites", Label: "Sous-activité", Table: "sous_activites",
			SheetPatterns: []string{"sous activite", "sous activites", "s/activite"},
			CodePatterns:  []string{"code", "sous activite", "numero"},
			LabelPatterns: []string{"libelle", "intitule", "designation"},
			ParentColumn:  "activite_id", ParentLabel: "Activité",
		},
		{
			Key: "directions", Label: "Direction", Table: "directions",
			SheetPatterns: []string{"direction", "directions", "dir"},
			CodePatterns:  []string{"code", "direction", "sigle"},
			LabelPatterns: []string{"libelle", "intitule", "designation"},
		},
		{
			Key: "nbe", Label: "NBE", Table: "nomenclature_nbe",
			SheetPatterns: []string{"nbe", "nature eco", "nature economique", "nomenclature"},
			CodePatterns:  []string{"code", "nbe", "numero"},
			LabelPatterns: []string{"libelle", "intitule", "designation"},
			PadCodeToNBE:  true,
		},
	}
}

// EntityResult reports one entity type's sync outcome.
type EntityResult struct {
	SheetFound   bool     `json:"sheet_found"`
	Sheet        string   `json:"sheet,omitempty"`
	Total        int      `json:"total"`
	Inserted     int      `json:"inserted"`
	Updated      int      `json:"updated"`
	Errors       int      `json:"errors"`
	Duplicates   []string `json:"duplicates,omitempty"`
	ErrorDetails []string `json:"error_details,omitempty"`
}

// parentSets carries each synced entity's code→id map forward explicitly;
// later entities read their parents from here, never from shared state.
type parentSets map[string]map[string]string

func parentKeyFor(key string) string {
	switch key {
	case "actions":
		return "objectifs"
	case "activites":
		return "actions"
	case "sous_activites":
		return "activites"
	}
	return ""
}

// SyncWorkbook reconciles every reference sheet found in the workbook, in
// dependency order. Entities whose sheet is absent are skipped, not failed.
func SyncWorkbook(ctx context.Context, db txBeginner, sheets []excelparse.Sheet) (map[string]EntityResult, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ouverture transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	results := map[string]EntityResult{}
	maps := parentSets{}
	for _, def := range entityDefs() {
		parents := maps[parentKeyFor(def.Key)]
		res, codeToID, err := syncEntity(ctx, tx, sheets, def, parents)
		if err != nil {
			return nil, err
		}
		results[def.Key] = res
		maps[def.Key] = codeToID
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("validation transaction: %w", err)
	}
	return results, nil
}

// syncEntity performs the per-row upsert-by-natural-code for one entity. The
// code column is mandatory; the label column defaults to "<Label> <code>".
// Codes already seen in this run are recorded as duplicates and skipped.
func syncEntity(ctx context.Context, tx pgx.Tx, sheets []excelparse.Sheet, def entityDef, parents map[string]string) (EntityResult, map[string]string, error) {
	res := EntityResult{}
	codeToID := map[string]string{}

	si := findSheet(sheets, def.SheetPatterns)
	if si < 0 {
		return res, codeToID, nil
	}
	sheet := sheets[si]
	res.SheetFound = true
	res.Sheet = sheet.Name

	codeCol := findColumn(sheet.Headers, def.CodePatterns)
	if codeCol < 0 {
		res.Errors++
		res.ErrorDetails = append(res.ErrorDetails, fmt.Sprintf("feuille %s: colonne code introuvable", sheet.Name))
		return res, codeToID, nil
	}
	labelCol := findColumn(sheet.Headers, def.LabelPatterns)
	parentCol := -1
	if def.ParentColumn != "" {
		parentCol = findColumn(sheet.Headers, []string{def.ParentLabel, "code " + def.ParentLabel})
	}

	seen := map[string]bool{}
	for i, row := range sheet.Rows {
		rowNum := i + 2
		code := extractCode(cellAt(row, codeCol), def.PadCodeToNBE)
		if code == "" {
			continue
		}
		res.Total++

		if seen[code] {
			res.Duplicates = append(res.Duplicates, code)
			continue
		}
		seen[code] = true

		label := strings.TrimSpace(cellAt(row, labelCol))
		if label == "" {
			label = fmt.Sprintf("%s %s", def.Label, code)
		}

		var parentID *string
		if def.ParentColumn != "" {
			parentCode := imputation.LeadingDigits(cellAt(row, parentCol))
			id, ok := parents[strings.TrimLeft(parentCode, "0")]
			if !ok {
				id, ok = parents[parentCode]
			}
			if !ok {
				res.Errors++
				res.ErrorDetails = append(res.ErrorDetails,
					fmt.Sprintf("Ligne %d: %s parent %q non résolu pour %s %s", rowNum, def.ParentLabel, parentCode, def.Label, code))
				continue
			}
			parentID = &id
		}

		id, inserted, err := upsertByCode(ctx, tx, def.Table, def.ParentColumn, code, label, parentID)
		if err != nil {
			return res, codeToID, fmt.Errorf("feuille %s ligne %d: %w", sheet.Name, rowNum, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
		codeToID[code] = id
		codeToID[strings.TrimLeft(code, "0")] = id
	}

	return res, codeToID, nil
}

func cellAt(row []excelparse.CellValue, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col].Text()
}

func extractCode(raw string, padNBE bool) string {
	code := imputation.LeadingDigits(raw)
	if code == "" {
		return ""
	}
	if padNBE {
		if normalized, err := imputation.NormalizeNBE(code); err == nil {
			return normalized
		}
	}
	return code
}

// upsertByCode updates label, parent link and sync timestamp when the code
// exists; inserts an active record otherwise. The natural code itself is
// never rewritten.
func upsertByCode(ctx context.Context, tx pgx.Tx, table, parentColumn, code, label string, parentID *string) (string, bool, error) {
	var id string
	err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE code = $1`, table), code).Scan(&id)
	switch {
	case err == pgx.ErrNoRows:
		if parentColumn != "" {
			err = tx.QueryRow(ctx, fmt.Sprintf(
				`INSERT INTO %s (code, libelle, %s, actif, last_synced_at) VALUES ($1, $2, $3, TRUE, now()) RETURNING id`,
				table, parentColumn), code, label, parentID).Scan(&id)
		} else {
			err = tx.QueryRow(ctx, fmt.Sprintf(
				`INSERT INTO %s (code, libelle, actif, last_synced_at) VALUES ($1, $2, TRUE, now()) RETURNING id`,
				table), code, label).Scan(&id)
		}
		if err != nil {
			return "", false, fmt.Errorf("insertion %s %s: %w", table, code, err)
		}
		return id, true, nil
	case err != nil:
		return "", false, fmt.Errorf("recherche %s %s: %w", table, code, err)
	}

	if parentColumn != "" {
		_, err = tx.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET libelle = $1, %s = $2, last_synced_at = now() WHERE id = $3`,
			table, parentColumn), label, parentID, id)
	} else {
		_, err = tx.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET libelle = $1, last_synced_at = now() WHERE id = $2`,
			table), label, id)
	}
	if err != nil {
		return "", false, fmt.Errorf("mise à jour %s %s: %w", table, code, err)
	}
	return id, false, nil
}
