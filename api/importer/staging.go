package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ArtiBudget/api/importer/excelparse"
	"ArtiBudget/internal/config"
	"ArtiBudget/internal/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// store is the slice of the pool the run lifecycle needs; *pgxpool.Pool
// satisfies it.
type store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Run statuses. Transitions are one-directional (draft → validated →
// imported) except re-validation of a draft and the explicit retry and
// rollback paths; failed is reachable from any step.
const (
	RunDraft     = "draft"
	RunValidated = "validated"
	RunImported  = "imported"
	RunFailed    = "failed"
)

// StagedRow mirrors one import_rows record.
type StagedRow struct {
	RowNumber  int    `json:"row_number"`
	Imputation string `json:"imputation"`
	Statut     string `json:"statut"`
	Message    string `json:"message"`
	Montant    string `json:"montant"`
}

// RunStats aggregates row statuses into the run counters.
func RunStats(rows []*excelparse.ParsedRow) (total, ok, warning, errs int) {
	for _, r := range rows {
		total++
		switch r.Status() {
		case "ok":
			ok++
		case "warning":
			warning++
		default:
			errs++
		}
	}
	return
}

// MarkDuplicates flags every repeated computed imputation after its first
// occurrence, referencing the first row so the operator can resolve the
// conflict without re-deriving state. Returns the number of rows flagged.
func MarkDuplicates(rows []*StagedRow) int {
	firstSeen := map[string]int{}
	flagged := 0
	for _, row := range rows {
		if row.Imputation == "" {
			continue
		}
		first, seen := firstSeen[row.Imputation]
		if !seen {
			firstSeen[row.Imputation] = row.RowNumber
			continue
		}
		msg := fmt.Sprintf("Imputation dupliquée (déjà présente ligne %d)", first)
		if row.Message == "" {
			row.Message = msg
		} else {
			row.Message += "; " + msg
		}
		row.Statut = "error"
		flagged++
	}
	return flagged
}

// CreateRun allocates an import run in draft state.
func CreateRun(ctx context.Context, db store, exercice int, filename, sheetName, userID string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(ctx,
		`INSERT INTO import_runs (id, exercice, filename, sheet_name, statut, rows_total, rows_ok, rows_warning, rows_error, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, 0, 0, 0, $6, now())`,
		id, exercice, filename, sheetName, RunDraft, userID)
	if err != nil {
		return "", fmt.Errorf("création du run: %w", err)
	}
	if logger.GlobalLogger != nil {
		logger.GlobalLogger.LogAudit(fmt.Sprintf("Import run %s créé (%s / %s) par %s", id, filename, sheetName, userID))
	}
	return id, nil
}

// LoadStaging replaces the run's staging rows wholesale: prior rows are
// deleted, then all rows are inserted in fixed-size batches inside one
// transaction; a failed batch aborts the entire load, leaving zero rows.
func LoadStaging(ctx context.Context, db store, runID string, rows []*excelparse.ParsedRow, userID string) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ouverture transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM import_rows WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("purge des lignes précédentes: %w", err)
	}

	columns := []string{
		"id", "run_id", "row_number", "os", "action", "activite", "sous_activite",
		"direction", "nature_depense", "nbe", "imputation", "format", "montant",
		"statut", "message", "raw",
	}
	for start := 0; start < len(rows); start += config.StagingBatchSize {
		end := start + config.StagingBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := make([][]any, 0, end-start)
		for _, r := range rows[start:end] {
			raw, _ := json.Marshal(r.Raw)
			batch = append(batch, []any{
				uuid.NewString(), runID, r.RowNumber,
				r.Objectif, r.Action, r.Activite, r.SousActivite,
				r.Direction, r.NatureDepense, nullable(r.NBE), nullable(r.Imputation), nullable(r.Format),
				r.Montant.String(), r.Status(), r.Message(), raw,
			})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"import_rows"}, columns, pgx.CopyFromRows(batch)); err != nil {
			return fmt.Errorf("insertion du lot %d-%d: %w", start+1, end, err)
		}
	}

	total, ok, warning, errs := RunStats(rows)
	_, err = tx.Exec(ctx,
		`UPDATE import_runs SET statut = $1, rows_total = $2, rows_ok = $3, rows_warning = $4, rows_error = $5, error_message = NULL, updated_at = now() WHERE id = $6`,
		RunDraft, total, ok, warning, errs, runID)
	if err != nil {
		return fmt.Errorf("mise à jour des compteurs: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_logs (action, entity, entity_id, details, user_id, created_at) VALUES ($1, $2, $3, $4, $5, now())`,
		"IMPORT_PARSED", "import_runs", runID,
		fmt.Sprintf(`{"total": %d, "ok": %d, "warning": %d, "error": %d}`, total, ok, warning, errs),
		userID); err != nil {
		return fmt.Errorf("journal d'audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("validation transaction: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ValidateRun re-reads the staging rows, applies cross-row duplicate
// detection, and promotes the run to validated when nothing blocks. The
// problem rows are returned either way for operator review.
func ValidateRun(ctx context.Context, db store, runID string) (string, []*StagedRow, error) {
	var statut string
	err := db.QueryRow(ctx, `SELECT statut FROM import_runs WHERE id = $1`, runID).Scan(&statut)
	if err == pgx.ErrNoRows {
		return "", nil, fmt.Errorf("run %s introuvable", runID)
	}
	if err != nil {
		return "", nil, err
	}
	if statut != RunDraft {
		return "", nil, fmt.Errorf("le run est %s, seule une validation de brouillon est possible", statut)
	}

	rows, err := db.Query(ctx,
		`SELECT row_number, COALESCE(imputation, ''), statut, COALESCE(message, ''), montant::text FROM import_rows WHERE run_id = $1 ORDER BY row_number`,
		runID)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()

	var staged []*StagedRow
	for rows.Next() {
		var s StagedRow
		if err := rows.Scan(&s.RowNumber, &s.Imputation, &s.Statut, &s.Message, &s.Montant); err != nil {
			return "", nil, err
		}
		staged = append(staged, &s)
	}
	if err := rows.Err(); err != nil {
		return "", nil, err
	}

	duplicates := MarkDuplicates(staged)

	tx, err := db.Begin(ctx)
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback(ctx)

	// recount from the post-duplicate statuses so the run counters always
	// sum consistently with the rows
	okCount, warnCount, errCount := 0, 0, 0
	var problems []*StagedRow
	for _, s := range staged {
		switch s.Statut {
		case "ok":
			okCount++
		case "warning":
			warnCount++
		default:
			errCount++
		}
		if s.Statut != "ok" {
			problems = append(problems, s)
		}
	}
	if duplicates > 0 {
		for _, s := range staged {
			if strings.Contains(s.Message, "dupliquée") {
				if _, err := tx.Exec(ctx,
					`UPDATE import_rows SET statut = $1, message = $2 WHERE run_id = $3 AND row_number = $4`,
					s.Statut, s.Message, runID, s.RowNumber); err != nil {
					return "", nil, fmt.Errorf("marquage des doublons: %w", err)
				}
			}
		}
	}

	newStatut := RunDraft
	if errCount == 0 {
		newStatut = RunValidated
	}
	if _, err := tx.Exec(ctx,
		`UPDATE import_runs SET statut = $1, rows_total = $2, rows_ok = $3, rows_warning = $4, rows_error = $5, updated_at = now() WHERE id = $6`,
		newStatut, len(staged), okCount, warnCount, errCount, runID); err != nil {
		return "", nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", nil, err
	}
	return newStatut, problems, nil
}

// referenceMaps resolves component codes to reference-table ids at execute
// time. Codes are matched with leading zeros trimmed.
func referenceMaps(ctx context.Context, tx pgx.Tx) (map[string]map[string]string, error) {
	tables := map[string]string{
		"os":            "objectifs_strategiques",
		"action":        "actions_budgetaires",
		"activite":      "activites",
		"sous_activite": "sous_activites",
		"direction":     "directions",
	}
	out := map[string]map[string]string{}
	for key, table := range tables {
		m := map[string]string{}
		rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT id, code FROM %s WHERE actif = TRUE`, table))
		if err != nil {
			return nil, fmt.Errorf("chargement du référentiel %s: %w", table, err)
		}
		for rows.Next() {
			var id, code string
			if err := rows.Scan(&id, &code); err != nil {
				rows.Close()
				return nil, err
			}
			m[strings.TrimLeft(code, "0")] = id
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		out[key] = m
	}
	return out, nil
}

// ExecuteResult reports the canonical upsert outcome.
type ExecuteResult struct {
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// ExecuteRun commits a validated run into budget_lines in one transaction.
// Re-invocation on an imported run is rejected explicitly, never re-applied.
func ExecuteRun(ctx context.Context, db store, runID, userID string) (ExecuteResult, error) {
	res := ExecuteResult{}

	var statut string
	var exercice int
	err := db.QueryRow(ctx, `SELECT statut, exercice FROM import_runs WHERE id = $1`, runID).Scan(&statut, &exercice)
	if err == pgx.ErrNoRows {
		return res, fmt.Errorf("run %s introuvable", runID)
	}
	if err != nil {
		return res, err
	}
	switch statut {
	case RunValidated:
	case RunImported:
		return res, fmt.Errorf("le run a déjà été importé")
	default:
		return res, fmt.Errorf("le run est %s, seul un run validé peut être importé", statut)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback(ctx)

	refs, err := referenceMaps(ctx, tx)
	if err != nil {
		return res, markFailed(ctx, db, runID, userID, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT row_number, imputation, COALESCE(format, ''), montant::text, statut,
		       os, action, activite, sous_activite, direction, nature_depense, COALESCE(nbe, '')
		FROM import_rows WHERE run_id = $1 ORDER BY row_number`, runID)
	if err != nil {
		return res, markFailed(ctx, db, runID, userID, err)
	}

	type pendingLine struct {
		rowNumber  int
		imputation string
		montant    string
		nbe        string
		refIDs     map[string]*string
		nature     *int
	}
	var pending []pendingLine
	for rows.Next() {
		var p pendingLine
		var imputationVal *string
		var format, rowStatut string
		var os, action, activite, sousActivite, direction, nature *int
		if err := rows.Scan(&p.rowNumber, &imputationVal, &format, &p.montant, &rowStatut,
			&os, &action, &activite, &sousActivite, &direction, &nature, &p.nbe); err != nil {
			rows.Close()
			return res, markFailed(ctx, db, runID, userID, err)
		}
		if rowStatut == "error" || imputationVal == nil {
			res.Skipped++
			continue
		}
		p.imputation = *imputationVal
		p.nature = nature
		p.refIDs = map[string]*string{
			"objectif_id":      resolveRef(refs["os"], os),
			"action_id":        resolveRef(refs["action"], action),
			"activite_id":      resolveRef(refs["activite"], activite),
			"sous_activite_id": resolveRef(refs["sous_activite"], sousActivite),
			"direction_id":     resolveRef(refs["direction"], direction),
		}
		pending = append(pending, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, markFailed(ctx, db, runID, userID, err)
	}

	for _, p := range pending {
		var lineID string
		err := tx.QueryRow(ctx,
			`SELECT id FROM budget_lines WHERE exercice = $1 AND code = $2`,
			exercice, p.imputation).Scan(&lineID)
		switch {
		case err == pgx.ErrNoRows:
			_, err = tx.Exec(ctx,
				`INSERT INTO budget_lines
				   (id, exercice, code, objectif_id, action_id, activite_id, sous_activite_id, direction_id,
				    nature_depense, nbe, dotation_initiale, engagements_anterieurs, montant_reserve, actif, import_run_id, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, 0, 0, TRUE, $12, now())`,
				uuid.NewString(), exercice, p.imputation,
				p.refIDs["objectif_id"], p.refIDs["action_id"], p.refIDs["activite_id"],
				p.refIDs["sous_activite_id"], p.refIDs["direction_id"],
				p.nature, nullable(p.nbe), p.montant, runID)
			if err != nil {
				return res, markFailed(ctx, db, runID, userID, fmt.Errorf("ligne %d: insertion: %w", p.rowNumber, err))
			}
			res.Inserted++
		case err != nil:
			return res, markFailed(ctx, db, runID, userID, fmt.Errorf("ligne %d: recherche: %w", p.rowNumber, err))
		default:
			// import_run_id marks only lines this run created, so a
			// rollback never deletes pre-existing lines it merely updated
			_, err = tx.Exec(ctx,
				`UPDATE budget_lines SET dotation_initiale = $1::numeric, updated_at = now() WHERE id = $2`,
				p.montant, lineID)
			if err != nil {
				return res, markFailed(ctx, db, runID, userID, fmt.Errorf("ligne %d: mise à jour: %w", p.rowNumber, err))
			}
			res.Updated++
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE import_runs SET statut = $1, updated_at = now() WHERE id = $2`,
		RunImported, runID); err != nil {
		return res, markFailed(ctx, db, runID, userID, err)
	}
	details, _ := json.Marshal(res)
	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_logs (action, entity, entity_id, details, user_id, created_at) VALUES ($1, $2, $3, $4, $5, now())`,
		"IMPORT_BUDGET", "import_runs", runID, details, userID); err != nil {
		return res, markFailed(ctx, db, runID, userID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return res, markFailed(ctx, db, runID, userID, err)
	}
	return res, nil
}

func resolveRef(m map[string]string, code *int) *string {
	if code == nil {
		return nil
	}
	if id, ok := m[fmt.Sprintf("%d", *code)]; ok {
		return &id
	}
	return nil
}

// markFailed moves the run to the failed absorbing state, keeping the error
// for the operator; the caller's transaction has already rolled back.
func markFailed(ctx context.Context, db store, runID, userID string, cause error) error {
	if _, err := db.Exec(ctx,
		`UPDATE import_runs SET statut = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		RunFailed, cause.Error(), runID); err != nil {
		return fmt.Errorf("%w (échec du marquage: %v)", cause, err)
	}
	_, _ = db.Exec(ctx,
		`INSERT INTO audit_logs (action, entity, entity_id, details, user_id, created_at) VALUES ($1, $2, $3, $4, $5, now())`,
		"IMPORT_FAILED", "import_runs", runID, fmt.Sprintf(`{"error": %q}`, cause.Error()), userID)
	return cause
}

// RetryRun resets a failed run to draft, keeping its staging rows.
func RetryRun(ctx context.Context, db store, runID, userID string) error {
	tag, err := db.Exec(ctx,
		`UPDATE import_runs SET statut = $1, error_message = NULL, updated_at = now() WHERE id = $2 AND statut = $3`,
		RunDraft, runID, RunFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("seul un run en échec peut être relancé")
	}
	_, _ = db.Exec(ctx,
		`INSERT INTO audit_logs (action, entity, entity_id, user_id, created_at) VALUES ($1, $2, $3, $4, now())`,
		"IMPORT_RETRY", "import_runs", runID, userID)
	return nil
}

// RollbackRun removes the budget lines an imported run created, unless any
// of them already carries engagements or reservations, then returns the run
// to draft for re-processing.
func RollbackRun(ctx context.Context, db store, runID, userID string) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var statut string
	err = tx.QueryRow(ctx, `SELECT statut FROM import_runs WHERE id = $1 FOR UPDATE`, runID).Scan(&statut)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("run %s introuvable", runID)
	}
	if err != nil {
		return err
	}
	if statut != RunImported {
		return fmt.Errorf("seul un run importé peut être annulé")
	}

	rows, err := tx.Query(ctx, `
		SELECT l.code FROM budget_lines l
		WHERE l.import_run_id = $1
		  AND (l.montant_reserve > 0 OR EXISTS (SELECT 1 FROM budget_engagements e WHERE e.ligne_id = l.id))`,
		runID)
	if err != nil {
		return err
	}
	var engaged []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			rows.Close()
			return err
		}
		engaged = append(engaged, code)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(engaged) > 0 {
		return fmt.Errorf("annulation impossible, lignes déjà engagées: %s", strings.Join(engaged, ", "))
	}

	if _, err := tx.Exec(ctx, `DELETE FROM budget_lines WHERE import_run_id = $1`, runID); err != nil {
		return fmt.Errorf("suppression des lignes importées: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE import_runs SET statut = $1, updated_at = now() WHERE id = $2`, RunDraft, runID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_logs (action, entity, entity_id, user_id, created_at) VALUES ($1, $2, $3, $4, now())`,
		"IMPORT_ROLLBACK", "import_runs", runID, userID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
