package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"ArtiBudget/api"
	"ArtiBudget/api/auth"
	"ArtiBudget/api/constants"
	"ArtiBudget/api/importer/excelparse"
	"ArtiBudget/api/utils"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
)

func StartImportService(pool *pgxpool.Pool) {
	r := mux.NewRouter()
	r.HandleFunc("/import/upload", UploadHandler(pool)).Methods("POST")
	r.HandleFunc("/import/runs", ListRunsHandler(pool)).Methods("POST")
	r.HandleFunc("/import/runs/rows", ListRowsHandler(pool)).Methods("POST")
	r.HandleFunc("/import/runs/validate", ValidateHandler(pool)).Methods("POST")
	r.HandleFunc("/import/runs/execute", ExecuteHandler(pool)).Methods("POST")
	r.HandleFunc("/import/runs/retry", RetryHandler(pool)).Methods("POST")
	r.HandleFunc("/import/runs/rollback", RollbackHandler(pool)).Methods("POST")
	r.HandleFunc("/import/runs/errors.csv", ExportErrorsHandler(pool)).Methods("POST")
	r.HandleFunc("/import/hello", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("Hello from Import Service"))
	})
	log.Println("Import Service started on :7243")
	if err := http.ListenAndServe(":7243", r); err != nil {
		log.Fatalf("Import Service failed: %v", err)
	}
}

func sessionValid(userID string) bool {
	for _, s := range auth.GetActiveSessions() {
		if s.UserID == userID && s.IsLoggedIn {
			return true
		}
	}
	return false
}

// UploadHandler parses a budget workbook, creates a run and stages its rows.
// Form fields: file, user_id, exercice, sheet (optional, default first),
// mapping (optional JSON object of field → header overriding detection).
func UploadHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidRequestBody)
			return
		}
		userID := r.FormValue("user_id")
		if userID == "" || !sessionValid(userID) {
			api.RespondWithError(w, http.StatusUnauthorized, constants.ErrInvalidSession)
			return
		}
		exercice, err := strconv.Atoi(r.FormValue("exercice"))
		if err != nil || exercice < 2000 {
			api.RespondWithError(w, http.StatusBadRequest, "exercice invalide")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, "fichier manquant")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, "lecture du fichier impossible")
			return
		}

		sheets, err := excelparse.Parse(data, header.Filename)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		sheet := sheets[0]
		if wanted := r.FormValue("sheet"); wanted != "" {
			found := false
			for _, s := range sheets {
				if s.Name == wanted {
					sheet, found = s, true
					break
				}
			}
			if !found {
				api.RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("feuille %q introuvable", wanted))
				return
			}
		}

		mapping := excelparse.DetectMapping(sheet.Headers, excelparse.DefaultMappingRules())
		if raw := r.FormValue("mapping"); raw != "" {
			overrides := map[excelparse.Field]string{}
			if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
				api.RespondWithError(w, http.StatusBadRequest, "mapping invalide")
				return
			}
			applyMappingOverrides(mapping, overrides, sheet.Headers)
		}

		rows := excelparse.ExtractSheet(sheet, mapping)

		runID, err := CreateRun(r.Context(), pool, exercice, header.Filename, sheet.Name, userID)
		if err != nil {
			api.LogError("[Import] run creation failed: %v", err)
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
			return
		}
		if err := LoadStaging(r.Context(), pool, runID, rows, userID); err != nil {
			api.LogError("[Import] staging load failed for %s: %v", runID, err)
			_ = markFailed(r.Context(), pool, runID, userID, err)
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
			return
		}

		total, ok, warning, errs := RunStats(rows)
		api.RespondWithPayload(w, true, "", map[string]interface{}{
			"run_id":       runID,
			"sheet":        sheet.Name,
			"rows_total":   total,
			"rows_ok":      ok,
			"rows_warning": warning,
			"rows_error":   errs,
		})
	}
}

// applyMappingOverrides replaces detected entries with caller-named headers.
// An override naming an unknown header removes the field from the mapping.
func applyMappingOverrides(mapping excelparse.Mapping, overrides map[excelparse.Field]string, headers []string) {
	for field, headerName := range overrides {
		delete(mapping, field)
		for i, h := range headers {
			if h == headerName {
				mapping[field] = i
				break
			}
		}
	}
}

type runRequest struct {
	UserID string `json:"user_id"`
	RunID  string `json:"run_id"`
}

func decodeRunRequest(w http.ResponseWriter, r *http.Request) (runRequest, bool) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidJSON)
		return req, false
	}
	if !sessionValid(req.UserID) {
		api.RespondWithError(w, http.StatusUnauthorized, constants.ErrInvalidSession)
		return req, false
	}
	if req.RunID == "" {
		api.RespondWithError(w, http.StatusBadRequest, "run_id requis")
		return req, false
	}
	return req, true
}

func ValidateHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}
		statut, problems, err := ValidateRun(r.Context(), pool, req.RunID)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		api.RespondWithPayload(w, true, "", map[string]interface{}{
			"statut":   statut,
			"problems": problems,
		})
	}
}

func ExecuteHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}
		res, err := ExecuteRun(r.Context(), pool, req.RunID, req.UserID)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		api.RespondWithPayload(w, true, "", res)
	}
}

func RetryHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}
		if err := RetryRun(r.Context(), pool, req.RunID, req.UserID); err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		api.RespondWithResult(w, true, "")
	}
}

func RollbackHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}
		if err := RollbackRun(r.Context(), pool, req.RunID, req.UserID); err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		api.RespondWithResult(w, true, "")
	}
}

func ListRunsHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID   string `json:"user_id"`
			Exercice int    `json:"exercice"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidJSON)
			return
		}
		if !sessionValid(req.UserID) {
			api.RespondWithError(w, http.StatusUnauthorized, constants.ErrInvalidSession)
			return
		}
		rows, err := pool.Query(r.Context(), `
			SELECT id, filename, sheet_name, statut, rows_total, rows_ok, rows_warning, rows_error,
			       COALESCE(error_message, ''), created_by, created_at
			FROM import_runs WHERE exercice = $1 ORDER BY created_at DESC`, req.Exercice)
		if err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
			return
		}
		defer rows.Close()
		out := []map[string]interface{}{}
		for rows.Next() {
			var id, filename, sheetName, statut, errMsg, createdBy string
			var total, ok, warning, errCount int
			var createdAt time.Time
			if err := rows.Scan(&id, &filename, &sheetName, &statut, &total, &ok, &warning, &errCount, &errMsg, &createdBy, &createdAt); err != nil {
				api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
				return
			}
			out = append(out, map[string]interface{}{
				"id": id, "filename": filename, "sheet_name": sheetName, "statut": statut,
				"rows_total": total, "rows_ok": ok, "rows_warning": warning, "rows_error": errCount,
				"error_message": errMsg, "created_by": createdBy,
				"created_at": createdAt.Format(constants.DateTimeFormat),
			})
		}
		api.RespondWithPayload(w, true, "", out)
	}
}

func ListRowsHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}
		pagination, err := utils.ExtractPagination(r)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		total, err := utils.CountTotal(r.Context(), pool,
			`SELECT COUNT(*) FROM import_rows WHERE run_id = $1`, req.RunID)
		if err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
			return
		}
		pagination.SetPaginationStats(total)
		rows, err := pool.Query(r.Context(), `
			SELECT row_number, COALESCE(imputation, ''), COALESCE(format, ''), montant::text, statut, COALESCE(message, '')
			FROM import_rows WHERE run_id = $1 ORDER BY row_number
			LIMIT $2 OFFSET $3`, req.RunID, pagination.Limit, pagination.Offset)
		if err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
			return
		}
		defer rows.Close()
		out := []map[string]interface{}{}
		for rows.Next() {
			var rowNumber int
			var imputationCode, format, montant, statut, message string
			if err := rows.Scan(&rowNumber, &imputationCode, &format, &montant, &statut, &message); err != nil {
				api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
				return
			}
			out = append(out, map[string]interface{}{
				"row_number": rowNumber, "imputation": imputationCode, "format": format,
				"montant": montant, "statut": statut, "message": message,
			})
		}
		api.RespondWithPayload(w, true, "", map[string]interface{}{
			"pagination": pagination,
			"rows":       out,
		})
	}
}
