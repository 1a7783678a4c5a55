package importer

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"ArtiBudget/api"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ExportErrorsHandler streams the run's error and warning rows as a CSV
// report for operator review.
func ExportErrorsHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}
		rows, err := pool.Query(r.Context(), `
			SELECT row_number, COALESCE(imputation, ''), statut, COALESCE(message, '')
			FROM import_rows
			WHERE run_id = $1 AND statut IN ('error', 'warning')
			ORDER BY row_number`, req.RunID)
		if err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, "export impossible")
			return
		}
		defer rows.Close()

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="erreurs_%s.csv"`, req.RunID))

		cw := csv.NewWriter(w)
		cw.Comma = ';'
		_ = cw.Write([]string{"Ligne", "Imputation", "Statut", "Message"})
		for rows.Next() {
			var rowNumber int
			var imputationCode, statut, message string
			if err := rows.Scan(&rowNumber, &imputationCode, &statut, &message); err != nil {
				return
			}
			_ = cw.Write([]string{strconv.Itoa(rowNumber), imputationCode, statut, message})
		}
		cw.Flush()
	}
}
