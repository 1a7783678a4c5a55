package referentiel

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"ArtiBudget/api"
	"ArtiBudget/api/auth"
	"ArtiBudget/api/constants"
	"ArtiBudget/api/importer/excelparse"
	"ArtiBudget/internal/logger"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
)

func StartReferentielService(pool *pgxpool.Pool) {
	r := mux.NewRouter()
	r.HandleFunc("/referentiel/sync", SyncReferentielHandler(pool)).Methods("POST")
	r.HandleFunc("/referentiel/hello", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("Hello from Referentiel Service"))
	})
	log.Println("Referentiel Service started on :7343")
	if err := http.ListenAndServe(":7343", r); err != nil {
		log.Fatalf("Referentiel Service failed: %v", err)
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

// SyncReferentielHandler ingests a reference workbook (multipart "file") and
// reconciles every recognized reference sheet, in dependency order.
func SyncReferentielHandler(pool *pgxpool.Pool) http.HandlerFunc {
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

		results, err := SyncWorkbook(r.Context(), pool, sheets)
		if err != nil {
			api.LogError("[Referentiel] sync failed for %s: %v", header.Filename, err)
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
			return
		}

		details, _ := json.Marshal(results)
		if _, err := pool.Exec(r.Context(),
			`INSERT INTO audit_logs (action, entity, details, user_id, created_at) VALUES ($1, $2, $3, $4, now())`,
			"REFERENTIEL_SYNC", "referentiel", details, userID); err != nil {
			api.LogError("[Referentiel] audit insert failed: %v", err)
		}
		if logger.GlobalLogger != nil {
			logger.GlobalLogger.LogAudit("Referentiel sync from " + header.Filename + " by " + userID)
		}

		api.RespondWithPayload(w, true, "", results)
	}
}
