package budget

import (
	"encoding/json"
	"log"
	"net/http"

	"ArtiBudget/api"
	"ArtiBudget/api/auth"
	"ArtiBudget/api/budget/imputation"
	"ArtiBudget/api/constants"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
)

func StartBudgetService(pool *pgxpool.Pool) {
	r := mux.NewRouter()
	r.HandleFunc("/budget/imputation", BuildImputationHandler()).Methods("POST")
	r.HandleFunc("/budget/disponibilite", CheckAvailabilityHandler(pool)).Methods("POST")
	r.HandleFunc("/budget/engagements", EngageHandler(pool)).Methods("POST")
	r.HandleFunc("/budget/mouvements", MovementsHandler(pool)).Methods("POST")
	r.HandleFunc("/budget/resume", SummaryHandler(pool)).Methods("POST")
	r.HandleFunc("/budget/hello", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("Hello from Budget Service"))
	})
	log.Println("Budget Service started on :7143")
	if err := http.ListenAndServe(":7143", r); err != nil {
		log.Fatalf("Budget Service failed: %v", err)
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

// BuildImputationHandler assembles and cross-checks an imputation code from
// structured components. Pure computation, no store access.
func BuildImputationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID        string `json:"user_id"`
			Objectif      *int   `json:"objectif"`
			Action        *int   `json:"action"`
			Activite      *int   `json:"activite"`
			SousActivite  *int   `json:"sous_activite"`
			Direction     *int   `json:"direction"`
			NatureDepense *int   `json:"nature_depense"`
			NBE           string `json:"nbe"`
			CodeLitteral  string `json:"code_litteral"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidJSON)
			return
		}
		if !sessionValid(req.UserID) {
			api.RespondWithError(w, http.StatusUnauthorized, constants.ErrInvalidSession)
			return
		}
		res := imputation.Build(imputation.Components{
			Objectif:      req.Objectif,
			Action:        req.Action,
			Activite:      req.Activite,
			SousActivite:  req.SousActivite,
			Direction:     req.Direction,
			NatureDepense: req.NatureDepense,
			NBE:           req.NBE,
			CodeLitteral:  req.CodeLitteral,
		})
		api.RespondWithPayload(w, res.IsValid(), "", res)
	}
}
