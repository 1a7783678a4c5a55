package budget

import (
	"encoding/json"
	"net/http"

	"ArtiBudget/api"
	"ArtiBudget/api/constants"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// SummaryHandler returns per-exercise totals and the lines in dépassement
// (net disponible below zero).
func SummaryHandler(pool *pgxpool.Pool) http.HandlerFunc {
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
			SELECT l.id, l.code,
			       l.dotation_initiale::text,
			       l.engagements_anterieurs::text,
			       l.montant_reserve::text,
			       COALESCE((SELECT SUM(t.montant) FROM credit_transfers t WHERE t.statut = 'execute' AND t.ligne_destination = l.id), 0)::text,
			       COALESCE((SELECT SUM(t.montant) FROM credit_transfers t WHERE t.statut = 'execute' AND t.ligne_source = l.id), 0)::text
			FROM budget_lines l
			WHERE l.exercice = $1 AND l.actif = TRUE
			ORDER BY l.code`, req.Exercice)
		if err != nil {
			api.LogError("[Budget] summary query failed: %v", err)
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
			return
		}
		defer rows.Close()

		totalDotation := decimal.Zero
		totalEngage := decimal.Zero
		totalReserve := decimal.Zero
		totalDisponible := decimal.Zero
		depassements := []map[string]interface{}{}
		lineCount := 0

		for rows.Next() {
			var id, code, dotation, engagements, reserve, recus, emis string
			if err := rows.Scan(&id, &code, &dotation, &engagements, &reserve, &recus, &emis); err != nil {
				api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
				return
			}
			lineCount++
			av := ComputeAvailability(LineAggregate{
				LineIDs:               []string{id},
				DotationInitiale:      decimal.RequireFromString(dotation),
				TransfertsRecus:       decimal.RequireFromString(recus),
				TransfertsEmis:        decimal.RequireFromString(emis),
				EngagementsAnterieurs: decimal.RequireFromString(engagements),
				MontantReserve:        decimal.RequireFromString(reserve),
			}, decimal.Zero)

			totalDotation = totalDotation.Add(av.DotationActuelle)
			totalEngage = totalEngage.Add(av.EngagementsAnterieurs)
			totalReserve = totalReserve.Add(av.MontantReserve)
			totalDisponible = totalDisponible.Add(av.DisponibleNet)

			if av.DisponibleNet.IsNegative() {
				depassements = append(depassements, map[string]interface{}{
					"ligne_id":       id,
					"code":           code,
					"disponible_net": av.DisponibleNet.String(),
					"depassement":    av.Deficit.String(),
				})
			}
		}
		if err := rows.Err(); err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
			return
		}

		api.RespondWithPayload(w, true, "", map[string]interface{}{
			"exercice":          req.Exercice,
			"lignes":            lineCount,
			"dotation_actuelle": totalDotation.String(),
			"engagements":       totalEngage.String(),
			"montant_reserve":   totalReserve.String(),
			"disponible_net":    totalDisponible.String(),
			"depassements":      depassements,
		})
	}
}
