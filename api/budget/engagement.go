package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"ArtiBudget/api"
	"ArtiBudget/api/constants"
	"ArtiBudget/api/utils"
	"ArtiBudget/internal/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// JustificationMinLength is the minimum number of non-whitespace characters
// a forced engagement must justify itself with.
const JustificationMinLength = 10

// EngageRequest carries one commitment authorization attempt.
type EngageRequest struct {
	UserID          string           `json:"user_id"`
	SourceRequestID string           `json:"source_request_id"`
	Libelle         string           `json:"libelle"`
	Filters         ComponentFilters `json:"filters"`
	Montant         string           `json:"montant"`
	Force           bool             `json:"force"`
	Justification   string           `json:"justification"`
	CreateLine      bool             `json:"create_line_if_missing"`
}

// JustificationLength counts non-whitespace characters.
func JustificationLength(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// ValidateForce applies the override rule: the force flag and a sufficient
// justification are only valid together.
func ValidateForce(force bool, justification string) error {
	if !force {
		return nil
	}
	if JustificationLength(justification) < JustificationMinLength {
		return fmt.Errorf(constants.ErrJustificationTooShort, JustificationMinLength)
	}
	return nil
}

// CheckAvailabilityHandler computes the availability snapshot for a proposed
// amount without reserving anything.
func CheckAvailabilityHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID  string           `json:"user_id"`
			Filters ComponentFilters `json:"filters"`
			Montant string           `json:"montant"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidJSON)
			return
		}
		if !sessionValid(req.UserID) {
			api.RespondWithError(w, http.StatusUnauthorized, constants.ErrInvalidSession)
			return
		}
		proposed, err := parseMontant(req.Montant)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		av, err := CalculateAvailability(r.Context(), pool, req.Filters, proposed)
		if err != nil {
			api.LogError("[Budget] availability check failed: %v", err)
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
			return
		}
		api.RespondWithPayload(w, true, "", av)
	}
}

func parseMontant(raw string) (decimal.Decimal, error) {
	m, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("montant invalide: %q", raw)
	}
	if !m.IsPositive() {
		return decimal.Zero, fmt.Errorf("le montant doit être strictement positif")
	}
	return m, nil
}

// EngageHandler authorizes and commits an engagement. Availability
// evaluation, the already-committed check, the engagement record, the
// movement entry and the reserve increment all happen in one transaction
// with the matched lines locked, so two concurrent requests against the
// same line serialize and the second sees the first one's reservation.
func EngageHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EngageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidJSON)
			return
		}
		if !sessionValid(req.UserID) {
			api.RespondWithError(w, http.StatusUnauthorized, constants.ErrInvalidSession)
			return
		}
		if req.SourceRequestID == "" {
			api.RespondWithError(w, http.StatusBadRequest, "source_request_id requis")
			return
		}
		montant, err := parseMontant(req.Montant)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := ValidateForce(req.Force, req.Justification); err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}

		outcome, err := Engage(r.Context(), pool, req, montant)
		if err != nil {
			api.LogError("[Budget] engagement failed for %s: %v", req.SourceRequestID, err)
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
			return
		}
		if outcome.Blocked {
			api.RespondWithPayload(w, false, outcome.BlockReason, outcome)
			return
		}
		api.RespondWithPayload(w, true, "", outcome)
	}
}

// EngageOutcome is either an authorization (EngagementID set) or a
// structured block the caller can act on.
type EngageOutcome struct {
	EngagementID string       `json:"engagement_id,omitempty"`
	LigneID      string       `json:"ligne_id,omitempty"`
	Blocked      bool         `json:"blocked"`
	BlockReason  string       `json:"block_reason,omitempty"`
	Availability Availability `json:"availability"`
}

// txBeginner is the slice of the pool the reservation sequence needs;
// *pgxpool.Pool satisfies it.
type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Engage runs the transactional authorization sequence.
func Engage(ctx context.Context, db txBeginner, req EngageRequest, montant decimal.Decimal) (EngageOutcome, error) {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return EngageOutcome{}, fmt.Errorf("ouverture transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	agg, err := loadAggregate(ctx, tx, req.Filters, true)
	if err != nil {
		return EngageOutcome{}, err
	}

	if len(agg.LineIDs) == 0 && req.CreateLine {
		id, err := createPlaceholderLine(ctx, tx, req)
		if err != nil {
			return EngageOutcome{}, err
		}
		agg.LineIDs = []string{id}
	}

	av := ComputeAvailability(agg, montant)

	if !av.IsSufficient && !req.Force {
		return EngageOutcome{
			Blocked: true,
			BlockReason: fmt.Sprintf(
				"Budget insuffisant. Disponible: %s, Demandé: %s, Écart: %s",
				av.Disponible.Sub(av.MontantReserve).String(), montant.String(), av.Deficit.String()),
			Availability: av,
		}, nil
	}
	if err := ValidateForce(req.Force, req.Justification); err != nil {
		return EngageOutcome{}, err
	}
	if len(agg.LineIDs) == 0 {
		return EngageOutcome{
			Blocked:      true,
			BlockReason:  "Aucune ligne budgétaire ne correspond aux composantes fournies",
			Availability: av,
		}, nil
	}

	// at most one engagement per source request
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM budget_engagements WHERE source_request_id = $1)`,
		req.SourceRequestID).Scan(&exists)
	if err != nil {
		return EngageOutcome{}, fmt.Errorf("contrôle d'unicité de l'engagement: %w", err)
	}
	if exists {
		return EngageOutcome{
			Blocked:      true,
			BlockReason:  constants.ErrAlreadyEngaged,
			Availability: av,
		}, nil
	}

	ligneID := agg.LineIDs[0]
	engagementID := uuid.NewString()
	_, err = tx.Exec(ctx,
		`INSERT INTO budget_engagements
		   (id, source_request_id, ligne_id, exercice, libelle, montant, statut, force_flag, justification, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'reserve', $7, $8, $9, now())`,
		engagementID, req.SourceRequestID, ligneID, req.Filters.Exercice, req.Libelle,
		montant.String(), req.Force, strings.TrimSpace(req.Justification), req.UserID)
	if err != nil {
		return EngageOutcome{}, fmt.Errorf("création de l'engagement: %w", err)
	}

	disponibleAvant := av.Disponible.Sub(av.MontantReserve)
	snapshot, _ := json.Marshal(av)
	_, err = tx.Exec(ctx,
		`INSERT INTO budget_movements
		   (id, ligne_id, engagement_id, type, montant, disponible_avant, disponible_apres, reserve_avant, reserve_apres, snapshot, created_by, created_at)
		 VALUES ($1, $2, $3, 'reservation', $4, $5, $6, $7, $8, $9, $10, now())`,
		uuid.NewString(), ligneID, engagementID, montant.String(),
		disponibleAvant.String(), disponibleAvant.Sub(montant).String(),
		av.MontantReserve.String(), av.MontantReserve.Add(montant).String(),
		snapshot, req.UserID)
	if err != nil {
		return EngageOutcome{}, fmt.Errorf("journal des mouvements: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE budget_lines SET montant_reserve = montant_reserve + $1 WHERE id = $2`,
		montant.String(), ligneID)
	if err != nil {
		return EngageOutcome{}, fmt.Errorf("mise à jour de la réserve: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO audit_logs (action, entity, entity_id, details, user_id, created_at) VALUES ($1, $2, $3, $4, $5, now())`,
		"ENGAGEMENT_RESERVE", "budget_engagements", engagementID, snapshot, req.UserID)
	if err != nil {
		return EngageOutcome{}, fmt.Errorf("journal d'audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return EngageOutcome{}, fmt.Errorf("validation transaction: %w", err)
	}

	if logger.GlobalLogger != nil {
		logger.GlobalLogger.LogAudit(fmt.Sprintf(
			"Engagement %s réservé sur %s (montant %s, force=%v)", engagementID, ligneID, montant.String(), req.Force))
	}
	return EngageOutcome{EngagementID: engagementID, LigneID: ligneID, Availability: av}, nil
}

// createPlaceholderLine lazily creates an empty budget line when the caller
// asked for one; the engagement then proceeds (or is blocked) against it.
func createPlaceholderLine(ctx context.Context, tx pgx.Tx, req EngageRequest) (string, error) {
	id := uuid.NewString()
	code := fmt.Sprintf("AUTO-%d", time.Now().Unix())
	_, err := tx.Exec(ctx,
		`INSERT INTO budget_lines
		   (id, exercice, code, objectif_id, action_id, activite_id, sous_activite_id, direction_id, nature_depense, nbe,
		    dotation_initiale, engagements_anterieurs, montant_reserve, actif, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, 0, 0, TRUE, now())`,
		id, req.Filters.Exercice, code,
		req.Filters.ObjectifID, req.Filters.ActionID, req.Filters.ActiviteID,
		req.Filters.SousActiviteID, req.Filters.DirectionID, req.Filters.NatureDepense, req.Filters.NBE)
	if err != nil {
		return "", fmt.Errorf("création de ligne automatique: %w", err)
	}
	return id, nil
}

// MovementsHandler lists the append-only reservation journal for a line or
// a whole exercise.
func MovementsHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID   string  `json:"user_id"`
			LigneID  *string `json:"ligne_id"`
			Exercice int     `json:"exercice"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidJSON)
			return
		}
		if !sessionValid(req.UserID) {
			api.RespondWithError(w, http.StatusUnauthorized, constants.ErrInvalidSession)
			return
		}

		pagination, err := utils.ExtractPagination(r)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}

		countQuery := `SELECT COUNT(*) FROM budget_movements m
		               JOIN budget_lines l ON l.id = m.ligne_id
		               WHERE l.exercice = $1`
		query := `SELECT m.id, m.ligne_id, m.engagement_id, m.type, m.montant::text,
		                 m.disponible_avant::text, m.disponible_apres::text,
		                 m.reserve_avant::text, m.reserve_apres::text, m.created_by, m.created_at
		          FROM budget_movements m
		          JOIN budget_lines l ON l.id = m.ligne_id
		          WHERE l.exercice = $1`
		args := []any{req.Exercice}
		if req.LigneID != nil {
			countQuery += " AND m.ligne_id = $2"
			query += " AND m.ligne_id = $2"
			args = append(args, *req.LigneID)
		}
		total, err := utils.CountTotal(r.Context(), pool, countQuery, args...)
		if err != nil {
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
			return
		}
		pagination.SetPaginationStats(total)
		query += fmt.Sprintf(" ORDER BY m.created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, pagination.Limit, pagination.Offset)

		rows, err := pool.Query(r.Context(), query, args...)
		if err != nil {
			api.LogError("[Budget] movements query failed: %v", err)
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
			return
		}
		defer rows.Close()

		out := []map[string]interface{}{}
		for rows.Next() {
			var id, ligneID, engagementID, typ, montant, dispAvant, dispApres, resAvant, resApres, createdBy string
			var createdAt time.Time
			if err := rows.Scan(&id, &ligneID, &engagementID, &typ, &montant, &dispAvant, &dispApres, &resAvant, &resApres, &createdBy, &createdAt); err != nil {
				api.RespondWithError(w, http.StatusInternalServerError, constants.ErrDB)
				return
			}
			out = append(out, map[string]interface{}{
				"id":               id,
				"ligne_id":         ligneID,
				"engagement_id":    engagementID,
				"type":             typ,
				"montant":          montant,
				"disponible_avant": dispAvant,
				"disponible_apres": dispApres,
				"reserve_avant":    resAvant,
				"reserve_apres":    resApres,
				"created_by":       createdBy,
				"created_at":       createdAt.Format(constants.DateTimeFormat),
			})
		}
		api.RespondWithPayload(w, true, "", map[string]interface{}{
			"pagination": pagination,
			"movements":  out,
		})
	}
}
