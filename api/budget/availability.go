package budget

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ComponentFilters selects budget lines by their structural dimensions. Nil
// means "do not filter on this dimension". Exercice is always mandatory:
// there is no ambient current-year state.
type ComponentFilters struct {
	Exercice          int     `json:"exercice"`
	ObjectifID        *string `json:"objectif_id"`
	ActionID          *string `json:"action_id"`
	ActiviteID        *string `json:"activite_id"`
	SousActiviteID    *string `json:"sous_activite_id"`
	DirectionID       *string `json:"direction_id"`
	NatureDepense     *int    `json:"nature_depense"`
	NBE               *string `json:"nbe"`
	SourceFinancement *string `json:"source_financement"`
}

// LineAggregate is what the store yields for the matched lines: identifier
// list plus the summed amounts the availability arithmetic needs.
type LineAggregate struct {
	LineIDs               []string
	DotationInitiale      decimal.Decimal
	TransfertsRecus       decimal.Decimal
	TransfertsEmis        decimal.Decimal
	EngagementsAnterieurs decimal.Decimal
	MontantReserve        decimal.Decimal
}

// Availability is the full computation snapshot, kept intermediate sums and
// all, so an audit can reconstruct the decision later.
type Availability struct {
	LineIDs               []string        `json:"line_ids"`
	LineCount             int             `json:"line_count"`
	DotationInitiale      decimal.Decimal `json:"dotation_initiale"`
	TransfertsRecus       decimal.Decimal `json:"transferts_recus"`
	TransfertsEmis        decimal.Decimal `json:"transferts_emis"`
	DotationActuelle      decimal.Decimal `json:"dotation_actuelle"`
	EngagementsAnterieurs decimal.Decimal `json:"engagements_anterieurs"`
	MontantReserve        decimal.Decimal `json:"montant_reserve"`
	EngagementPropose     decimal.Decimal `json:"engagement_propose"`
	Disponible            decimal.Decimal `json:"disponible"`
	DisponibleNet         decimal.Decimal `json:"disponible_net"`
	IsSufficient          bool            `json:"is_sufficient"`
	Deficit               decimal.Decimal `json:"deficit"`
}

// ComputeAvailability applies the availability arithmetic to an aggregate.
// With no matched line everything is zero and the whole proposed amount is
// the deficit: the engine never authorizes against nonexistent budget.
func ComputeAvailability(agg LineAggregate, proposed decimal.Decimal) Availability {
	av := Availability{
		LineIDs:               agg.LineIDs,
		LineCount:             len(agg.LineIDs),
		DotationInitiale:      agg.DotationInitiale,
		TransfertsRecus:       agg.TransfertsRecus,
		TransfertsEmis:        agg.TransfertsEmis,
		EngagementsAnterieurs: agg.EngagementsAnterieurs,
		MontantReserve:        agg.MontantReserve,
		EngagementPropose:     proposed,
	}
	av.DotationActuelle = agg.DotationInitiale.Add(agg.TransfertsRecus).Sub(agg.TransfertsEmis)
	av.Disponible = av.DotationActuelle.Sub(agg.EngagementsAnterieurs)
	av.DisponibleNet = av.Disponible.Sub(agg.MontantReserve).Sub(proposed)
	av.IsSufficient = !av.DisponibleNet.IsNegative()
	if av.DisponibleNet.IsNegative() {
		av.Deficit = av.DisponibleNet.Neg()
	} else {
		av.Deficit = decimal.Zero
	}
	return av
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func filterClause(f ComponentFilters) (string, []any) {
	conds := []string{"exercice = $1", "actif = TRUE"}
	args := []any{f.Exercice}
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.ObjectifID != nil {
		add("objectif_id", *f.ObjectifID)
	}
	if f.ActionID != nil {
		add("action_id", *f.ActionID)
	}
	if f.ActiviteID != nil {
		add("activite_id", *f.ActiviteID)
	}
	if f.SousActiviteID != nil {
		add("sous_activite_id", *f.SousActiviteID)
	}
	if f.DirectionID != nil {
		add("direction_id", *f.DirectionID)
	}
	if f.NatureDepense != nil {
		add("nature_depense", *f.NatureDepense)
	}
	if f.NBE != nil {
		add("nbe", *f.NBE)
	}
	if f.SourceFinancement != nil {
		add("source_financement", *f.SourceFinancement)
	}
	return strings.Join(conds, " AND "), args
}

// loadAggregate resolves the matched lines and their sums. forUpdate locks
// the lines for the duration of the caller's transaction.
func loadAggregate(ctx context.Context, q queryer, f ComponentFilters, forUpdate bool) (LineAggregate, error) {
	agg := LineAggregate{
		DotationInitiale:      decimal.Zero,
		TransfertsRecus:       decimal.Zero,
		TransfertsEmis:        decimal.Zero,
		EngagementsAnterieurs: decimal.Zero,
		MontantReserve:        decimal.Zero,
	}

	where, args := filterClause(f)
	query := fmt.Sprintf(`SELECT id, dotation_initiale::text, engagements_anterieurs::text, montant_reserve::text FROM budget_lines WHERE %s`, where)
	if forUpdate {
		query += " FOR UPDATE"
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return agg, fmt.Errorf("recherche lignes budgétaires: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, dotation, engagements, reserve string
		if err := rows.Scan(&id, &dotation, &engagements, &reserve); err != nil {
			return agg, err
		}
		agg.LineIDs = append(agg.LineIDs, id)
		agg.DotationInitiale = agg.DotationInitiale.Add(decimal.RequireFromString(dotation))
		agg.EngagementsAnterieurs = agg.EngagementsAnterieurs.Add(decimal.RequireFromString(engagements))
		agg.MontantReserve = agg.MontantReserve.Add(decimal.RequireFromString(reserve))
	}
	if err := rows.Err(); err != nil {
		return agg, err
	}
	if len(agg.LineIDs) == 0 {
		return agg, nil
	}

	// only executed transfers move the dotation
	var recus, emis string
	err = q.QueryRow(ctx,
		`SELECT COALESCE(SUM(montant), 0)::text FROM credit_transfers WHERE statut = 'execute' AND ligne_destination = ANY($1)`,
		agg.LineIDs).Scan(&recus)
	if err != nil {
		return agg, fmt.Errorf("somme des transferts reçus: %w", err)
	}
	err = q.QueryRow(ctx,
		`SELECT COALESCE(SUM(montant), 0)::text FROM credit_transfers WHERE statut = 'execute' AND ligne_source = ANY($1)`,
		agg.LineIDs).Scan(&emis)
	if err != nil {
		return agg, fmt.Errorf("somme des transferts émis: %w", err)
	}
	agg.TransfertsRecus = decimal.RequireFromString(recus)
	agg.TransfertsEmis = decimal.RequireFromString(emis)
	return agg, nil
}

// CalculateAvailability resolves the filters and computes the availability
// snapshot for a proposed amount, outside any reservation transaction.
func CalculateAvailability(ctx context.Context, q queryer, f ComponentFilters, proposed decimal.Decimal) (Availability, error) {
	agg, err := loadAggregate(ctx, q, f, false)
	if err != nil {
		return Availability{}, err
	}
	return ComputeAvailability(agg, proposed), nil
}
