package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"ArtiBudget/internal/config"
	"ArtiBudget/internal/logger"
	"ArtiBudget/internal/notification"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
)

type AlertConfig struct {
	Schedule string
	Exercice int
	Limit    int
}

func NewDefaultAlertConfig() AlertConfig {
	return AlertConfig{
		Schedule: config.DefaultAlertSchedule,
		Exercice: time.Now().Year(),
		Limit:    config.DepassementAlertLimit,
	}
}

// RunDepassementAlerts schedules a scan for budget lines whose net
// disponible has gone negative and pushes one alert per line.
func RunDepassementAlerts(cfg AlertConfig, db *pgxpool.Pool) error {
	loc, err := time.LoadLocation(timezone())
	if err != nil {
		return fmt.Errorf("invalid timezone: %v", err)
	}
	c := cron.New(cron.WithLocation(loc))

	_, err = c.AddFunc(cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		rows, err := db.Query(ctx, `
			SELECT l.code,
			       (l.dotation_initiale
			        + COALESCE((SELECT SUM(t.montant) FROM credit_transfers t WHERE t.statut = 'execute' AND t.ligne_destination = l.id), 0)
			        - COALESCE((SELECT SUM(t.montant) FROM credit_transfers t WHERE t.statut = 'execute' AND t.ligne_source = l.id), 0)
			        - l.engagements_anterieurs - l.montant_reserve)::text AS disponible_net
			FROM budget_lines l
			WHERE l.exercice = $1 AND l.actif = TRUE
			  AND (l.dotation_initiale
			       + COALESCE((SELECT SUM(t.montant) FROM credit_transfers t WHERE t.statut = 'execute' AND t.ligne_destination = l.id), 0)
			       - COALESCE((SELECT SUM(t.montant) FROM credit_transfers t WHERE t.statut = 'execute' AND t.ligne_source = l.id), 0)
			       - l.engagements_anterieurs - l.montant_reserve) < 0
			ORDER BY l.code
			LIMIT $2`, cfg.Exercice, cfg.Limit)
		if err != nil {
			log.Printf("[BudgetAlerts] scan failed: %v", err)
			return
		}
		defer rows.Close()

		count := 0
		for rows.Next() {
			var code, disponible string
			if err := rows.Scan(&code, &disponible); err != nil {
				log.Printf("[BudgetAlerts] scan failed: %v", err)
				return
			}
			notification.Default.AddNotification(fmt.Sprintf(
				"Dépassement budgétaire sur la ligne %s (disponible net %s)", code, disponible))
			count++
		}
		if count > 0 {
			msg := fmt.Sprintf("Dépassement alert: %d budget lines below zero for exercice %d", count, cfg.Exercice)
			log.Println("[BudgetAlerts]", msg)
			if logger.GlobalLogger != nil {
				logger.GlobalLogger.LogAudit(msg)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("invalid alert schedule %q: %v", cfg.Schedule, err)
	}

	c.Start()
	return nil
}
