package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"ArtiBudget/internal/config"
	"ArtiBudget/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
)

type PurgeConfig struct {
	Schedule      string
	RetentionDays int
}

func NewDefaultPurgeConfig() PurgeConfig {
	return PurgeConfig{
		Schedule:      config.DefaultPurgeSchedule,
		RetentionDays: config.StagingRetentionDays,
	}
}

// RunStagingPurge schedules the deletion of staging rows belonging to runs
// imported longer ago than the retention window. The runs themselves are
// kept as history; only their row payloads go.
func RunStagingPurge(cfg PurgeConfig, db *pgxpool.Pool) error {
	loc, err := time.LoadLocation(timezone())
	if err != nil {
		return fmt.Errorf("invalid timezone: %v", err)
	}
	c := cron.New(cron.WithLocation(loc))

	_, err = c.AddFunc(cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		tag, err := db.Exec(ctx, `
			DELETE FROM import_rows
			WHERE run_id IN (
				SELECT id FROM import_runs
				WHERE statut = 'imported' AND updated_at < now() - make_interval(days => $1)
			)`, cfg.RetentionDays)
		if err != nil {
			log.Printf("[StagingPurge] purge failed: %v", err)
			return
		}
		if tag.RowsAffected() > 0 {
			msg := fmt.Sprintf("Staging purge removed %d rows (retention %d days)", tag.RowsAffected(), cfg.RetentionDays)
			log.Println("[StagingPurge]", msg)
			if logger.GlobalLogger != nil {
				logger.GlobalLogger.LogAudit(msg)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %v", cfg.Schedule, err)
	}

	c.Start()
	return nil
}
