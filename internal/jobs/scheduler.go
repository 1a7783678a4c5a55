package jobs

import (
	"fmt"
	"log"

	"ArtiBudget/internal/config"
	"ArtiBudget/internal/logger"
	"ArtiBudget/internal/serviceiface"

	"github.com/jackc/pgx/v5/pgxpool"
)

type CronService struct {
	config map[string]interface{}
	db     *pgxpool.Pool
}

func NewCronService(cfg map[string]interface{}, db *pgxpool.Pool) serviceiface.Service {
	return &CronService{
		config: cfg,
		db:     db,
	}
}

func (s *CronService) Name() string {
	return "cron"
}

func (s *CronService) Start() error {
	log.Println("Starting cron service...")

	purgeCfg := NewDefaultPurgeConfig()
	if s.config != nil {
		if schedule, ok := s.config["purge_schedule"].(string); ok && schedule != "" {
			purgeCfg.Schedule = schedule
		}
		if days, ok := s.config["retention_days"].(int); ok && days > 0 {
			purgeCfg.RetentionDays = days
		}
	}
	if err := RunStagingPurge(purgeCfg, s.db); err != nil {
		return fmt.Errorf("failed to start staging purge: %v", err)
	}
	logger.GlobalLogger.LogAudit("Cron service started with staging purge")
	log.Println("Cron service started: staging purge scheduled")

	alertCfg := NewDefaultAlertConfig()
	if s.config != nil {
		if schedule, ok := s.config["alert_schedule"].(string); ok && schedule != "" {
			alertCfg.Schedule = schedule
		}
		if exercice, ok := s.config["alert_exercice"].(int); ok && exercice > 0 {
			alertCfg.Exercice = exercice
		}
	}
	if err := RunDepassementAlerts(alertCfg, s.db); err != nil {
		return fmt.Errorf("failed to start dépassement alerts: %v", err)
	}
	logger.GlobalLogger.LogAudit("Dépassement alert scheduler started")
	log.Println("Cron service started: dépassement alerts scheduled")

	return nil
}

func (s *CronService) Stop() error {
	log.Println("Cron service stopped.")
	return nil
}

func timezone() string {
	return config.DefaultTimeZone
}
