package importer

import (
	"ArtiBudget/internal/serviceiface"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ImportService struct {
	config map[string]interface{}
	pool   *pgxpool.Pool
}

func NewImportService(cfg map[string]interface{}, pool *pgxpool.Pool) serviceiface.Service {
	return &ImportService{config: cfg, pool: pool}
}

func (s *ImportService) Name() string {
	return "importer"
}

func (s *ImportService) Start() error {
	go StartImportService(s.pool)
	return nil
}

func (s *ImportService) Stop() error {
	return nil
}
