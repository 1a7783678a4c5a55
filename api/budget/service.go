package budget

import (
	"ArtiBudget/internal/serviceiface"

	"github.com/jackc/pgx/v5/pgxpool"
)

type BudgetService struct {
	config map[string]interface{}
	pool   *pgxpool.Pool
}

func NewBudgetService(cfg map[string]interface{}, pool *pgxpool.Pool) serviceiface.Service {
	return &BudgetService{config: cfg, pool: pool}
}

func (s *BudgetService) Name() string {
	return "budget"
}

func (s *BudgetService) Start() error {
	go StartBudgetService(s.pool)
	return nil
}

func (s *BudgetService) Stop() error {
	return nil
}
