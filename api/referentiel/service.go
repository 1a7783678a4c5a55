package referentiel

import (
	"ArtiBudget/internal/serviceiface"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ReferentielService struct {
	config map[string]interface{}
	pool   *pgxpool.Pool
}

func NewReferentielService(cfg map[string]interface{}, pool *pgxpool.Pool) serviceiface.Service {
	return &ReferentielService{config: cfg, pool: pool}
}

func (s *ReferentielService) Name() string {
	return "referentiel"
}

func (s *ReferentielService) Start() error {
	go StartReferentielService(s.pool)
	return nil
}

func (s *ReferentielService) Stop() error {
	return nil
}
