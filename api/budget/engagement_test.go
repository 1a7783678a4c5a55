package budget

import (
	"context"
	"strings"
	"sync"
	"testing"

	"ArtiBudget/api/constants"
	"ArtiBudget/internal/pgmock"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineStore emulates a single budget line behind FOR UPDATE semantics: the
// row lock serializes reservation transactions, so each one sees the
// reserve the previous transaction left behind.
type lineStore struct {
	mu       sync.Mutex
	lineID   string
	dotation string
	reserve  decimal.Decimal
	engaged  map[string]bool
}

func newLineStore(dotation string) *lineStore {
	return &lineStore{
		lineID:   "L1",
		dotation: dotation,
		reserve:  decimal.Zero,
		engaged:  map[string]bool{},
	}
}

func (s *lineStore) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	s.mu.Lock()
	released := false
	release := func() {
		if !released {
			released = true
			s.mu.Unlock()
		}
	}
	return &pgmock.Tx{
		QueryFunc: func(sql string, _ []any) (pgx.Rows, error) {
			if strings.Contains(sql, "FROM budget_lines") {
				return &pgmock.Rows{Data: [][]any{
					{s.lineID, s.dotation, "0", s.reserve.String()},
				}}, nil
			}
			return nil, pgmock.ErrUnexpected
		},
		QueryRowFunc: func(sql string, args []any) pgx.Row {
			switch {
			case strings.Contains(sql, "ligne_destination"), strings.Contains(sql, "ligne_source"):
				return pgmock.Row{Values: []any{"0"}}
			case strings.Contains(sql, "EXISTS"):
				return pgmock.Row{Values: []any{s.engaged[args[0].(string)]}}
			}
			return pgmock.Row{Err: pgmock.ErrUnexpected}
		},
		ExecFunc: func(sql string, args []any) (pgconn.CommandTag, error) {
			switch {
			case strings.Contains(sql, "INSERT INTO budget_engagements"):
				s.engaged[args[1].(string)] = true
			case strings.Contains(sql, "montant_reserve = montant_reserve +"):
				s.reserve = s.reserve.Add(decimal.RequireFromString(args[0].(string)))
			}
			return pgconn.CommandTag{}, nil
		},
		CommitFunc:   func() error { release(); return nil },
		RollbackFunc: func() error { release(); return nil },
	}, nil
}

func engageRequest(src string) EngageRequest {
	return EngageRequest{
		UserID:          "u1",
		SourceRequestID: src,
		Libelle:         "Fournitures de bureau",
		Filters:         ComponentFilters{Exercice: 2026},
	}
}

func TestEngageConcurrentReservationsSingleWinner(t *testing.T) {
	store := newLineStore("100")
	montant := decimal.NewFromInt(60)

	outcomes := make([]EngageOutcome, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, src := range []string{"REQ-1", "REQ-2"} {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			outcomes[i], errs[i] = Engage(context.Background(), store, engageRequest(src), montant)
		}(i, src)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	winners := 0
	for _, o := range outcomes {
		if o.Blocked {
			assert.Contains(t, o.BlockReason, "Budget insuffisant")
			assert.Contains(t, o.BlockReason, "Écart: 20")
		} else {
			winners++
			assert.NotEmpty(t, o.EngagementID)
			assert.Equal(t, "L1", o.LigneID)
		}
	}
	assert.Equal(t, 1, winners, "two reservations against disponible 100 asking 60 each")
	assert.True(t, store.reserve.Equal(decimal.NewFromInt(60)))
}

func TestEngageSameSourceRequestBlocked(t *testing.T) {
	store := newLineStore("1000")
	montant := decimal.NewFromInt(10)

	first, err := Engage(context.Background(), store, engageRequest("REQ-9"), montant)
	require.NoError(t, err)
	assert.False(t, first.Blocked)

	second, err := Engage(context.Background(), store, engageRequest("REQ-9"), montant)
	require.NoError(t, err)
	assert.True(t, second.Blocked)
	assert.Equal(t, constants.ErrAlreadyEngaged, second.BlockReason)
	assert.True(t, store.reserve.Equal(montant), "the duplicate must not reserve again")
}
