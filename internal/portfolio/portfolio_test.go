package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/model"
	"github.com/wealthkit/autopilot/internal/tools"
)

func newTestPortfolio(id string) *model.Portfolio {
	return &model.Portfolio{
		ID:        id,
		OwnerID:   "owner-1",
		Status:    model.StatusActive,
		Cash:      1000,
		Positions: make(map[string]*model.Position),
	}
}

func TestRepository_AddAndSnapshot(t *testing.T) {
	repo := NewRepository(nil, logger.NewNopLogger())

	p := newTestPortfolio("p1")
	require.NoError(t, repo.Add(p))

	t.Run("duplicate rejected", func(t *testing.T) {
		err := repo.Add(newTestPortfolio("p1"))
		assert.ErrorIs(t, err, AlreadyExistsError)
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		snap, err := repo.Snapshot("p1")
		require.NoError(t, err)

		snap.Cash = 0
		snap.Positions["VTI"] = &model.Position{Symbol: "VTI", Quantity: 1}

		again, err := repo.Snapshot("p1")
		require.NoError(t, err)
		assert.Equal(t, 1000.0, again.Cash)
		assert.Empty(t, again.Positions)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.Snapshot("nope")
		assert.ErrorIs(t, err, NotFoundError)
	})
}

func TestRepository_Update(t *testing.T) {
	repo := NewRepository(nil, logger.NewNopLogger())
	require.NoError(t, repo.Add(newTestPortfolio("p1")))

	err := repo.Update("p1", func(p *model.Portfolio) error {
		p.Cash = 500
		return nil
	})
	require.NoError(t, err)

	snap, err := repo.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, 500.0, snap.Cash)
	assert.False(t, snap.UpdatedAt.IsZero())

	t.Run("error propagates", func(t *testing.T) {
		wantErr := errors.New("nope")
		err := repo.Update("p1", func(p *model.Portfolio) error {
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := repo.Update("missing", func(p *model.Portfolio) error { return nil })
		assert.ErrorIs(t, err, NotFoundError)
	})
}

func TestRepository_ConcurrentUpdates(t *testing.T) {
	repo := NewRepository(nil, logger.NewNopLogger())
	p := newTestPortfolio("p1")
	p.Cash = 0
	require.NoError(t, repo.Add(p))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.Update("p1", func(p *model.Portfolio) error {
				p.Cash = tools.RoundCash(p.Cash + 1)
				return nil
			})
		}()
	}
	wg.Wait()

	snap, err := repo.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, snap.Cash)
}

func TestRepository_ActiveIDs(t *testing.T) {
	repo := NewRepository(nil, logger.NewNopLogger())

	require.NoError(t, repo.Add(newTestPortfolio("pb")))
	require.NoError(t, repo.Add(newTestPortfolio("pa")))
	require.NoError(t, repo.Add(newTestPortfolio("pc")))

	assert.Equal(t, []string{"pa", "pb", "pc"}, repo.ActiveIDs())

	require.NoError(t, repo.Deactivate("pb"))
	assert.Equal(t, []string{"pa", "pc"}, repo.ActiveIDs())
	assert.Equal(t, []string{"pa", "pb", "pc"}, repo.IDs())
	assert.Equal(t, 3, repo.Len())

	snap, err := repo.Snapshot("pb")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInactive, snap.Status)
	assert.False(t, snap.Active())
}

func TestRepository_MemoryOnlyFlush(t *testing.T) {
	repo := NewRepository(nil, logger.NewNopLogger())
	require.NoError(t, repo.Add(newTestPortfolio("p1")))

	ctx := context.Background()
	assert.NoError(t, repo.FlushToDB(ctx))
	assert.NoError(t, repo.LoadFromDB(ctx))
}
