package portfolio

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/model"
)

const _flushInterval = 1 * time.Hour

var (
	NotFoundError      = errors.New("portfolio not found")
	AlreadyExistsError = errors.New("portfolio already exists")
)

// Repository is the in-memory working set of managed portfolios with a
// per-portfolio mutex as the single-writer serialization point. All
// mutation goes through Update; readers take Snapshot clones so rule
// evaluation across different portfolios runs in parallel without ever
// observing a half-applied trade. Durability is delegated to postgres
// when a db handle is given, nil db keeps the repository memory-only.
type Repository struct {
	db     *sqlx.DB
	logger logger.Logger

	mu         sync.RWMutex
	portfolios map[string]*model.Portfolio
	locks      map[string]*sync.Mutex
}

func NewRepository(db *sqlx.DB, logger logger.Logger) *Repository {
	return &Repository{
		db:         db,
		logger:     logger,
		portfolios: make(map[string]*model.Portfolio),
		locks:      make(map[string]*sync.Mutex),
	}
}

func (r *Repository) Add(p *model.Portfolio) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.portfolios[p.ID]; ok {
		return AlreadyExistsError
	}

	r.portfolios[p.ID] = p
	r.locks[p.ID] = &sync.Mutex{}
	return nil
}

func (r *Repository) lookup(id string) (*sync.Mutex, *model.Portfolio, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.portfolios[id]
	if !ok {
		return nil, nil, NotFoundError
	}
	return r.locks[id], p, nil
}

// Snapshot returns a deep copy taken under the portfolio's lock.
func (r *Repository) Snapshot(id string) (*model.Portfolio, error) {
	l, p, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	l.Lock()
	defer l.Unlock()
	return p.Clone(), nil
}

// Update runs fn on the portfolio under its lock. fn returning an error
// leaves whatever it already did in place; callers keep their mutations
// all-or-nothing by validating before touching state.
func (r *Repository) Update(id string, fn func(p *model.Portfolio) error) error {
	l, p, err := r.lookup(id)
	if err != nil {
		return err
	}

	l.Lock()
	defer l.Unlock()

	if err := fn(p); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) Deactivate(id string) error {
	return r.Update(id, func(p *model.Portfolio) error {
		p.Status = model.StatusInactive
		return nil
	})
}

// ActiveIDs returns the ids of active portfolios in stable order.
// Status flips happen under the portfolio lock, so it is taken here too.
func (r *Repository) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.portfolios))
	for id, p := range r.portfolios {
		l := r.locks[id]
		l.Lock()
		active := p.Active()
		l.Unlock()
		if active {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (r *Repository) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.portfolios))
	for id := range r.portfolios {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.portfolios)
}

// Run flushes the working set to the database on an interval and once
// more on shutdown.
func (r *Repository) Run(ctx context.Context) {
	if r.db == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := r.FlushToDB(flushCtx); err != nil {
				r.logger.Errorf("%s: error flushing portfolios on shutdown", err)
			}
			cancel()
			return
		case <-time.After(_flushInterval):
			if err := r.FlushToDB(ctx); err != nil {
				r.logger.Errorf("%s: error flushing portfolios", err)
			}
		}
	}
}
