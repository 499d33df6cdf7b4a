package portfolio

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/wealthkit/autopilot/internal/model"
)

const (
	_queryPortfolios = `SELECT id, owner_id, name, status, strategy, risk_tolerance, automation_level,
		target_allocation, rebalancing_enabled, stop_loss_enabled, dca, limits,
		cash, initial_deposit, pending_dividends, next_rebalancing, last_dca, created_at, updated_at
		FROM portfolios`
	_queryPositions = `SELECT symbol, quantity, cost_basis, current_price, purchased_at, high_water_mark, fired_tiers
		FROM positions WHERE portfolio_id = $1`
	_querySnapshots = `SELECT ts, total_value, cumulative_return_pct
		FROM performance_snapshots WHERE portfolio_id = $1 ORDER BY ts`
	_queryRecords = `SELECT order_id, symbol, action, reason, quantity, price, fees, total_value, ts
		FROM execution_records WHERE portfolio_id = $1 ORDER BY ts`

	_upsertPortfolio = `INSERT INTO portfolios (id, owner_id, name, status, strategy, risk_tolerance, automation_level,
		target_allocation, rebalancing_enabled, stop_loss_enabled, dca, limits,
		cash, initial_deposit, pending_dividends, next_rebalancing, last_dca, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name, status = EXCLUDED.status, strategy = EXCLUDED.strategy,
		risk_tolerance = EXCLUDED.risk_tolerance, automation_level = EXCLUDED.automation_level,
		target_allocation = EXCLUDED.target_allocation, rebalancing_enabled = EXCLUDED.rebalancing_enabled,
		stop_loss_enabled = EXCLUDED.stop_loss_enabled, dca = EXCLUDED.dca, limits = EXCLUDED.limits,
		cash = EXCLUDED.cash, initial_deposit = EXCLUDED.initial_deposit,
		pending_dividends = EXCLUDED.pending_dividends, next_rebalancing = EXCLUDED.next_rebalancing,
		last_dca = EXCLUDED.last_dca, updated_at = EXCLUDED.updated_at`
	_deletePositions = `DELETE FROM positions WHERE portfolio_id = $1`
	_insertPosition  = `INSERT INTO positions (portfolio_id, symbol, quantity, cost_basis, current_price, purchased_at, high_water_mark, fired_tiers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_insertSnapshot = `INSERT INTO performance_snapshots (portfolio_id, ts, total_value, cumulative_return_pct)
		VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`
	_insertRecord = `INSERT INTO execution_records (order_id, portfolio_id, symbol, action, reason, quantity, price, fees, total_value, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT DO NOTHING`
)

type portfolioRow struct {
	ID                 string    `db:"id"`
	OwnerID            string    `db:"owner_id"`
	Name               string    `db:"name"`
	Status             string    `db:"status"`
	Strategy           string    `db:"strategy"`
	RiskTolerance      string    `db:"risk_tolerance"`
	AutomationLevel    string    `db:"automation_level"`
	TargetAllocation   []byte    `db:"target_allocation"`
	RebalancingEnabled bool      `db:"rebalancing_enabled"`
	StopLossEnabled    bool      `db:"stop_loss_enabled"`
	DCA                []byte    `db:"dca"`
	Limits             []byte    `db:"limits"`
	Cash               float64   `db:"cash"`
	InitialDeposit     float64   `db:"initial_deposit"`
	PendingDividends   float64   `db:"pending_dividends"`
	NextRebalancing    time.Time `db:"next_rebalancing"`
	LastDCA            time.Time `db:"last_dca"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

type positionRow struct {
	Symbol        string    `db:"symbol"`
	Quantity      float64   `db:"quantity"`
	CostBasis     float64   `db:"cost_basis"`
	CurrentPrice  float64   `db:"current_price"`
	PurchasedAt   time.Time `db:"purchased_at"`
	HighWaterMark float64   `db:"high_water_mark"`
	FiredTiers    []byte    `db:"fired_tiers"`
}

type snapshotRow struct {
	Ts                  time.Time `db:"ts"`
	TotalValue          float64   `db:"total_value"`
	CumulativeReturnPct float64   `db:"cumulative_return_pct"`
}

type recordRow struct {
	OrderID    string    `db:"order_id"`
	Symbol     string    `db:"symbol"`
	Action     string    `db:"action"`
	Reason     string    `db:"reason"`
	Quantity   float64   `db:"quantity"`
	Price      float64   `db:"price"`
	Fees       float64   `db:"fees"`
	TotalValue float64   `db:"total_value"`
	Ts         time.Time `db:"ts"`
}

// LoadFromDB hydrates the working set from postgres. Safe to call once
// at startup before the cycles are running.
func (r *Repository) LoadFromDB(ctx context.Context) error {
	if r.db == nil {
		return nil
	}

	var rows []portfolioRow
	if err := r.db.SelectContext(ctx, &rows, _queryPortfolios); err != nil {
		return fmt.Errorf("%w: can't select portfolios", err)
	}

	for _, row := range rows {
		p, err := r.buildPortfolio(ctx, row)
		if err != nil {
			return fmt.Errorf("%w: can't load portfolio %s", err, row.ID)
		}

		r.mu.Lock()
		r.portfolios[p.ID] = p
		r.locks[p.ID] = &sync.Mutex{}
		r.mu.Unlock()
	}

	r.logger.Infof("loaded %d portfolios from db", len(rows))
	return nil
}

func (r *Repository) buildPortfolio(ctx context.Context, row portfolioRow) (*model.Portfolio, error) {
	p := &model.Portfolio{
		ID:      row.ID,
		OwnerID: row.OwnerID,
		Name:    row.Name,
		Status:  model.PortfolioStatus(row.Status),
		Config: model.PortfolioConfig{
			Strategy:           row.Strategy,
			RiskTolerance:      model.RiskTolerance(row.RiskTolerance),
			AutomationLevel:    model.AutomationLevel(row.AutomationLevel),
			RebalancingEnabled: row.RebalancingEnabled,
			StopLossEnabled:    row.StopLossEnabled,
		},
		Cash:             row.Cash,
		InitialDeposit:   row.InitialDeposit,
		PendingDividends: row.PendingDividends,
		Positions:        make(map[string]*model.Position),
		NextRebalancing:  row.NextRebalancing,
		LastDCA:          row.LastDCA,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}

	if len(row.TargetAllocation) > 0 {
		if err := sonic.Unmarshal(row.TargetAllocation, &p.Config.TargetAllocation); err != nil {
			return nil, fmt.Errorf("%w: can't unmarshal target allocation", err)
		}
	}
	if len(row.DCA) > 0 {
		if err := sonic.Unmarshal(row.DCA, &p.Config.DCA); err != nil {
			return nil, fmt.Errorf("%w: can't unmarshal dca plan", err)
		}
	}
	if len(row.Limits) > 0 {
		if err := sonic.Unmarshal(row.Limits, &p.Limits); err != nil {
			return nil, fmt.Errorf("%w: can't unmarshal risk limits", err)
		}
	}

	var positions []positionRow
	if err := r.db.SelectContext(ctx, &positions, _queryPositions, row.ID); err != nil {
		return nil, fmt.Errorf("%w: can't select positions", err)
	}
	for _, pr := range positions {
		pos := &model.Position{
			Symbol:        pr.Symbol,
			Quantity:      pr.Quantity,
			CostBasis:     pr.CostBasis,
			CurrentPrice:  pr.CurrentPrice,
			PurchasedAt:   pr.PurchasedAt,
			HighWaterMark: pr.HighWaterMark,
		}
		if len(pr.FiredTiers) > 0 {
			var tiers []float64
			if err := sonic.Unmarshal(pr.FiredTiers, &tiers); err != nil {
				return nil, fmt.Errorf("%w: can't unmarshal fired tiers", err)
			}
			pos.FiredTiers = make(map[float64]struct{}, len(tiers))
			for _, t := range tiers {
				pos.FiredTiers[t] = struct{}{}
			}
		}
		p.Positions[pos.Symbol] = pos
	}

	var snapshots []snapshotRow
	if err := r.db.SelectContext(ctx, &snapshots, _querySnapshots, row.ID); err != nil {
		return nil, fmt.Errorf("%w: can't select snapshots", err)
	}
	for _, sr := range snapshots {
		p.Snapshots = append(p.Snapshots, model.PerformanceSnapshot{
			Ts:                  sr.Ts,
			TotalValue:          sr.TotalValue,
			CumulativeReturnPct: sr.CumulativeReturnPct,
		})
	}

	var records []recordRow
	if err := r.db.SelectContext(ctx, &records, _queryRecords, row.ID); err != nil {
		return nil, fmt.Errorf("%w: can't select execution records", err)
	}
	for _, rr := range records {
		p.History = append(p.History, model.ExecutionRecord{
			OrderID:    rr.OrderID,
			Symbol:     rr.Symbol,
			Action:     model.TradeAction(rr.Action),
			Reason:     model.TradeReason(rr.Reason),
			Quantity:   rr.Quantity,
			Price:      rr.Price,
			Fees:       rr.Fees,
			TotalValue: rr.TotalValue,
			Ts:         rr.Ts,
		})
	}

	p.Performance.TotalValue = p.TotalValue()
	return p, nil
}

// FlushToDB writes every portfolio back to postgres. Clones are taken
// first so the flush never holds a portfolio lock across a query.
func (r *Repository) FlushToDB(ctx context.Context) error {
	if r.db == nil {
		return nil
	}

	var clones []*model.Portfolio
	for _, id := range r.IDs() {
		p, err := r.Snapshot(id)
		if err != nil {
			continue
		}
		clones = append(clones, p)
	}

	for _, p := range clones {
		if err := r.flushPortfolio(ctx, p); err != nil {
			return fmt.Errorf("%w: can't flush portfolio %s", err, p.ID)
		}
	}

	r.logger.Debugf("flushed %d portfolios to db", len(clones))
	return nil
}

func (r *Repository) flushPortfolio(ctx context.Context, p *model.Portfolio) error {
	allocation, err := sonic.Marshal(p.Config.TargetAllocation)
	if err != nil {
		return fmt.Errorf("%w: can't marshal target allocation", err)
	}
	dca, err := sonic.Marshal(p.Config.DCA)
	if err != nil {
		return fmt.Errorf("%w: can't marshal dca plan", err)
	}
	limits, err := sonic.Marshal(p.Limits)
	if err != nil {
		return fmt.Errorf("%w: can't marshal risk limits", err)
	}

	// pq types []byte args as bytea, jsonb columns want text.
	_, err = r.db.ExecContext(ctx, _upsertPortfolio,
		p.ID, p.OwnerID, p.Name, string(p.Status), p.Config.Strategy,
		string(p.Config.RiskTolerance), string(p.Config.AutomationLevel),
		string(allocation), p.Config.RebalancingEnabled, p.Config.StopLossEnabled,
		string(dca), string(limits),
		p.Cash, p.InitialDeposit, p.PendingDividends, p.NextRebalancing, p.LastDCA,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: can't upsert portfolio", err)
	}

	if _, err = r.db.ExecContext(ctx, _deletePositions, p.ID); err != nil {
		return fmt.Errorf("%w: can't delete stale positions", err)
	}
	for _, pos := range p.Positions {
		tiers := make([]float64, 0, len(pos.FiredTiers))
		for t := range pos.FiredTiers {
			tiers = append(tiers, t)
		}
		slices.Sort(tiers)
		fired, err := sonic.Marshal(tiers)
		if err != nil {
			return fmt.Errorf("%w: can't marshal fired tiers", err)
		}
		_, err = r.db.ExecContext(ctx, _insertPosition,
			p.ID, pos.Symbol, pos.Quantity, pos.CostBasis, pos.CurrentPrice,
			pos.PurchasedAt, pos.HighWaterMark, string(fired))
		if err != nil {
			return fmt.Errorf("%w: can't insert position %s", err, pos.Symbol)
		}
	}

	for _, s := range p.Snapshots {
		_, err = r.db.ExecContext(ctx, _insertSnapshot, p.ID, s.Ts, s.TotalValue, s.CumulativeReturnPct)
		if err != nil {
			return fmt.Errorf("%w: can't insert snapshot", err)
		}
	}
	for _, rec := range p.History {
		_, err = r.db.ExecContext(ctx, _insertRecord,
			rec.OrderID, p.ID, rec.Symbol, string(rec.Action), string(rec.Reason),
			rec.Quantity, rec.Price, rec.Fees, rec.TotalValue, rec.Ts)
		if err != nil {
			return fmt.Errorf("%w: can't insert execution record", err)
		}
	}

	return nil
}
