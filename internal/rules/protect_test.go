package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wealthkit/autopilot/internal/model"
)

func TestStopLoss_SellsOutOnLoss(t *testing.T) {
	f := newFixture(t)

	p := newPortfolio("p1")
	p.Config.StopLossEnabled = true
	addPosition(p, "VTI", 5, 100, 88)

	f.engine.evaluateProtections(p)

	orders := f.queue.Pop(10)
	require.Len(t, orders, 1)
	assert.Equal(t, model.Sell, orders[0].Action)
	assert.Equal(t, model.StopLoss, orders[0].Reason)
	assert.Equal(t, "VTI", orders[0].Symbol)
	assert.Equal(t, 5.0, orders[0].Quantity)

	triggered := f.sink.ofType(model.EventStopLossTriggered)
	require.Len(t, triggered, 1)
	trigger, ok := triggered[0].Payload.(model.TradeTrigger)
	require.True(t, ok)
	assert.Equal(t, model.StopLoss, trigger.Kind)
	assert.Equal(t, "VTI", trigger.Symbol)
	assert.InDelta(t, -12.0, trigger.GainPct, 1e-9)
}

func TestStopLoss_ThresholdCountsAsBreached(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		fires bool
	}{
		{"exactly at threshold", 90.00, true},
		{"just above threshold", 90.01, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			p := newPortfolio("p1")
			p.Config.StopLossEnabled = true
			addPosition(p, "VTI", 5, 100, tt.price)

			f.engine.evaluateProtections(p)

			if tt.fires {
				orders := f.queue.Pop(10)
				require.Len(t, orders, 1)
				assert.Equal(t, model.StopLoss, orders[0].Reason)
				return
			}
			assert.Equal(t, 0, f.queue.Len())
		})
	}
}

func TestStopLoss_DisabledPerPortfolio(t *testing.T) {
	f := newFixture(t)

	p := newPortfolio("p1")
	addPosition(p, "VTI", 5, 100, 88)

	f.engine.evaluateProtections(p)

	assert.Equal(t, 0, f.queue.Len())
	assert.Empty(t, f.sink.ofType(model.EventStopLossTriggered))
}

func TestTrailingStop_SellsFractionOffTheHigh(t *testing.T) {
	f := newFixture(t)

	p := newPortfolio("p1")
	pos := addPosition(p, "VTI", 100, 180, 188)
	pos.HighWaterMark = 200

	f.engine.evaluateProtections(p)

	orders := f.queue.Pop(10)
	require.Len(t, orders, 1)
	assert.Equal(t, model.Sell, orders[0].Action)
	assert.Equal(t, model.TrailingStop, orders[0].Reason)
	assert.Equal(t, 50.0, orders[0].Quantity)

	triggered := f.sink.ofType(model.EventStopLossTriggered)
	require.Len(t, triggered, 1)
	trigger, ok := triggered[0].Payload.(model.TradeTrigger)
	require.True(t, ok)
	assert.Equal(t, model.TrailingStop, trigger.Kind)
	assert.InDelta(t, -6.0, trigger.GainPct, 1e-9)
}

func TestTrailingStop_ThresholdCountsAsBreached(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		fires bool
	}{
		{"exactly at threshold", 190, true},
		{"just above threshold", 191, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			p := newPortfolio("p1")
			pos := addPosition(p, "VTI", 100, 180, tt.price)
			pos.HighWaterMark = 200

			f.engine.evaluateProtections(p)

			if tt.fires {
				orders := f.queue.Pop(10)
				require.Len(t, orders, 1)
				assert.Equal(t, model.TrailingStop, orders[0].Reason)
				return
			}
			assert.Equal(t, 0, f.queue.Len())
		})
	}
}

func TestTrailingStop_NoHighWaterMark(t *testing.T) {
	f := newFixture(t)

	p := newPortfolio("p1")
	pos := addPosition(p, "VTI", 100, 180, 100)
	pos.HighWaterMark = 0

	f.engine.checkTrailingStop(p, pos)

	assert.Equal(t, 0, f.queue.Len())
}

func TestProfitTiers_FiresLowestUnfired(t *testing.T) {
	f := newFixture(t)

	p := newPortfolio("p1")
	addPosition(p, "VTI", 100, 100, 125)

	f.engine.evaluateProtections(p)

	orders := f.queue.Pop(10)
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, model.Sell, o.Action)
	assert.Equal(t, model.ProfitTaking, o.Reason)
	assert.Equal(t, 25.0, o.Quantity)
	assert.Equal(t, 20.0, o.ProfitTier)

	reached := f.sink.ofType(model.EventProfitTargetReached)
	require.Len(t, reached, 1)
	trigger, ok := reached[0].Payload.(model.TradeTrigger)
	require.True(t, ok)
	assert.Equal(t, 20.0, trigger.Tier)
	assert.InDelta(t, 25.0, trigger.GainPct, 1e-9)
}

func TestProfitTiers_FiredTierDoesNotRefire(t *testing.T) {
	f := newFixture(t)

	p := newPortfolio("p1")
	pos := addPosition(p, "VTI", 100, 100, 125)
	pos.FiredTiers[20] = struct{}{}

	f.engine.evaluateProtections(p)

	assert.Equal(t, 0, f.queue.Len())
	assert.Empty(t, f.sink.ofType(model.EventProfitTargetReached))
}

func TestProfitTiers_OneTierPerEvaluation(t *testing.T) {
	f := newFixture(t)

	p := newPortfolio("p1")
	pos := addPosition(p, "VTI", 100, 100, 160)

	f.engine.evaluateProtections(p)

	orders := f.queue.Pop(10)
	require.Len(t, orders, 1)
	assert.Equal(t, 20.0, orders[0].ProfitTier)
	assert.Equal(t, 25.0, orders[0].Quantity)

	// Only after the executor marks the tier does the next one fire.
	pos.FiredTiers[20] = struct{}{}
	f.engine.evaluateProtections(p)

	orders = f.queue.Pop(10)
	require.Len(t, orders, 1)
	assert.Equal(t, 50.0, orders[0].ProfitTier)
	assert.Equal(t, 50.0, orders[0].Quantity)
}

func TestProtections_StopLossPreemptsWeakerSells(t *testing.T) {
	f := newFixture(t)

	p := newPortfolio("p1")
	p.Config.StopLossEnabled = true
	pos := addPosition(p, "VTI", 5, 100, 85)
	pos.HighWaterMark = 200

	f.engine.evaluateProtections(p)

	orders := f.queue.Pop(10)
	require.Len(t, orders, 1)
	assert.Equal(t, model.StopLoss, orders[0].Reason)
}
