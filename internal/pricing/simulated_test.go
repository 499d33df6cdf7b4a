package pricing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/logger"
)

func newTestSource() *SimulatedSource {
	return NewSimulatedSource(config.SimulatedConfig{
		Seed:        42,
		Volatility:  0.02,
		SlippageBps: 5,
		StartPrices: map[string]float64{"VTI": 260, "BND": 73},
	}, logger.NewNopLogger())
}

func TestSimulatedSource_CurrentPrice(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()

	price, err := s.CurrentPrice(ctx, "VTI")
	require.NoError(t, err)
	assert.Equal(t, 260.0, price)

	t.Run("stable between advances", func(t *testing.T) {
		again, err := s.CurrentPrice(ctx, "VTI")
		require.NoError(t, err)
		assert.Equal(t, price, again)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := s.CurrentPrice(ctx, "NOPE")
		assert.ErrorIs(t, err, UnknownSymbolError)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.CurrentPrice(cancelled, "VTI")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSimulatedSource_ExecutionPriceSlippage(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()

	quote, err := s.CurrentPrice(ctx, "VTI")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		exec, err := s.ExecutionPrice(ctx, "VTI")
		require.NoError(t, err)
		// 5 bps either side of the quote.
		assert.LessOrEqual(t, math.Abs(exec-quote)/quote, 0.0005)
	}
}

func TestSimulatedSource_Advance(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()

	before, _ := s.CurrentPrice(ctx, "VTI")
	s.Advance()
	after, err := s.CurrentPrice(ctx, "VTI")
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
	assert.Greater(t, after, 0.0)
}

func TestSimulatedSource_SetPrice(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()

	s.SetPrice("VTI", 100.5)
	price, err := s.CurrentPrice(ctx, "VTI")
	require.NoError(t, err)
	assert.Equal(t, 100.5, price)
}

func TestSimulatedSource_DeterministicWithSeed(t *testing.T) {
	a, b := newTestSource(), newTestSource()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		a.Advance()
		b.Advance()
	}

	pa, err := a.CurrentPrice(ctx, "VTI")
	require.NoError(t, err)
	pb, err := b.CurrentPrice(ctx, "VTI")
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}
