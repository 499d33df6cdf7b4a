package pricing

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/logger"
)

// SimulatedSource walks a set of seeded prices. Prices move only on
// Advance, so repeated lookups within one engine cycle are consistent;
// execution prices add a small random slippage around the quote.
type SimulatedSource struct {
	logger logger.Logger

	mu          sync.Mutex
	rng         *rand.Rand
	drift       float64
	volatility  float64
	slippageBps float64
	prices      map[string]float64
}

func NewSimulatedSource(cfg config.SimulatedConfig, logger logger.Logger) *SimulatedSource {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	prices := make(map[string]float64, len(cfg.StartPrices))
	for symbol, price := range cfg.StartPrices {
		prices[symbol] = price
	}

	return &SimulatedSource{
		logger:      logger,
		rng:         rand.New(rand.NewSource(seed)),
		drift:       cfg.Drift,
		volatility:  cfg.Volatility,
		slippageBps: cfg.SlippageBps,
		prices:      prices,
	}
}

func (s *SimulatedSource) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", UnknownSymbolError, symbol)
	}
	return price, nil
}

func (s *SimulatedSource) ExecutionPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", UnknownSymbolError, symbol)
	}

	slip := (s.rng.Float64()*2 - 1) * s.slippageBps / 10000
	return price * (1 + slip), nil
}

// Advance steps every price one tick of the random walk. Symbols are
// walked in sorted order so a fixed seed replays the same series.
func (s *SimulatedSource) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := make([]string, 0, len(s.prices))
	for symbol := range s.prices {
		symbols = append(symbols, symbol)
	}
	slices.Sort(symbols)

	for _, symbol := range symbols {
		next := s.prices[symbol] * (1 + s.drift + s.volatility*s.rng.NormFloat64())
		if next < 0.01 {
			next = 0.01
		}
		s.prices[symbol] = next
	}
}

// SetPrice pins a symbol to an exact price.
func (s *SimulatedSource) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}
