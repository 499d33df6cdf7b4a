package pricing

import (
	"context"
	"errors"
)

var UnknownSymbolError = errors.New("unknown symbol")

// PriceSource answers price lookups for the engine. ExecutionPrice may
// differ from CurrentPrice when the implementation simulates slippage.
// Both calls respect ctx deadlines; the caller bounds them.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	ExecutionPrice(ctx context.Context, symbol string) (float64, error)
}
