package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"
	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/model"
)

const _quoteKeyPrefix = "quote:"

type QuoteCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewQuoteCache(cfg config.QuoteCacheConfig, logger logger.Logger) (*QuoteCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: can't ping redis", err)
	}

	return &QuoteCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func (c *QuoteCache) Get(ctx context.Context, symbol string) (model.Quote, bool, error) {
	var q model.Quote

	val, err := c.client.Get(ctx, _quoteKeyPrefix+symbol).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return q, false, nil
		}
		return q, false, fmt.Errorf("%w: can't get quote from cache", err)
	}

	if err := sonic.Unmarshal([]byte(val), &q); err != nil {
		return q, false, fmt.Errorf("%w: can't unmarshal cached quote", err)
	}

	return q, true, nil
}

func (c *QuoteCache) Set(ctx context.Context, q model.Quote) error {
	b, err := sonic.Marshal(q)
	if err != nil {
		return fmt.Errorf("%w: can't marshal quote", err)
	}

	if err := c.client.Set(ctx, _quoteKeyPrefix+q.Symbol, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: can't set quote in cache", err)
	}

	return nil
}

func (c *QuoteCache) Close() error {
	return c.client.Close()
}

// CachedSource serves current prices from the cache when fresh enough,
// falling back to the wrapped source. Execution prices always go to the
// source: slippage has to be priced per call.
type CachedSource struct {
	cache  *QuoteCache
	source PriceSource
	logger logger.Logger
}

func NewCachedSource(cache *QuoteCache, source PriceSource, logger logger.Logger) *CachedSource {
	return &CachedSource{
		cache:  cache,
		source: source,
		logger: logger,
	}
}

func (s *CachedSource) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	q, ok, err := s.cache.Get(ctx, symbol)
	if err != nil {
		s.logger.Warnf("%s: quote cache read failed", err)
	}
	if ok {
		return q.Price, nil
	}

	price, err := s.source.CurrentPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}

	if err := s.cache.Set(ctx, model.Quote{Symbol: symbol, Price: price, Ts: time.Now().UTC()}); err != nil {
		s.logger.Warnf("%s: quote cache write failed", err)
	}

	return price, nil
}

func (s *CachedSource) ExecutionPrice(ctx context.Context, symbol string) (float64, error) {
	return s.source.ExecutionPrice(ctx, symbol)
}
