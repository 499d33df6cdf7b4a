package pricing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/model"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

const _quoteURL = "/v1/quote"

// HTTPSource fetches quotes from an external quote service. Calls are
// rate limited and wrapped in a circuit breaker so a dead service fails
// fast instead of eating the executor's price timeout on every order.
type HTTPSource struct {
	c   *resty.Client
	cfg config.QuoteServiceConfig

	limiter ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker

	logger logger.Logger
}

func NewHTTPSource(cfg config.QuoteServiceConfig, logger logger.Logger) *HTTPSource {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.Address).
		SetTimeout(cfg.Timeout)

	st := gobreaker.Settings{Name: "quote-service"}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}

	return &HTTPSource{
		c:       client,
		cfg:     cfg,
		limiter: ratelimit.New(cfg.RatePerMinute, ratelimit.Per(time.Minute)),
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  logger,
	}
}

func (s *HTTPSource) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	q, err := s.getQuote(ctx, symbol, false)
	if err != nil {
		return 0, err
	}
	return q.Price, nil
}

func (s *HTTPSource) ExecutionPrice(ctx context.Context, symbol string) (float64, error) {
	q, err := s.getQuote(ctx, symbol, true)
	if err != nil {
		return 0, err
	}
	return q.Price, nil
}

func (s *HTTPSource) getQuote(ctx context.Context, symbol string, fill bool) (model.Quote, error) {
	s.limiter.Take()

	v, err := s.breaker.Execute(func() (interface{}, error) {
		params := map[string]string{"symbol": symbol}
		if fill {
			params["fill"] = "1"
		}

		req := s.c.R().
			SetQueryParams(params).
			SetResult(&model.Quote{}).
			SetError(&model.QuoteErrorResponse{}).
			SetContext(ctx)

		resp, err := req.Get(_quoteURL)
		if err != nil {
			return nil, fmt.Errorf("%w: can't request quote", err)
		}
		defer resp.Body.Close()

		s.logger.Debugf("got response %s status: %s, %s", resp.Request.URL, resp.Status(), resp.Duration())

		if resp.StatusCode() == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", UnknownSymbolError, symbol)
		}
		if resp.IsError() {
			response := resp.Error().(*model.QuoteErrorResponse)
			return nil, fmt.Errorf("%s: quote request error", response.Message)
		}
		if resp.IsSuccess() {
			return resp.Result().(*model.Quote), nil
		}

		return nil, fmt.Errorf("quote unexpected request error: %s", resp.Status())
	})
	if err != nil {
		return model.Quote{}, err
	}

	return *v.(*model.Quote), nil
}
