package queue

import (
	"cmp"
	"slices"
	"sync"

	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/model"
)

// TradeQueue holds pending trade orders across all portfolios, highest
// priority first, first-in-first-out among equal priorities. It performs
// no deduplication of its own; producers decide what belongs in it.
// Safe for concurrent enqueue from many rule evaluations with a single
// draining consumer.
type TradeQueue struct {
	logger logger.Logger

	mu     sync.Mutex
	orders []*model.TradeOrder
}

func NewTradeQueue(logger logger.Logger) *TradeQueue {
	return &TradeQueue{
		logger: logger,
		orders: make([]*model.TradeOrder, 0),
	}
}

func (q *TradeQueue) Enqueue(o *model.TradeOrder) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.orders = append(q.orders, o)
	slices.SortStableFunc(q.orders, func(a, b *model.TradeOrder) int {
		return cmp.Compare(b.Priority, a.Priority)
	})

	q.logger.Debugf("queued %s %s %s for %s, priority %d, depth %d",
		o.Reason, o.Action, o.Target(), o.PortfolioID, o.Priority, len(q.orders))
}

// Pop removes and returns up to max orders from the head of the queue.
func (q *TradeQueue) Pop(max int) []*model.TradeOrder {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || len(q.orders) == 0 {
		return nil
	}
	if max > len(q.orders) {
		max = len(q.orders)
	}

	popped := make([]*model.TradeOrder, max)
	copy(popped, q.orders[:max])
	q.orders = append(q.orders[:0], q.orders[max:]...)

	return popped
}

func (q *TradeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.orders)
}

// HasPending reports whether an order for the same portfolio, reason and
// target is still waiting in the queue. The rule engine consults it to
// avoid double-enqueueing the same intent within one unexecuted window.
func (q *TradeQueue) HasPending(portfolioID string, reason model.TradeReason, target string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, o := range q.orders {
		if o.PortfolioID == portfolioID && o.Reason == reason && o.Target() == target {
			return true
		}
	}
	return false
}

// PendingForPortfolio returns copies of the queued orders belonging to
// one portfolio, in queue order.
func (q *TradeQueue) PendingForPortfolio(portfolioID string) []model.TradeOrder {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []model.TradeOrder
	for _, o := range q.orders {
		if o.PortfolioID == portfolioID {
			out = append(out, *o)
		}
	}
	return out
}
