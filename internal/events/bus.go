package events

import (
	"sync"

	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/model"
)

const _defaultBufferSize = 256

// Bus fans events out to subscriber channels. A slow subscriber loses
// events instead of stalling the engine cycles.
type Bus struct {
	logger logger.Logger

	mu   sync.RWMutex
	subs []chan model.Event
	size int
}

func NewBus(logger logger.Logger) *Bus {
	return &Bus{logger: logger, size: _defaultBufferSize}
}

// Subscribe registers a new buffered subscriber channel.
func (b *Bus) Subscribe() <-chan model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.Event, b.size)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(e model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warnf("subscriber is full, dropping %s event for portfolio %s", e.Type, e.PortfolioID)
		}
	}
}
