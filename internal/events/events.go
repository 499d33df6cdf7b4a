package events

import (
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/model"
)

// Sink receives engine events. Publish must not block: it runs on the
// cycle goroutines.
type Sink interface {
	Publish(e model.Event)
}

// LogSink writes every event to the log, the default sink for the
// daemon.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(logger logger.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) Publish(e model.Event) {
	s.logger.Infof("%s event for portfolio %s: %+v", e.Type, e.PortfolioID, e.Payload)
}

type fanout struct {
	sinks []Sink
}

// Fanout publishes every event to all given sinks in order.
func Fanout(sinks ...Sink) Sink {
	return &fanout{sinks: sinks}
}

func (f *fanout) Publish(e model.Event) {
	for _, s := range f.sinks {
		s.Publish(e)
	}
}
