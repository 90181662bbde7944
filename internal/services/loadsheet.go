package services

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/logging"
)

// LoadsheetService requests the final loadsheet for a flight. Requests are
// fire-and-forget; completion is published as LoadsheetGeneratedEvent.
type LoadsheetService interface {
	GenerateFinalLoadsheetAsync(ctx context.Context, flightNumber string)
}

// LogLoadsheet is a LoadsheetService that logs the request and reports
// success after a short delay standing in for the dispatch round trip.
type LogLoadsheet struct {
	events *event.Bus
	logger *logging.Logger
	delay  time.Duration
	wg     sync.WaitGroup
}

// NewLogLoadsheet creates a logging loadsheet service.
func NewLogLoadsheet(events *event.Bus, logger *logging.Logger, delay time.Duration) *LogLoadsheet {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &LogLoadsheet{events: events, logger: logger.WithComponent("loadsheet"), delay: delay}
}

// GenerateFinalLoadsheetAsync implements LoadsheetService.
func (l *LogLoadsheet) GenerateFinalLoadsheetAsync(ctx context.Context, flightNumber string) {
	l.logger.Info("final loadsheet requested", "flight", flightNumber)
	l.wg.Go(func() {
		var err error
		if l.delay > 0 {
			t := time.NewTimer(l.delay)
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-t.C:
			}
			t.Stop()
		}
		if err != nil {
			l.logger.Warn("final loadsheet canceled", "flight", flightNumber, "error", err)
		} else {
			l.logger.Info("final loadsheet generated", "flight", flightNumber)
		}
		if l.events != nil {
			l.events.Publish(event.NewLoadsheetGeneratedEvent(flightNumber, err))
		}
	})
}

// Wait blocks until every outstanding request has completed.
func (l *LogLoadsheet) Wait() {
	l.wg.Wait()
}
