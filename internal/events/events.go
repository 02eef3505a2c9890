// Package events distributes committed journal events to live subscribers:
// the local WebSocket hub and, across instances, Redis Pub/Sub.
package events

import (
	"context"
	"errors"

	"github.com/atmx/wager-engine/internal/model"
)

// Publisher receives committed events.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Fanout publishes to every sink in order. A failing sink does not stop the
// others; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
