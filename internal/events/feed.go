package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"scoutline/internal/domain"
	"scoutline/internal/logger"
)

// Source reads the persisted event log.
type Source interface {
	EventsAfter(ctx context.Context, limit int, cursor int64, entityKind string) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// Filter narrows a subscription. Field names a payload key (or one of
// "type", "entity_id", "actor_id"); when set, Value must match it exactly.
type Filter struct {
	EntityKind string
	Field      string
	Value      string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e domain.Event) bool {
	if f.EntityKind != "" && e.EntityKind != f.EntityKind {
		return false
	}
	if f.Field == "" {
		return true
	}
	switch f.Field {
	case "type":
		return e.Type == f.Value
	case "entity_id":
		return e.EntityID == f.Value
	case "actor_id":
		return e.ActorID == f.Value
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
		return false
	}
	v, ok := payload[f.Field]
	if !ok {
		return false
	}
	if s, ok := v.(string); ok {
		return s == f.Value
	}
	return fmt.Sprint(v) == f.Value
}

// Feed turns the event table into a push-style change feed by polling.
type Feed struct {
	Source   Source
	Interval time.Duration
	Log      *logger.Logger
}

const feedBatch = 100

// Subscribe delivers events recorded after the call that match f. The channel
// closes when ctx is done.
func (f Feed) Subscribe(ctx context.Context, filter Filter) (<-chan domain.Event, error) {
	cursor, err := f.Source.LatestEventID(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed cursor: %w", err)
	}
	interval := f.Interval
	if interval <= 0 {
		interval = time.Second
	}
	log := f.Log
	if log == nil {
		log = logger.Nop()
	}
	out := make(chan domain.Event)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			for {
				batch, err := f.Source.EventsAfter(ctx, feedBatch, cursor, filter.EntityKind)
				if err != nil {
					if ctx.Err() == nil {
						log.WithError(err).Warn("change feed poll failed")
					}
					break
				}
				for _, e := range batch {
					cursor = e.ID
					if !filter.Match(e) {
						continue
					}
					select {
					case out <- e:
					case <-ctx.Done():
						return
					}
				}
				if len(batch) < feedBatch {
					break
				}
			}
		}
	}()
	return out, nil
}
