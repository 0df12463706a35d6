package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"scoutline/internal/domain"
)

type memSource struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memSource) add(e domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.events) + 1)
	m.events = append(m.events, e)
}

func (m *memSource) EventsAfter(_ context.Context, limit int, cursor int64, kind string) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.Event
	for _, e := range m.events {
		if e.ID > cursor && (kind == "" || e.EntityKind == kind) && len(res) < limit {
			res = append(res, e)
		}
	}
	return res, nil
}

func (m *memSource) LatestEventID(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events)), nil
}

func TestFilterMatch(t *testing.T) {
	e := domain.Event{Type: "deal.approved", EntityKind: "deal", EntityID: "d-1", ActorID: "shuki", Payload: `{"mission_id":"m-1","roi":100.9}`}
	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"payload_field", Filter{EntityKind: "deal", Field: "mission_id", Value: "m-1"}, true},
		{"numeric_payload", Filter{Field: "roi", Value: "100.9"}, true},
		{"type", Filter{Field: "type", Value: "deal.approved"}, true},
		{"other_kind", Filter{EntityKind: "mission"}, false},
		{"other_value", Filter{Field: "mission_id", Value: "m-2"}, false},
		{"missing_field", Filter{Field: "missing", Value: ""}, false},
	}
	for _, c := range cases {
		if got := c.filter.Match(e); got != c.want {
			t.Fatalf("%s: Match = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestSubscribeDeliversOnlyNewMatchingEvents(t *testing.T) {
	src := &memSource{}
	src.add(domain.Event{Type: "deal.created", EntityKind: "deal", EntityID: "old"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := Feed{Source: src, Interval: 5 * time.Millisecond}.Subscribe(ctx, Filter{EntityKind: "deal", Field: "entity_id", Value: "d-1"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	src.add(domain.Event{Type: "mission.created", EntityKind: "mission", EntityID: "d-1"})
	src.add(domain.Event{Type: "deal.created", EntityKind: "deal", EntityID: "d-2"})
	src.add(domain.Event{Type: "deal.approved", EntityKind: "deal", EntityID: "d-1"})

	select {
	case e := <-ch:
		if e.Type != "deal.approved" {
			t.Fatalf("got %s, want deal.approved", e.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	cancel()
	for range ch {
	}
}
