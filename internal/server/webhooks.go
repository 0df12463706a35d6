package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"scoutline/internal/config"
	"scoutline/internal/domain"
	"scoutline/internal/events"
	"scoutline/internal/logger"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookRetries = 2
)

// WebhookDispatcher pushes change-feed events to configured subscribers.
type WebhookDispatcher struct {
	Feed     events.Feed
	Webhooks []config.Webhook
	Log      *logger.Logger
	Client   *resty.Client
}

// Start subscribes each webhook to the feed and returns a wait function that
// blocks until all deliveries stop. Delivery stops when ctx is done.
func (d WebhookDispatcher) Start(ctx context.Context) (func(), error) {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.Component("webhooks")
	client := d.Client
	if client == nil {
		client = resty.New().
			SetTimeout(defaultWebhookTimeout).
			SetRetryCount(defaultWebhookRetries).
			SetRetryWaitTime(500 * time.Millisecond).
			SetHeader("Content-Type", "application/json")
	}
	var wg sync.WaitGroup
	for _, hook := range d.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		ch, err := d.Feed.Subscribe(ctx, events.Filter{})
		if err != nil {
			return wg.Wait, fmt.Errorf("subscribe webhook %s: %w", hook.URL, err)
		}
		hlog := log.WithFields(logger.Fields{logger.FieldURL: hook.URL, "webhook_id": hook.ID})
		filter := newEventFilter(hook.Events)
		wg.Add(1)
		go func(hook config.Webhook) {
			defer wg.Done()
			for evt := range ch {
				if !filter.match(evt.Type) {
					continue
				}
				if err := postEvent(ctx, client, hook, evt); err != nil {
					hlog.WithError(err).WithField("event_id", evt.ID).Warn("webhook delivery failed")
				}
			}
		}(hook)
	}
	return wg.Wait, nil
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func postEvent(ctx context.Context, client *resty.Client, hook config.Webhook, evt domain.Event) error {
	payload := json.RawMessage("{}")
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage(evt.Payload)
		} else {
			raw = evt.Payload
		}
	}
	req := client.R().
		SetContext(ctx).
		SetHeader("X-Scoutline-Event", evt.Type).
		SetHeader("X-Scoutline-Delivery", strconv.FormatInt(evt.ID, 10)).
		SetBody(webhookEvent{
			ID:         evt.ID,
			Type:       evt.Type,
			EntityKind: evt.EntityKind,
			EntityID:   evt.EntityID,
			ActorID:    evt.ActorID,
			TS:         evt.TS,
			Payload:    payload,
			PayloadRaw: raw,
		})
	if hook.ID != "" {
		req.SetHeader("X-Scoutline-Webhook", hook.ID)
	}
	res, err := req.Post(hook.URL)
	if err != nil {
		return err
	}
	if res.IsError() {
		body := res.String()
		if len(body) > 4096 {
			body = body[:4096]
		}
		return fmt.Errorf("status %d: %s", res.StatusCode(), strings.TrimSpace(body))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(types []string) eventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if key := strings.TrimSpace(t); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
