package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoutline/internal/apperror"
	"scoutline/internal/domain"
)

type captured struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (c *captured) Notify(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.err
}

type memStore struct {
	rows []domain.Notification
	err  error
}

func (m *memStore) InsertNotification(_ context.Context, n domain.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, n)
	return nil
}

func alert() DealAlert {
	return DealAlert{
		MissionID:      "m-1",
		Title:          "MacBook Pro logic board",
		URL:            "https://ebay.com/itm/1",
		Price:          decimal.NewFromInt(50),
		EstimatedValue: decimal.NewFromInt(120),
		ROI:            decimal.RequireFromString("100.88"),
		Profit:         decimal.RequireFromString("50.44"),
		SellerName:     "parts_guy",
		SellerRating:   99.1,
		City:           "Miami",
		HoursLeft:      999,
	}
}

func TestFormatDealAlert(t *testing.T) {
	msg := FormatDealAlert(alert())
	assert.True(t, strings.HasPrefix(msg.Text, "🔍 NEW DEAL FOUND"))
	assert.Contains(t, msg.Text, "ROI: 100.9%")
	assert.Contains(t, msg.Text, "Profit: +$50.44")
	assert.Contains(t, msg.Text, "Ends: ∞")
	assert.Contains(t, msg.Text, "[View on eBay](https://ebay.com/itm/1)")
	assert.Equal(t, []string{"approve", "reject", "escalate"}, msg.Actions)
	assert.Equal(t, domain.PriorityHigh, msg.Priority)

	a := alert()
	a.HoursLeft = 0.5
	msg = FormatDealAlert(a)
	assert.True(t, strings.HasPrefix(msg.Text, "🚨 URGENT DEAL - ENDING IN 30m"), msg.Text)
	assert.Equal(t, domain.PriorityUrgent, msg.Priority)

	a.ROI = decimal.NewFromInt(40)
	assert.False(t, a.Urgent())
	assert.Equal(t, domain.PriorityNormal, a.Priority())
}

func TestFormatRunSummary(t *testing.T) {
	msg := FormatRunSummary(RunSummary{Approved: 2, Passed: 30, Tracked: 4})
	assert.Contains(t, msg.Text, "2 deals queued")
	assert.NotContains(t, msg.Text, "errors")
	msg = FormatRunSummary(RunSummary{Errors: 1})
	assert.Contains(t, msg.Text, "1 errors")
}

func TestMultiContinuesPastFailures(t *testing.T) {
	bad := &captured{err: errors.New("down")}
	good := &captured{}
	err := Multi{Notifiers: []Notifier{bad, nil, good}}.Notify(context.Background(), Message{Text: "hi"})
	require.Error(t, err)
	assert.Len(t, good.msgs, 1)
	assert.Len(t, bad.msgs, 1)
}

func TestRecordingStoresOutcome(t *testing.T) {
	store := &memStore{}
	fixed := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	rec := Recording{Next: &captured{}, Store: store, Now: fixed}
	require.NoError(t, rec.Notify(context.Background(), Message{Text: "ok", MissionID: "m-1", Actions: DealActions}))

	rec.Next = &captured{err: errors.New("telegram down")}
	err := rec.Notify(context.Background(), Message{Text: "nope"})
	require.Error(t, err)

	require.Len(t, store.rows, 2)
	assert.Equal(t, "sent", store.rows[0].Status)
	assert.Equal(t, "2024-01-01T00:00:00Z", store.rows[0].CreatedAt)
	assert.Equal(t, DealActions, store.rows[0].Actions)
	assert.Equal(t, "failed", store.rows[1].Status)
	assert.Equal(t, "telegram down", store.rows[1].Error)
	assert.Equal(t, domain.PriorityNormal, store.rows[1].Priority)
}

func TestTelegramSendsMarkdownWithButtons(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{Token: "T0K", ChatID: "42", APIBase: srv.URL}, nil)
	require.NoError(t, tg.Notify(context.Background(), FormatDealAlert(alert())))

	assert.Equal(t, "/botT0K/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Markdown", got["parse_mode"])
	assert.Equal(t, true, got["disable_web_page_preview"])
	markup := got["reply_markup"].(map[string]any)
	row := markup["inline_keyboard"].([]any)[0].([]any)
	assert.Len(t, row, 3)
	assert.Equal(t, "approve_m-1", row[0].(map[string]any)["callback_data"])
}

func TestTelegramErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{Token: "x", ChatID: "1", APIBase: srv.URL}, nil)
	err := tg.Notify(context.Background(), Message{Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeNotifyFailed, apperror.GetCode(err))
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramBreakerOpensOnServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{Token: "x", ChatID: "1", APIBase: srv.URL}, nil)
	var last error
	for i := 0; i < 7; i++ {
		last = tg.Notify(context.Background(), Message{Text: "hi"})
	}
	assert.Equal(t, 5, calls)
	assert.Equal(t, apperror.CodeCircuitOpen, apperror.GetCode(last))
}
