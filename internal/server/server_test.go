package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"scoutline/internal/config"
	"scoutline/internal/db"
	"scoutline/internal/domain"
	"scoutline/internal/engine"
	"scoutline/internal/events"
	"scoutline/internal/ingest"
	"scoutline/internal/migrate"
	"scoutline/internal/notify"
	"scoutline/internal/poll"
	"scoutline/internal/repo"
)

const (
	testJWTSecret  = "test-jwt-secret"
	testCronSecret = "test-cron-secret"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	busy  int
}

func (f *fakeRunner) Run(context.Context, ingest.RunOptions) (ingest.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.busy > 0 {
		f.busy--
		return ingest.Summary{}, ingest.ErrRunInProgress
	}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return ingest.Summary{RunID: "run-1", Queries: []string{"iPad"}, Approved: 1, Passed: 2, Started: now, Finished: now}, nil
}

func (f *fakeRunner) setBusy(n int) {
	f.mu.Lock()
	f.busy = n
	f.mu.Unlock()
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordedAlerts struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recordedAlerts) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordedAlerts) sent() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

type testServer struct {
	URL    string
	Engine engine.Engine
	Runner *fakeRunner
	Alerts *recordedAlerts
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type serverOpts struct {
	cronSecret string
}

func newTestServer(t *testing.T, opts serverOpts) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	runner := &fakeRunner{}
	alerts := &recordedAlerts{}
	handler, err := New(Config{
		Engine:   e,
		Scout:    runner,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, CronSecret: opts.cronSecret},
		CronWait: poll.Options{Interval: 10 * time.Millisecond, MaxWait: time.Second},
		Notifier: alerts,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Runner: runner,
		Alerts: alerts,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func bearer(t *testing.T, actorID string) map[string]string {
	t.Helper()
	token, err := SignToken(testJWTSecret, actorID, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func seedDeal(t *testing.T, e engine.Engine, url string) engine.DealCreated {
	t.Helper()
	created, err := e.CreateDeal(context.Background(), engine.DealCreateOptions{
		Listing: domain.Listing{
			Title:               "MacBook Pro logic board",
			URL:                 url,
			Price:               decimal.NewFromInt(50),
			Currency:            "USD",
			SellerName:          "parts_depot",
			SellerRating:        99,
			SellerFeedbackCount: 800,
		},
		Model:          "macbook pro",
		ItemType:       "electronics",
		EstimatedValue: decimal.NewFromInt(120),
		ROI:            decimal.RequireFromString("100.88"),
		Profit:         decimal.RequireFromString("50.44"),
	})
	if err != nil {
		t.Fatalf("seed deal: %v", err)
	}
	return created
}

func decodeTransition(t *testing.T, data []byte) TransitionResponse {
	t.Helper()
	var out TransitionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal transition: %v (%s)", err, string(data))
	}
	return out
}

func TestHealthIsPublicAndDealsAreNot(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/deals", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/deals", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestApproveOverHTTP(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	created := seedDeal(t, srv.Engine, "https://ebay.com/itm/1")
	headers := bearer(t, "shuki")
	headers["X-Scoutline-Source"] = "telegram"
	url := srv.URL + "/v0/deals/" + created.Deal.ID + "/approve"

	res, body := doJSON(t, srv.Client(), http.MethodPost, url, nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(body))
	}
	out := decodeTransition(t, body)
	if out.Outcome != string(engine.OutcomeSuccess) || out.Deal == nil || out.Deal.Status != domain.DealApproved {
		t.Fatalf("unexpected approve body: %s", string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, url, nil, headers)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second approve expected 409, got %d: %s", res.StatusCode, string(body))
	}
	if out := decodeTransition(t, body); out.Outcome != string(engine.OutcomeAlreadyActioned) {
		t.Fatalf("expected already_actioned, got %s", out.Outcome)
	}

	audit, err := srv.Engine.Repo.ListAudit(context.Background(), created.Deal.ID, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(audit) != 1 || audit[0].Source != "telegram" || audit[0].PerformedBy != "shuki" {
		t.Fatalf("unexpected audit trail: %+v", audit)
	}
}

func TestUnknownDealOutcome(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deals/missing/approve", nil, bearer(t, "shuki"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(body))
	}
	if out := decodeTransition(t, body); out.Outcome != string(engine.OutcomeNotFound) {
		t.Fatalf("expected not_found outcome, got %s", out.Outcome)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/deals/missing", nil, bearer(t, "shuki"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on get, got %d", res.StatusCode)
	}
}

func TestRejectReasons(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	first := seedDeal(t, srv.Engine, "https://ebay.com/itm/2")
	second := seedDeal(t, srv.Engine, "https://ebay.com/itm/3")
	headers := bearer(t, "shuki")

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deals/"+first.Deal.ID+"/reject", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d: %s", res.StatusCode, string(body))
	}
	out := decodeTransition(t, body)
	if out.Deal == nil || out.Deal.RejectionReason == nil || *out.Deal.RejectionReason != engine.DefaultRejectReason {
		t.Fatalf("expected default reason, got %s", string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deals/"+second.Deal.ID+"/reject?strict=true", map[string]any{"reason": "  "}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("strict reject expected 400, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deals/"+second.Deal.ID+"/reject?strict=true", map[string]any{"reason": "Too far"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("strict reject status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/deals", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	var list paginatedDeals
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 0 {
		t.Fatalf("rejected deals should be hidden by default, got %d", len(list.Items))
	}
	_, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/deals?include_rejected=true", nil, headers)
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("expected 2 deals with include_rejected, got %d", len(list.Items))
	}
}

func TestEscalateCreatesReviewMission(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	created := seedDeal(t, srv.Engine, "https://ebay.com/itm/4")
	headers := bearer(t, "shuki")
	url := srv.URL + "/v0/deals/" + created.Deal.ID + "/escalate"

	res, body := doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"dedupe": true}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("escalate status %d: %s", res.StatusCode, string(body))
	}
	out := decodeTransition(t, body)
	if out.Mission == nil || out.Mission.AssignedTo != "jay" || out.Mission.Metadata["parent_deal_id"] != created.Deal.ID {
		t.Fatalf("unexpected escalation body: %s", string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"dedupe": true}, headers)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("deduped escalation expected 409, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/missions?assigned_to=jay", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list missions status %d: %s", res.StatusCode, string(body))
	}
	var missions paginatedMissions
	if err := json.Unmarshal(body, &missions); err != nil {
		t.Fatalf("unmarshal missions: %v", err)
	}
	if len(missions.Items) != 1 {
		t.Fatalf("expected one review mission, got %d", len(missions.Items))
	}
}

func TestAgentsCannotDecide(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	created := seedDeal(t, srv.Engine, "https://ebay.com/itm/5")
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deals/"+created.Deal.ID+"/approve", nil, bearer(t, "ghost"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/missions", map[string]any{
		"title": "Benchmark refresh",
	}, bearer(t, "scout"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("agent mission status %d: %s", res.StatusCode, string(body))
	}
	var m MissionResponse
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("unmarshal mission: %v", err)
	}
	if m.AgentID != "scout" || m.Status != domain.MissionInbox {
		t.Fatalf("unexpected mission: %+v", m)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:        "key-1",
		ActorID:   "shuki",
		Name:      "dashboard",
		KeyHash:   repo.HashAPIKey("sl_secret"),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agents", nil, map[string]string{"X-Api-Key": "sl_secret"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("agents status %d: %s", res.StatusCode, string(body))
	}
	var agents []domain.Agent
	if err := json.Unmarshal(body, &agents); err != nil {
		t.Fatalf("unmarshal agents: %v", err)
	}
	for _, a := range agents {
		if a.ID == "shuki" {
			t.Fatalf("operators must not be listed as agents")
		}
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agents", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", res.StatusCode)
	}
}

func TestCronFailsClosedWithoutSecret(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cron/scout", nil, map[string]string{"Authorization": "Bearer anything"})
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", res.StatusCode, string(body))
	}
	if srv.Runner.callCount() != 0 {
		t.Fatalf("runner must not be invoked without a secret")
	}

	// A second refusal inside the throttle window does not alert again.
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cron/scout", nil, nil)
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 on retry, got %d", res.StatusCode)
	}
	alerts := srv.Alerts.sent()
	if len(alerts) != 1 {
		t.Fatalf("expected one configuration alert, got %d", len(alerts))
	}
	if alerts[0].Priority != domain.PriorityUrgent || !strings.Contains(alerts[0].Text, "SCOUTLINE_CRON_SECRET") {
		t.Fatalf("unexpected alert: %+v", alerts[0])
	}
}

func TestCronTrigger(t *testing.T) {
	srv := newTestServer(t, serverOpts{cronSecret: testCronSecret})
	url := srv.URL + "/v0/cron/scout"

	res, _ := doJSON(t, srv.Client(), http.MethodGet, url, nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing secret expected 401, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, url, nil, map[string]string{"Authorization": "Bearer wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong secret expected 401, got %d", res.StatusCode)
	}

	auth := map[string]string{"Authorization": "Bearer " + testCronSecret}
	res, body := doJSON(t, srv.Client(), http.MethodPost, url, nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cron status %d: %s", res.StatusCode, string(body))
	}
	var out CronResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal cron: %v", err)
	}
	if !out.Success || out.Approved != 1 || out.Passed != 2 || out.RunID != "run-1" {
		t.Fatalf("unexpected cron body: %s", string(body))
	}

	srv.Runner.setBusy(1)
	res, _ = doJSON(t, srv.Client(), http.MethodGet, url, nil, auth)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("busy runner expected 409, got %d", res.StatusCode)
	}

	srv.Runner.setBusy(2)
	res, body = doJSON(t, srv.Client(), http.MethodGet, url+"?wait=true", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("wait=true expected 200 after retries, got %d: %s", res.StatusCode, string(body))
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	created := seedDeal(t, srv.Engine, "https://ebay.com/itm/6")

	type delivery struct {
		event string
		body  webhookEvent
	}
	got := make(chan delivery, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		got <- delivery{event: r.Header.Get("X-Scoutline-Event"), body: evt}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := WebhookDispatcher{
		Feed:     events.Feed{Source: srv.Engine.Repo, Interval: 10 * time.Millisecond},
		Webhooks: []config.Webhook{{ID: "ops", URL: hook.URL, Events: []string{"deal.approved"}}},
	}
	wait, err := d.Start(ctx)
	if err != nil {
		t.Fatalf("start webhooks: %v", err)
	}
	defer func() {
		cancel()
		wait()
	}()

	if _, err := srv.Engine.Approve(context.Background(), engine.AuthContext{ActorID: "shuki", Source: "test"}, created.Deal.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	select {
	case d := <-got:
		if d.event != "deal.approved" || d.body.EntityID != created.Deal.ID {
			t.Fatalf("unexpected delivery: %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("webhook not delivered")
	}
}
