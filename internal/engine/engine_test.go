package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"scoutline/internal/config"
	"scoutline/internal/db"
	"scoutline/internal/domain"
	"scoutline/internal/engine"
	"scoutline/internal/engine/auth"
	"scoutline/internal/migrate"
	"scoutline/internal/notify"
	"scoutline/internal/repo"
)

var operator = engine.AuthContext{ActorID: "shuki", Source: "test"}

type captured struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (c *captured) Notify(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Sent   *captured
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	sent := &captured{}
	eng.Notifier = sent
	return testEnv{Engine: eng, Ctx: context.Background(), Sent: sent}
}

func macbook(url string) engine.DealCreateOptions {
	return engine.DealCreateOptions{
		Listing: domain.Listing{
			Title:               "MacBook Pro logic board",
			URL:                 url,
			Price:               decimal.NewFromInt(50),
			ShippingCost:        decimal.Zero,
			Currency:            "USD",
			SellerName:          "parts_depot",
			SellerRating:        99.1,
			SellerFeedbackCount: 1200,
		},
		Model:          "macbook pro",
		ItemType:       "electronics",
		EstimatedValue: decimal.NewFromInt(120),
		ROI:            decimal.RequireFromString("100.88"),
		Profit:         decimal.RequireFromString("50.44"),
	}
}

func createDeal(t *testing.T, env testEnv, url string) engine.DealCreated {
	t.Helper()
	created, err := env.Engine.CreateDeal(env.Ctx, macbook(url))
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return created
}

func TestCreateDealMacBookScenario(t *testing.T) {
	env := newTestEnv(t)
	created := createDeal(t, env, "https://ebay.com/itm/1")

	m := created.Mission
	if m.Priority != domain.PriorityNormal || m.Status != domain.MissionInbox || m.AssignedTo != "shuki" {
		t.Fatalf("unexpected mission: %+v", m)
	}
	if m.Title != "MacBook Pro logic board - $50.00" {
		t.Fatalf("title = %q", m.Title)
	}
	if m.Description != "ROI: 100.9% | Profit: $50.44 | parts_depot" {
		t.Fatalf("description = %q", m.Description)
	}

	deal, err := env.Engine.Repo.GetDeal(env.Ctx, created.Deal.ID)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if deal.Status != domain.DealPending || deal.MissionID != m.ID {
		t.Fatalf("unexpected deal: %+v", deal)
	}
	if deal.ROIPercent != 100.9 || deal.PlatformFees != 19.56 || deal.Profit != 50.44 {
		t.Fatalf("derived figures wrong: roi=%v fees=%v profit=%v", deal.ROIPercent, deal.PlatformFees, deal.Profit)
	}
}

func TestLocalPickupKeepsProfitOnROIBasis(t *testing.T) {
	env := newTestEnv(t)
	opts := macbook("https://ebay.com/itm/pickup")
	dist := 15.0
	opts.Listing.LocalPickup = true
	opts.Listing.DistanceMiles = &dist
	created, err := env.Engine.CreateDeal(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}

	deal, err := env.Engine.Repo.GetDeal(env.Ctx, created.Deal.ID)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if !deal.IsLocalPickup {
		t.Fatalf("expected local pickup flag")
	}
	if deal.TotalCost != deal.Price+deal.ShippingCost {
		t.Fatalf("total cost %v, want price+shipping %v", deal.TotalCost, deal.Price+deal.ShippingCost)
	}
	if deal.Profit != 50.44 || deal.ROIPercent != 100.9 {
		t.Fatalf("profit %v roi %v disagree with the filter basis", deal.Profit, deal.ROIPercent)
	}
	if created.Mission.Metadata.ROI == nil || created.Mission.Metadata.ROI.Profit != deal.Profit {
		t.Fatalf("mission snapshot %+v disagrees with deal profit %v", created.Mission.Metadata.ROI, deal.Profit)
	}
	if deal.PickupCost <= 0 {
		t.Fatalf("expected a pickup cost, got %v", deal.PickupCost)
	}
	want := decimal.NewFromFloat(deal.Profit).Sub(decimal.NewFromFloat(deal.PickupCost))
	if !decimal.NewFromFloat(deal.ProfitAfterPickup).Equal(want) {
		t.Fatalf("profit after pickup %v, want %v", deal.ProfitAfterPickup, want)
	}
}

func TestPriority(t *testing.T) {
	cases := []struct {
		roi, hours float64
		want       string
	}{
		{250, 1, domain.PriorityUrgent},
		{250, 3, domain.PriorityHigh},
		{160, 999, domain.PriorityHigh},
		{40, 5, domain.PriorityHigh},
		{100.9, 999, domain.PriorityNormal},
	}
	for _, c := range cases {
		if got := engine.Priority(c.roi, c.hours); got != c.want {
			t.Fatalf("Priority(%v, %v) = %s, want %s", c.roi, c.hours, got, c.want)
		}
	}
}

type failingDeals struct {
	repo.Repo
	deleteErr error
}

func (f failingDeals) InsertDeal(context.Context, domain.Deal) error {
	return errors.New("disk full")
}

func (f failingDeals) DeleteMission(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Repo.DeleteMission(ctx, id)
}

func listMissions(t *testing.T, env testEnv, f repo.MissionFilters) []domain.Mission {
	t.Helper()
	missions, err := env.Engine.Repo.ListMissions(env.Ctx, f)
	if err != nil {
		t.Fatalf("list missions: %v", err)
	}
	return missions
}

func TestCreateDealRollsBackMission(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Store = failingDeals{Repo: env.Engine.Repo}

	_, err := env.Engine.CreateDeal(env.Ctx, macbook("https://ebay.com/itm/2"))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected insert error, got %v", err)
	}
	if errors.Is(err, engine.ErrRollbackFailed) {
		t.Fatalf("successful rollback reported as failed: %v", err)
	}
	if missions := listMissions(t, env, repo.MissionFilters{}); len(missions) != 0 {
		t.Fatalf("orphan mission left behind: %+v", missions)
	}
}

func TestCreateDealRollbackFailureIsReported(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Store = failingDeals{Repo: env.Engine.Repo, deleteErr: errors.New("locked")}

	_, err := env.Engine.CreateDeal(env.Ctx, macbook("https://ebay.com/itm/3"))
	if err == nil || !strings.Contains(err.Error(), "disk full") || !strings.Contains(err.Error(), "locked") {
		t.Fatalf("expected joined insert and rollback errors, got %v", err)
	}
	if !errors.Is(err, engine.ErrRollbackFailed) {
		t.Fatalf("expected ErrRollbackFailed, got %v", err)
	}
	var rb *engine.RollbackError
	if !errors.As(err, &rb) {
		t.Fatalf("expected *RollbackError, got %T", err)
	}
	missions := listMissions(t, env, repo.MissionFilters{})
	if len(missions) != 1 || missions[0].ID != rb.MissionID {
		t.Fatalf("rollback error names %s, missions %+v", rb.MissionID, missions)
	}
}

func TestCreateDealDuplicateURL(t *testing.T) {
	env := newTestEnv(t)
	createDeal(t, env, "https://ebay.com/itm/4")

	_, err := env.Engine.CreateDeal(env.Ctx, macbook("https://ebay.com/itm/4"))
	if !errors.Is(err, engine.ErrDuplicateDeal) {
		t.Fatalf("expected ErrDuplicateDeal, got %v", err)
	}
	if missions := listMissions(t, env, repo.MissionFilters{}); len(missions) != 1 {
		t.Fatalf("expected 1 mission, got %d", len(missions))
	}
}

func TestApproveTwice(t *testing.T) {
	env := newTestEnv(t)
	created := createDeal(t, env, "https://ebay.com/itm/5")

	res, err := env.Engine.Approve(env.Ctx, operator, created.Deal.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Outcome != engine.OutcomeSuccess || res.Mission == nil || res.Mission.Status != domain.MissionDone {
		t.Fatalf("unexpected approve result: %+v", res)
	}

	res, err = env.Engine.Approve(env.Ctx, operator, created.Deal.ID)
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if res.Outcome != engine.OutcomeAlreadyActioned {
		t.Fatalf("expected already_actioned, got %s", res.Outcome)
	}

	m, err := env.Engine.Repo.GetMission(env.Ctx, created.Mission.ID)
	if err != nil {
		t.Fatalf("get mission: %v", err)
	}
	if m.Status != domain.MissionDone || m.CompletedAt == nil {
		t.Fatalf("mission not completed: %+v", m)
	}

	audit, err := env.Engine.Repo.ListAudit(env.Ctx, created.Deal.ID, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(audit) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audit))
	}
	if len(env.Sent.msgs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(env.Sent.msgs))
	}
}

func TestRejectDefaultsReason(t *testing.T) {
	env := newTestEnv(t)
	created := createDeal(t, env, "https://ebay.com/itm/6")

	res, err := env.Engine.Reject(env.Ctx, operator, created.Deal.ID, "  ")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Outcome != engine.OutcomeSuccess || res.Deal.RejectionReason == nil || *res.Deal.RejectionReason != engine.DefaultRejectReason {
		t.Fatalf("unexpected reject result: %+v", res)
	}

	m, err := env.Engine.Repo.GetMission(env.Ctx, created.Mission.ID)
	if err != nil {
		t.Fatalf("get mission: %v", err)
	}
	if m.Status != domain.MissionRejected {
		t.Fatalf("mission status = %s", m.Status)
	}
	if m.Metadata.Rejection == nil || m.Metadata.Rejection.Reason != engine.DefaultRejectReason {
		t.Fatalf("rejection metadata missing: %+v", m.Metadata)
	}
	if m.Metadata.ROI == nil {
		t.Fatalf("rejection must merge into existing metadata")
	}

	if _, err := env.Engine.RejectStrict(env.Ctx, operator, created.Deal.ID, ""); !errors.Is(err, engine.ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason, got %v", err)
	}
}

func TestUnknownDealIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Approve(env.Ctx, operator, "nope")
	if err != nil || res.Outcome != engine.OutcomeNotFound {
		t.Fatalf("approve unknown: %v %+v", err, res)
	}
	res, err = env.Engine.Escalate(env.Ctx, operator, "nope", engine.EscalateOptions{})
	if err != nil || res.Outcome != engine.OutcomeNotFound {
		t.Fatalf("escalate unknown: %v %+v", err, res)
	}
}

func TestConcurrentApproveReject(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 10; i++ {
		created := createDeal(t, env, "https://ebay.com/race/"+string(rune('a'+i)))
		var wg sync.WaitGroup
		results := make([]engine.TransitionResult, 2)
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			results[0], errs[0] = env.Engine.Approve(env.Ctx, operator, created.Deal.ID)
		}()
		go func() {
			defer wg.Done()
			results[1], errs[1] = env.Engine.Reject(env.Ctx, operator, created.Deal.ID, "too risky")
		}()
		wg.Wait()
		if errs[0] != nil || errs[1] != nil {
			t.Fatalf("transition errors: %v %v", errs[0], errs[1])
		}

		wins := 0
		for _, r := range results {
			switch r.Outcome {
			case engine.OutcomeSuccess:
				wins++
			case engine.OutcomeAlreadyActioned:
			default:
				t.Fatalf("unexpected outcome %s", r.Outcome)
			}
		}
		if wins != 1 {
			t.Fatalf("exactly one transition must win, got %d", wins)
		}

		deal, err := env.Engine.Repo.GetDeal(env.Ctx, created.Deal.ID)
		if err != nil {
			t.Fatalf("get deal: %v", err)
		}
		want := domain.DealRejected
		if results[0].Outcome == engine.OutcomeSuccess {
			want = domain.DealApproved
		}
		if deal.Status != want {
			t.Fatalf("deal status = %s, want %s", deal.Status, want)
		}
	}
}

func TestEscalate(t *testing.T) {
	env := newTestEnv(t)
	created := createDeal(t, env, "https://ebay.com/itm/7")

	res, err := env.Engine.Escalate(env.Ctx, operator, created.Deal.ID, engine.EscalateOptions{})
	if err != nil || res.Outcome != engine.OutcomeSuccess || res.Mission == nil {
		t.Fatalf("escalate: %v %+v", err, res)
	}
	review := res.Mission
	if review.AgentID != "jay" || review.Status != domain.MissionAssigned {
		t.Fatalf("unexpected review mission: %+v", review)
	}
	if review.Title != "Review & Advise: MacBook Pro logic board" {
		t.Fatalf("title = %q", review.Title)
	}
	p := review.Metadata.Parent
	if p == nil || p.ParentDealID != created.Deal.ID || p.ParentMissionID != created.Mission.ID || p.ReviewType != "operator_escalation" {
		t.Fatalf("parent linkage wrong: %+v", p)
	}

	deal, err := env.Engine.Repo.GetDeal(env.Ctx, created.Deal.ID)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if deal.Status != domain.DealPending {
		t.Fatalf("escalation must leave the deal pending, got %s", deal.Status)
	}

	// Without dedupe a second escalation is accepted.
	res, err = env.Engine.Escalate(env.Ctx, operator, created.Deal.ID, engine.EscalateOptions{})
	if err != nil || res.Outcome != engine.OutcomeSuccess {
		t.Fatalf("second escalate: %v %+v", err, res)
	}
	res, err = env.Engine.Escalate(env.Ctx, operator, created.Deal.ID, engine.EscalateOptions{Dedupe: true})
	if err != nil || res.Outcome != engine.OutcomeAlreadyActioned {
		t.Fatalf("deduped escalate: %v %+v", err, res)
	}

	if jays := listMissions(t, env, repo.MissionFilters{AssignedTo: "jay"}); len(jays) != 2 {
		t.Fatalf("expected 2 review missions, got %d", len(jays))
	}
}

func TestForbiddenActor(t *testing.T) {
	env := newTestEnv(t)
	created := createDeal(t, env, "https://ebay.com/itm/8")

	var forbidden auth.ForbiddenError
	_, err := env.Engine.Approve(env.Ctx, engine.AuthContext{ActorID: "mallory", Source: "api"}, created.Deal.ID)
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	_, err = env.Engine.Reject(env.Ctx, engine.AuthContext{ActorID: "scout", Source: "api"}, created.Deal.ID, "")
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError for agent, got %v", err)
	}

	deal, err := env.Engine.Repo.GetDeal(env.Ctx, created.Deal.ID)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if deal.Status != domain.DealPending {
		t.Fatalf("deal changed by forbidden actor: %s", deal.Status)
	}
}

func TestSubmitMission(t *testing.T) {
	env := newTestEnv(t)
	m, err := env.Engine.SubmitMission(env.Ctx, engine.AuthContext{ActorID: "jay", Source: "api"}, engine.MissionInput{
		Title:      "Lead: bulk iPad lot",
		AssignedTo: "shuki",
		Priority:   domain.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if m.AgentID != "jay" || m.Status != domain.MissionInbox {
		t.Fatalf("unexpected mission: %+v", m)
	}

	if _, err := env.Engine.SubmitMission(env.Ctx, engine.AuthContext{ActorID: "jay"}, engine.MissionInput{Title: "x", Status: domain.MissionDone}); err == nil {
		t.Fatalf("terminal initial status must be refused")
	}

	var forbidden auth.ForbiddenError
	_, err = env.Engine.SubmitMission(env.Ctx, engine.AuthContext{ActorID: "mallory"}, engine.MissionInput{Title: "x"})
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}
