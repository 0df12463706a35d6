package repo_test

import (
	"context"
	"errors"
	"testing"

	"scoutline/internal/db"
	"scoutline/internal/domain"
	"scoutline/internal/migrate"
	"scoutline/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func seedPair(t *testing.T, r repo.Repo, id, url, createdAt string) domain.Deal {
	t.Helper()
	ctx := context.Background()
	m := domain.Mission{
		ID: "m-" + id, AgentID: "scout", Status: domain.MissionInbox, Priority: domain.PriorityNormal,
		Title: "Deal " + id, CreatedAt: createdAt, UpdatedAt: createdAt,
		Metadata: domain.Metadata{ROI: &domain.ROISnapshot{ROI: 100.9, Profit: 50.44, EstimatedValue: 120}},
	}
	if err := r.InsertMission(ctx, m); err != nil {
		t.Fatalf("insert mission: %v", err)
	}
	d := domain.Deal{
		ID: "d-" + id, MissionID: m.ID, Platform: "ebay", ItemURL: url, Title: "MacBook Pro logic board",
		Price: 50, EstimatedValue: 120, ROIPercent: 100.9, ItemType: "electronics",
		Status: domain.DealPending, CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	if err := r.InsertDeal(ctx, d); err != nil {
		t.Fatalf("insert deal: %v", err)
	}
	return d
}

func TestDealRoundTripDerivesFigures(t *testing.T) {
	r := newTestRepo(t)
	seedPair(t, r, "1", "https://ebay.com/itm/1", ts)
	got, err := r.GetDeal(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if got.PlatformFees != 19.56 || got.Profit != 50.44 || got.TotalCost != 50 {
		t.Fatalf("derived figures wrong: %+v", got)
	}
	if got.SellerRating != nil || got.AuctionEndsAt != nil {
		t.Fatalf("expected nil optionals")
	}
	m, err := r.GetMission(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("get mission: %v", err)
	}
	if m.Metadata.ROI == nil || m.Metadata.ROI.Profit != 50.44 {
		t.Fatalf("metadata not round-tripped: %+v", m.Metadata)
	}
	if _, err := r.GetDeal(context.Background(), "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDealExistsByURL(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedPair(t, r, "1", "https://ebay.com/itm/1", ts)
	ok, err := r.DealExistsByURL(ctx, "https://ebay.com/itm/1")
	if err != nil || !ok {
		t.Fatalf("expected existing url, got %v %v", ok, err)
	}
	ok, _ = r.DealExistsByURL(ctx, "https://ebay.com/itm/2")
	if ok {
		t.Fatalf("unexpected match")
	}
	ok, _ = r.DealExistsByURL(ctx, "")
	if ok {
		t.Fatalf("empty url must never match")
	}
}

func TestEmptyURLsAreNotUnique(t *testing.T) {
	r := newTestRepo(t)
	seedPair(t, r, "1", "", ts)
	seedPair(t, r, "2", "", ts)
}

func TestDuplicateURLRejectedByIndex(t *testing.T) {
	r := newTestRepo(t)
	seedPair(t, r, "1", "https://ebay.com/itm/1", ts)
	ctx := context.Background()
	m := domain.Mission{ID: "m-2", AgentID: "scout", Status: domain.MissionInbox, Priority: domain.PriorityNormal, Title: "dup", CreatedAt: ts, UpdatedAt: ts}
	if err := r.InsertMission(ctx, m); err != nil {
		t.Fatal(err)
	}
	err := r.InsertDeal(ctx, domain.Deal{ID: "d-2", MissionID: "m-2", Platform: "ebay", ItemURL: "https://ebay.com/itm/1",
		Title: "dup", ItemType: "electronics", Status: domain.DealPending, CreatedAt: ts, UpdatedAt: ts})
	if err == nil {
		t.Fatalf("expected unique violation")
	}
}

func TestTransitionDealOnlyFromPending(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedPair(t, r, "1", "u1", ts)
	ok, err := r.TransitionDeal(ctx, "d-1", repo.DealTransition{Status: domain.DealApproved, At: ts})
	if err != nil || !ok {
		t.Fatalf("first transition: %v %v", ok, err)
	}
	reason := "too late"
	ok, err = r.TransitionDeal(ctx, "d-1", repo.DealTransition{Status: domain.DealRejected, RejectionReason: &reason, At: ts})
	if err != nil || ok {
		t.Fatalf("second transition must not apply: %v %v", ok, err)
	}
	d, _ := r.GetDeal(ctx, "d-1")
	if d.Status != domain.DealApproved || d.RejectionReason != nil || d.DecisionMadeAt == nil {
		t.Fatalf("unexpected deal state %+v", d)
	}
	ok, err = r.TransitionDeal(ctx, "missing", repo.DealTransition{Status: domain.DealApproved, At: ts})
	if err != nil || ok {
		t.Fatalf("missing deal: %v %v", ok, err)
	}
}

func TestDeleteMissionCascadesAndIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedPair(t, r, "1", "u1", ts)
	if err := r.DeleteMission(ctx, "m-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetDeal(ctx, "d-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deal should cascade, got %v", err)
	}
	if err := r.DeleteMission(ctx, "m-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestListDealsNewestFirstExcludingRejected(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedPair(t, r, "a", "ua", "2024-01-01T00:00:00Z")
	seedPair(t, r, "b", "ub", "2024-01-02T00:00:00Z")
	seedPair(t, r, "c", "uc", "2024-01-03T00:00:00Z")
	if _, err := r.TransitionDeal(ctx, "d-b", repo.DealTransition{Status: domain.DealRejected, At: ts}); err != nil {
		t.Fatal(err)
	}
	deals, err := r.ListDeals(ctx, repo.DealFilters{Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(deals) != 2 || deals[0].ID != "d-c" || deals[1].ID != "d-a" {
		t.Fatalf("unexpected order: %+v", deals)
	}
	if deals[0].DisplayStatus != domain.DisplayInbox || deals[0].Priority != domain.PriorityNormal {
		t.Fatalf("view fields missing: %+v", deals[0])
	}
	all, _ := r.ListDeals(ctx, repo.DealFilters{IncludeRejected: true})
	if len(all) != 3 {
		t.Fatalf("expected 3 with rejected, got %d", len(all))
	}
	page, _ := r.ListDeals(ctx, repo.DealFilters{IncludeRejected: true, CursorCreatedAt: deals[0].CreatedAt, CursorID: deals[0].ID})
	if len(page) != 2 || page[0].ID != "d-b" {
		t.Fatalf("cursor page wrong: %+v", page)
	}
}

func TestOpenEscalationExists(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedPair(t, r, "1", "u1", ts)
	ok, _ := r.OpenEscalationExists(ctx, "d-1")
	if ok {
		t.Fatalf("no escalation yet")
	}
	esc := domain.Mission{ID: "m-esc", AgentID: "jay", Status: domain.MissionAssigned, Priority: domain.PriorityHigh,
		Title: "Review & Advise: x", AssignedTo: "jay", CreatedAt: ts, UpdatedAt: ts,
		Metadata: domain.Metadata{Parent: &domain.ParentLink{ParentDealID: "d-1", ParentMissionID: "m-1", ReviewType: "operator_escalation"}}}
	if err := r.InsertMission(ctx, esc); err != nil {
		t.Fatal(err)
	}
	ok, err := r.OpenEscalationExists(ctx, "d-1")
	if err != nil || !ok {
		t.Fatalf("expected open escalation: %v %v", ok, err)
	}
	done := ts
	if err := r.UpdateMission(ctx, "m-esc", repo.MissionUpdate{Status: domain.MissionDone, CompletedAt: &done, UpdatedAt: ts}); err != nil {
		t.Fatal(err)
	}
	ok, _ = r.OpenEscalationExists(ctx, "d-1")
	if ok {
		t.Fatalf("closed escalation must not count")
	}
	inbox, _ := r.ListMissions(ctx, repo.MissionFilters{AssignedTo: "jay"})
	if len(inbox) != 1 || inbox[0].Metadata.Parent == nil {
		t.Fatalf("assignee listing wrong: %+v", inbox)
	}
}

func TestBenchmarksAndAgents(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.UpsertBenchmark(ctx, domain.Benchmark{Model: "iphone 13", ItemType: "electronics", AvgSoldPrice: 310, UpdatedAt: ts}); err != nil {
		t.Fatal(err)
	}
	if err := r.UpsertBenchmark(ctx, domain.Benchmark{Model: "iphone 13", ItemType: "electronics", AvgSoldPrice: 320, UpdatedAt: ts}); err != nil {
		t.Fatal(err)
	}
	price, ok, err := r.Benchmark(ctx, "iphone 13", "electronics")
	if err != nil || !ok || price.String() != "320" {
		t.Fatalf("benchmark lookup: %v %v %v", price, ok, err)
	}
	if _, ok, _ := r.Benchmark(ctx, "pixel 8", "electronics"); ok {
		t.Fatalf("unexpected benchmark")
	}

	if err := r.Heartbeat(ctx, "scout", domain.AgentActive, ts); err != nil {
		t.Fatal(err)
	}
	agents, err := r.ListAgents(ctx, "jay")
	if err != nil {
		t.Fatal(err)
	}
	status := map[string]string{}
	for _, a := range agents {
		status[a.ID] = a.Status
	}
	if status["scout"] != domain.AgentActive || status["ghost"] != domain.AgentPaused {
		t.Fatalf("unexpected agent states: %v", status)
	}
	if _, ok := status["jay"]; ok {
		t.Fatalf("excluded agent listed")
	}
}

func TestEventsCursor(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for _, e := range [][2]string{{"deal.created", "deal"}, {"deal.approved", "deal"}, {"mission.created", "mission"}} {
		if _, err := r.DB.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
			ts, e[0], e[1], "x", "scout", `{}`); err != nil {
			t.Fatal(err)
		}
	}
	last, err := r.LatestEventID(ctx)
	if err != nil || last != 3 {
		t.Fatalf("latest id: %d %v", last, err)
	}
	after, _ := r.EventsAfter(ctx, 10, 1, "")
	if len(after) != 2 || after[0].ID != 2 {
		t.Fatalf("events after: %+v", after)
	}
	latest, _ := r.LatestEvents(ctx, repo.EventFilters{Type: "deal.approved"})
	if len(latest) != 1 || latest[0].Type != "deal.approved" {
		t.Fatalf("filtered events: %+v", latest)
	}
}
