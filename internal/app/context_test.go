package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"scoutline/internal/config"
	"scoutline/internal/db"
	"scoutline/internal/engine"
)

func openTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("workspace: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	if mutate != nil {
		mutate(cfg)
	}
	a, err := Open(context.Background(), dir, cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpenSeedsOperators(t *testing.T) {
	a := openTestApp(t, func(c *config.Config) {
		c.Auth.Operators = []string{"shuki", "dana"}
	})
	ctx := context.Background()
	for _, op := range []string{"shuki", "dana"} {
		ok, err := a.Repo.IsOperator(ctx, op)
		if err != nil || !ok {
			t.Fatalf("operator %s not seeded: %v %v", op, ok, err)
		}
	}
	if ok, err := a.Repo.IsOperator(ctx, "scout"); err != nil || ok {
		t.Fatalf("scout must not be an operator: %v %v", ok, err)
	}
}

func TestOpenWiresScoutAndEngine(t *testing.T) {
	a := openTestApp(t, nil)
	if a.Scout == nil || a.Marketplace == nil {
		t.Fatalf("scout or marketplace not wired")
	}
	if a.Metrics == nil {
		t.Fatalf("metrics enabled by default config")
	}
	res, err := a.Engine.Approve(context.Background(), engine.AuthContext{ActorID: "shuki"}, "missing")
	if err != nil || res.Outcome != engine.OutcomeNotFound {
		t.Fatalf("approve missing: %v %+v", err, res)
	}
}

func TestHandlerServesHealth(t *testing.T) {
	a := openTestApp(t, func(c *config.Config) { c.Metrics.Enabled = false })
	if a.Metrics != nil {
		t.Fatalf("metrics should be disabled")
	}
	h, err := a.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/deals", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("deals without auth status %d, want 401", rec.Code)
	}
}

func TestBuildNotifierChannel(t *testing.T) {
	a := openTestApp(t, func(c *config.Config) {
		c.Notify.Telegram.Token = "t"
		c.Notify.Telegram.ChatID = "1"
	})
	if a.Notifier == nil {
		t.Fatalf("notifier not built")
	}
	if a.PollOptions().Interval != a.Config.Poll.Interval {
		t.Fatalf("poll options not taken from config")
	}
}
