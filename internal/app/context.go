// Package app wires a workspace into a running pipeline: database, engine,
// notifier chain, marketplace client and scout orchestrator.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"scoutline/internal/config"
	"scoutline/internal/db"
	"scoutline/internal/domain"
	"scoutline/internal/engine"
	"scoutline/internal/estimator"
	"scoutline/internal/events"
	"scoutline/internal/ghost"
	"scoutline/internal/ingest"
	"scoutline/internal/logger"
	"scoutline/internal/marketplace"
	"scoutline/internal/metrics"
	"scoutline/internal/migrate"
	"scoutline/internal/notify"
	"scoutline/internal/poll"
	"scoutline/internal/repo"
	"scoutline/internal/server"
)

// App is a fully wired workspace.
type App struct {
	Config      *config.Config
	DB          *sql.DB
	Repo        repo.Repo
	Engine      engine.Engine
	Marketplace *marketplace.Client
	Scout       *ingest.Orchestrator
	Notifier    notify.Notifier
	Metrics     *metrics.Metrics
	Log         *logger.Logger
}

// Open opens and migrates the workspace database and builds every component
// from cfg. Configured operators are recorded in the operators table.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *logger.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, op := range cfg.Auth.Operators {
		if err := r.EnsureOperator(ctx, domain.Operator{ID: op, CreatedAt: now}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("seed operator %s: %w", op, err)
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(metrics.WithProcessMetrics())
	}
	a := &App{Config: cfg, DB: conn, Repo: r, Metrics: m, Log: log}
	a.Notifier = buildNotifier(cfg, r, m, log)

	e := engine.New(conn, cfg)
	e.Notifier = a.Notifier
	e.Metrics = m
	e.Log = log.Component("engine")
	a.Engine = e

	a.Marketplace = marketplace.New(cfg.Marketplace,
		marketplace.WithMetrics(m),
		marketplace.WithLogger(log.Component("marketplace")),
	)
	a.Scout = &ingest.Orchestrator{
		Config: ingest.Config{
			Queries:       cfg.Ingest.Queries,
			QueriesPerRun: cfg.Ingest.QueriesPerRun,
			Pace:          cfg.Ingest.Pace,
			ScoutAgent:    cfg.Ingest.ScoutAgent,
			GhostAgent:    cfg.Ingest.GhostAgent,
		},
		Tokens:    a.Marketplace,
		Searcher:  a.Marketplace,
		Store:     r,
		Deals:     e,
		Estimator: estimator.Estimator{Benchmarks: r, Log: log.Component("estimator")},
		Filter:    ghost.New(cfg.Ghost.Rules()),
		Notifier:  a.Notifier,
		Metrics:   m,
		Log:       log.Component("ingest"),
	}
	return a, nil
}

// buildNotifier logs every alert, adds Telegram when configured and records
// each delivery in the notifications table.
func buildNotifier(cfg *config.Config, r repo.Repo, m *metrics.Metrics, log *logger.Logger) notify.Notifier {
	nlog := log.Component("notify")
	var next notify.Notifier = notify.Logging{Log: nlog}
	channel := "log"
	tg := cfg.Notify.Telegram
	if tg.Token != "" && tg.ChatID != "" {
		next = notify.Multi{
			Notifiers: []notify.Notifier{
				notify.Logging{Log: nlog},
				notify.NewTelegram(notify.TelegramConfig{Token: tg.Token, ChatID: tg.ChatID, APIBase: tg.APIBase}, nlog),
			},
			Log: nlog,
		}
		channel = "telegram"
	}
	return notify.Recording{Next: next, Store: r, Metrics: m, Channel: channel}
}

// Handler builds the HTTP API for this workspace.
func (a *App) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:      a.Engine,
		Scout:       a.Scout,
		BasePath:    a.Config.Server.BasePath,
		Auth:        server.AuthConfig{JWTSecret: a.Config.Auth.JWTSecret, CronSecret: a.Config.Auth.CronSecret},
		Metrics:     a.Metrics,
		MetricsPath: a.Config.Metrics.Path,
		CronWait:    a.PollOptions(),
		Notifier:    a.Notifier,
		Log:         a.Log.Component("http"),
	})
}

// Webhooks returns the dispatcher for the configured subscribers.
func (a *App) Webhooks() server.WebhookDispatcher {
	return server.WebhookDispatcher{
		Feed:     a.Feed(),
		Webhooks: a.Config.Notify.Webhooks,
		Log:      a.Log,
	}
}

// Feed returns the change feed over the event log.
func (a *App) Feed() events.Feed {
	return events.Feed{Source: a.Repo, Interval: time.Second, Log: a.Log.Component("feed")}
}

func (a *App) PollOptions() poll.Options {
	return poll.Options{Interval: a.Config.Poll.Interval, MaxWait: a.Config.Poll.MaxWait}
}

func (a *App) Close() error {
	var errs []error
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.Log != nil {
		errs = append(errs, a.Log.Close())
	}
	return errors.Join(errs...)
}
