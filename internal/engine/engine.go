package engine

import (
	"context"
	"database/sql"
	"time"

	"scoutline/internal/config"
	"scoutline/internal/engine/auth"
	"scoutline/internal/events"
	"scoutline/internal/logger"
	"scoutline/internal/metrics"
	"scoutline/internal/notify"
	"scoutline/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Store    DealStore
	Events   events.Writer
	Auth     auth.Service
	Config   *config.Config
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Log      *logger.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	e := Engine{
		DB:     db,
		Repo:   r,
		Store:  r,
		Events: events.Writer{DB: db},
		Config: cfg,
		Log:    logger.Nop(),
		Now:    time.Now,
	}
	e.Auth = auth.Service{Store: r}
	if cfg != nil {
		e.Auth.Operators = cfg.Auth.Operators
		e.Auth.Agents = []string{cfg.Ingest.ScoutAgent, cfg.Ingest.GhostAgent, cfg.Escalation.Reviewer}
	}
	return e
}

// AuthContext identifies who issued a command and through which front-end.
type AuthContext struct {
	ActorID string
	Source  string
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *logger.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logger.Nop()
}

func (e Engine) store() DealStore {
	if e.Store != nil {
		return e.Store
	}
	return e.Repo
}

func (e Engine) reviewer() string {
	if e.Config != nil && e.Config.Escalation.Reviewer != "" {
		return e.Config.Escalation.Reviewer
	}
	return "jay"
}

func (e Engine) scoutAgent() string {
	if e.Config != nil && e.Config.Ingest.ScoutAgent != "" {
		return e.Config.Ingest.ScoutAgent
	}
	return "scout"
}

// operator is the human new deals are assigned to.
func (e Engine) operator() string {
	if e.Config != nil && len(e.Config.Auth.Operators) > 0 {
		return e.Config.Auth.Operators[0]
	}
	return "shuki"
}

// notify is best-effort: failures are logged and never change the outcome.
func (e Engine) notify(ctx context.Context, msg notify.Message) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(ctx, msg); err != nil {
		e.log().WithError(err).WithField(logger.FieldMissionID, msg.MissionID).Warn("notification failed")
	}
}

// appendEvent records a change-feed event; a failure is logged only.
func (e Engine) appendEvent(ctx context.Context, evtType, kind, id, actorID string, payload events.EventPayload) {
	if e.Events.DB == nil {
		return
	}
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if err := w.Append(ctx, evtType, kind, id, actorID, payload); err != nil {
		e.log().WithError(err).WithField("event", evtType).Warn("append event failed")
	}
}
