// Package ingest runs scout cycles: search the marketplace, filter listings
// and turn the survivors into deals.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"scoutline/internal/apperror"
	"scoutline/internal/domain"
	"scoutline/internal/engine"
	"scoutline/internal/estimator"
	"scoutline/internal/ghost"
	"scoutline/internal/logger"
	"scoutline/internal/marketplace"
	"scoutline/internal/metrics"
	"scoutline/internal/notify"
)

// ErrRunInProgress is returned when a cycle is already running in this process.
var ErrRunInProgress = apperror.New(apperror.CodeRunInProgress)

// Store is the persistence the orchestrator needs besides the deal writer.
type Store interface {
	DealExistsByURL(ctx context.Context, url string) (bool, error)
	InsertTrend(ctx context.Context, t domain.TrendRecord) error
	Heartbeat(ctx context.Context, agentID, status, now string) error
	InsertActivity(ctx context.Context, a domain.AgentActivity) error
}

type DealWriter interface {
	CreateDeal(ctx context.Context, opts engine.DealCreateOptions) (engine.DealCreated, error)
}

type Config struct {
	Queries       []string
	QueriesPerRun int
	Pace          time.Duration
	ScoutAgent    string
	GhostAgent    string
	Platform      string
}

type Orchestrator struct {
	Config    Config
	Tokens    marketplace.TokenSource
	Searcher  marketplace.Searcher
	Store     Store
	Deals     DealWriter
	Estimator estimator.Estimator
	Filter    ghost.Filter
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Log       *logger.Logger
	Now       func() time.Time

	running sync.Mutex
}

type RunOptions struct {
	// Queries overrides the rotated configured queries.
	Queries []string
}

type Summary struct {
	RunID    string    `json:"run_id"`
	Queries  []string  `json:"queries"`
	Approved int       `json:"approved"`
	Passed   int       `json:"passed"`
	Tracked  int       `json:"tracked"`
	Errors   int       `json:"errors"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Run executes one cycle. A second call while a cycle is running returns
// ErrRunInProgress. Per-term and per-listing failures are counted, not
// returned; only a fatal failure (no marketplace token) is an error.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	if !o.running.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer o.running.Unlock()

	sum := Summary{RunID: uuid.NewString(), Started: o.now()}
	sum.Queries = opts.Queries
	if len(sum.Queries) == 0 {
		sum.Queries = RotateQueries(o.Config.Queries, sum.Started.UTC().Hour(), o.Config.QueriesPerRun)
	}
	log := o.log().WithFields(logger.Fields{logger.FieldRunID: sum.RunID, logger.FieldCount: len(sum.Queries)})
	log.Info("scout cycle starting")

	o.heartbeat(ctx, log, domain.AgentActive)
	defer o.heartbeat(context.WithoutCancel(ctx), log, domain.AgentIdle)

	token, err := o.Tokens.Token(ctx)
	if err != nil {
		return o.fail(ctx, log, sum, fmt.Errorf("marketplace token: %w", err))
	}

	pacer := rate.NewLimiter(rate.Every(o.pace()), 1)
	for _, query := range sum.Queries {
		if err := pacer.Wait(ctx); err != nil {
			return o.fail(ctx, log, sum, err)
		}
		qlog := log.WithField(logger.FieldQuery, query)
		listings, err := o.Searcher.Search(ctx, token, query)
		if err != nil {
			sum.Errors++
			o.Metrics.Listing("search_error")
			qlog.WithError(err).Warn("search failed")
			continue
		}
		qlog.WithField(logger.FieldCount, len(listings)).Info("search results")
		for _, l := range listings {
			if err := o.process(ctx, qlog, l, &sum); err != nil {
				sum.Errors++
				o.Metrics.Listing("error")
				qlog.WithError(err).WithField(logger.FieldURL, l.URL).Warn("listing failed")
			}
		}
	}

	sum.Finished = o.now()
	o.notify(ctx, log, notify.FormatRunSummary(notify.RunSummary{
		Approved: sum.Approved, Passed: sum.Passed, Tracked: sum.Tracked, Errors: sum.Errors,
	}))
	severity := domain.SeverityInfo
	if sum.Errors > 0 {
		severity = domain.SeverityWarning
	}
	o.activity(ctx, log, "scan_complete",
		fmt.Sprintf("Cycle done: %d approved, %d passed, %d tracked, %d errors", sum.Approved, sum.Passed, sum.Tracked, sum.Errors), severity)
	o.Metrics.Run("ok", sum.Finished.Sub(sum.Started))
	log.WithFields(logger.Fields{
		"approved":             sum.Approved,
		"passed":               sum.Passed,
		"tracked":              sum.Tracked,
		"errors":               sum.Errors,
		logger.FieldDurationMs: sum.Finished.Sub(sum.Started).Milliseconds(),
	}).Info("scout cycle complete")
	return sum, nil
}

func (o *Orchestrator) process(ctx context.Context, log *logger.Logger, l domain.Listing, sum *Summary) error {
	if l.Currency != "" && l.Currency != "USD" {
		sum.Passed++
		o.Metrics.Listing("currency")
		return nil
	}
	dup, err := o.Store.DealExistsByURL(ctx, l.URL)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if dup {
		sum.Tracked++
		o.Metrics.Listing("tracked")
		return nil
	}

	est := o.Estimator.Estimate(ctx, l.Title)
	verdict := o.Filter.Evaluate(l, est.Value)
	if !verdict.Pass {
		if err := o.trend(ctx, l, est, verdict); err != nil {
			return err
		}
		sum.Passed++
		o.Metrics.Listing("passed")
		return nil
	}

	created, err := o.Deals.CreateDeal(ctx, engine.DealCreateOptions{
		Listing:        l,
		Platform:       o.platform(),
		Model:          est.Model,
		ItemType:       verdict.ItemType,
		EstimatedValue: est.Value,
		ROI:            verdict.ROI(),
		Profit:         verdict.Fees.Profit,
	})
	if errors.Is(err, engine.ErrRollbackFailed) {
		o.orphan(ctx, log, l, err)
	}
	if errors.Is(err, engine.ErrDuplicateDeal) && !errors.Is(err, engine.ErrRollbackFailed) {
		sum.Tracked++
		o.Metrics.Listing("tracked")
		return nil
	}
	if err != nil {
		return err
	}
	rounded := verdict.Fees.Rounded()
	o.notify(ctx, log, notify.FormatDealAlert(notify.DealAlert{
		MissionID:      created.Mission.ID,
		Title:          l.Title,
		URL:            l.URL,
		Price:          l.Price,
		Shipping:       l.ShippingCost,
		EstimatedValue: est.Value,
		ROI:            rounded.ROI,
		Profit:         rounded.Profit,
		SellerName:     l.SellerName,
		SellerRating:   l.SellerRating,
		City:           l.City,
		HoursLeft:      l.HoursLeft(o.now()),
	}))
	sum.Approved++
	o.Metrics.Listing("approved")
	return nil
}

// orphan surfaces a mission the deal writer could not remove after a failed
// deal insert.
func (o *Orchestrator) orphan(ctx context.Context, log *logger.Logger, l domain.Listing, err error) {
	missionID := "unknown"
	var rb *engine.RollbackError
	if errors.As(err, &rb) {
		missionID = rb.MissionID
	}
	bg := context.WithoutCancel(ctx)
	log.WithError(err).WithField(logger.FieldMissionID, missionID).Error("orphan mission left behind")
	o.notify(bg, log, notify.FormatRollbackFailure(missionID, l.URL, err))
	o.activity(bg, log, "rollback_failed", fmt.Sprintf("Orphan mission %s: %v", missionID, err), domain.SeverityError)
	o.Metrics.Listing("rollback_failed")
}

func (o *Orchestrator) trend(ctx context.Context, l domain.Listing, est estimator.Estimate, v ghost.Verdict) error {
	meta := map[string]any{
		"url":           l.URL,
		"seller_rating": l.SellerRating,
		"roi":           nil,
	}
	if v.Reason == ghost.ReasonROIBelowMinimum || v.Reason == ghost.ReasonNonElectronicsLowROI {
		meta["roi"] = v.ROI().Round(2).InexactFloat64()
	}
	err := o.Store.InsertTrend(ctx, domain.TrendRecord{
		ItemType:   v.ItemType,
		Model:      est.Model,
		AvgPrice:   l.Price.Add(l.ShippingCost).Round(2).InexactFloat64(),
		AvgValue:   est.Value.Round(2).InexactFloat64(),
		PassReason: string(v.Reason),
		Platform:   o.platform(),
		Metadata:   meta,
		CreatedAt:  o.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("insert trend: %w", err)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, log *logger.Logger, sum Summary, err error) (Summary, error) {
	sum.Finished = o.now()
	log.WithError(err).Error("scout cycle failed")
	bg := context.WithoutCancel(ctx)
	o.notify(bg, log, notify.FormatRunFailure(err))
	o.activity(bg, log, "error", "Fatal: "+err.Error(), domain.SeverityError)
	o.Metrics.Run("failed", sum.Finished.Sub(sum.Started))
	return sum, err
}

func (o *Orchestrator) heartbeat(ctx context.Context, log *logger.Logger, status string) {
	ts := o.now().UTC().Format(time.RFC3339)
	for _, agent := range []string{o.scoutAgent(), o.Config.GhostAgent} {
		if agent == "" {
			continue
		}
		if err := o.Store.Heartbeat(ctx, agent, status, ts); err != nil {
			log.WithError(err).WithField("agent", agent).Warn("heartbeat failed")
		}
	}
}

func (o *Orchestrator) activity(ctx context.Context, log *logger.Logger, action, details, severity string) {
	err := o.Store.InsertActivity(ctx, domain.AgentActivity{
		AgentID:   o.scoutAgent(),
		Action:    action,
		Details:   details,
		Severity:  severity,
		CreatedAt: o.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.WithError(err).Warn("activity append failed")
	}
}

func (o *Orchestrator) notify(ctx context.Context, log *logger.Logger, msg notify.Message) {
	if o.Notifier == nil {
		return
	}
	if err := o.Notifier.Notify(ctx, msg); err != nil {
		log.WithError(err).WithField(logger.FieldMissionID, msg.MissionID).Warn("notification failed")
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) log() *logger.Logger {
	if o.Log != nil {
		return o.Log
	}
	return logger.Nop()
}

func (o *Orchestrator) pace() time.Duration {
	if o.Config.Pace > 0 {
		return o.Config.Pace
	}
	return time.Second
}

func (o *Orchestrator) scoutAgent() string {
	if o.Config.ScoutAgent != "" {
		return o.Config.ScoutAgent
	}
	return "scout"
}

func (o *Orchestrator) platform() string {
	if o.Config.Platform != "" {
		return o.Config.Platform
	}
	return "eBay"
}
