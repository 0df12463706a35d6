package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/time/rate"

	"scoutline/internal/ingest"
	"scoutline/internal/logger"
	"scoutline/internal/notify"
	"scoutline/internal/poll"
)

type cronInput struct {
	Authorization string `header:"Authorization"`
	Wait          bool   `query:"wait" doc:"Retry while another cycle is running instead of answering 409."`
}

type cronOutput struct {
	Body CronResponse `json:"body"`
}

func registerCron(api huma.API, cfg Config) {
	secret := strings.TrimSpace(cfg.Auth.CronSecret)
	log := cfg.Log.Component("cron")
	every := cfg.AlertEvery
	if every <= 0 {
		every = time.Hour
	}
	alerts := rate.NewLimiter(rate.Every(every), 1)
	handler := func(ctx context.Context, input *cronInput) (*cronOutput, error) {
		if secret == "" {
			log.Error("cron trigger refused: cron secret not configured")
			if cfg.Notifier != nil && alerts.Allow() {
				msg := notify.FormatConfigError("cron trigger refused because SCOUTLINE_CRON_SECRET is not set; scheduled scout cycles are not running")
				if err := cfg.Notifier.Notify(context.WithoutCancel(ctx), msg); err != nil {
					log.WithError(err).Warn("configuration alert failed")
				}
			}
			return nil, newAPIError(http.StatusInternalServerError, "misconfigured", "cron secret not configured", nil)
		}
		token, ok := bearerToken(input.Authorization)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid cron secret", nil)
		}
		if cfg.Scout == nil {
			return nil, newAPIError(http.StatusInternalServerError, "misconfigured", "scout runner not configured", nil)
		}
		sum, err := runScout(ctx, cfg, input.Wait)
		if err != nil {
			if errors.Is(err, ingest.ErrRunInProgress) {
				return nil, newAPIError(http.StatusConflict, "run_in_progress", "a scout cycle is already running", nil)
			}
			log.WithError(err).Error("scout cycle failed")
			return nil, handleError(err)
		}
		log.WithFields(logger.Fields{logger.FieldRunID: sum.RunID, "approved": sum.Approved}).Info("cron cycle finished")
		return &cronOutput{Body: CronResponse{
			Success:   true,
			RunID:     sum.RunID,
			Queries:   len(sum.Queries),
			Approved:  sum.Approved,
			Passed:    sum.Passed,
			Tracked:   sum.Tracked,
			Errors:    sum.Errors,
			Timestamp: sum.Finished.UTC().Format(time.RFC3339),
		}}, nil
	}
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		huma.Register(api, huma.Operation{
			OperationID: "cron-scout-" + strings.ToLower(method),
			Method:      method,
			Path:        "/cron/scout",
			Summary:     "Trigger a scout cycle",
			Description: "Requires Authorization: Bearer <cron secret>. Refuses every call when no secret is configured.",
			Errors:      []int{http.StatusUnauthorized, http.StatusConflict, http.StatusInternalServerError, http.StatusBadGateway},
		}, handler)
	}
}

// runScout runs one cycle. The cycle itself is detached from the request so a
// scheduler that hangs up does not abort it halfway.
func runScout(ctx context.Context, cfg Config, wait bool) (ingest.Summary, error) {
	runCtx := context.WithoutCancel(ctx)
	if !wait {
		return cfg.Scout.Run(runCtx, ingest.RunOptions{})
	}
	var (
		sum    ingest.Summary
		runErr error
	)
	res, err := poll.Until(ctx, cfg.CronWait, func(context.Context) (bool, error) {
		sum, runErr = cfg.Scout.Run(runCtx, ingest.RunOptions{})
		return !errors.Is(runErr, ingest.ErrRunInProgress), nil
	})
	if err != nil {
		return ingest.Summary{}, err
	}
	if res.TimedOut {
		return ingest.Summary{}, ingest.ErrRunInProgress
	}
	return sum, runErr
}
