// Package scoutlinesdk is a small client for the Scoutline HTTP API, meant for
// front-ends (chat bots, dashboards) that relay operator decisions.
package scoutlinesdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to one Scoutline server.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// Source is sent as X-Scoutline-Source and ends up in the audit log.
	Source  string
	Timeout time.Duration

	http *resty.Client
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Outcomes of lifecycle commands.
const (
	OutcomeSuccess         = "success"
	OutcomeAlreadyActioned = "already_actioned"
	OutcomeNotFound        = "not_found"
)

// Deal is the API deal model (partial).
type Deal struct {
	ID              string  `json:"id"`
	MissionID       string  `json:"mission_id"`
	Title           string  `json:"title"`
	ItemURL         string  `json:"item_url"`
	Price           float64 `json:"price"`
	EstimatedValue  float64 `json:"estimated_value"`
	ROIPercent      float64 `json:"roi_percent"`
	Profit          float64 `json:"profit"`
	Status          string  `json:"status"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	Priority        string  `json:"priority,omitempty"`
	DisplayStatus   string  `json:"display_status,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// Mission is the API mission model (partial).
type Mission struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Status     string         `json:"status"`
	Priority   string         `json:"priority"`
	Title      string         `json:"title"`
	AssignedTo string         `json:"assigned_to,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Transition is the result of approve, reject or escalate. A lost race or an
// unknown deal is reported through Outcome, not as an error.
type Transition struct {
	Outcome string   `json:"outcome"`
	Deal    *Deal    `json:"deal,omitempty"`
	Mission *Mission `json:"mission,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// ScoutRun is the cron trigger response.
type ScoutRun struct {
	Success   bool   `json:"success"`
	RunID     string `json:"run_id"`
	Approved  int    `json:"approved"`
	Passed    int    `json:"passed"`
	Tracked   int    `json:"tracked"`
	Errors    int    `json:"errors"`
	Timestamp string `json:"timestamp"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// DealList is one page of deals.
type DealList = page[Deal]

// EventList is one page of events.
type EventList = page[Event]

// ListDeals returns a page of deals. status may be empty.
func (c *Client) ListDeals(ctx context.Context, status string, limit int, cursor string) (DealList, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	setPaging(q, limit, cursor)
	var resp DealList
	err := c.do(ctx, http.MethodGet, "deals", q, nil, &resp)
	return resp, err
}

// GetDeal fetches one deal.
func (c *Client) GetDeal(ctx context.Context, id string) (Deal, error) {
	var resp Deal
	err := c.do(ctx, http.MethodGet, "deals/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

// Approve approves a pending deal.
func (c *Client) Approve(ctx context.Context, dealID string) (Transition, error) {
	return c.transition(ctx, dealID, "approve", nil)
}

// Reject rejects a pending deal. An empty reason is stored as the server default.
func (c *Client) Reject(ctx context.Context, dealID, reason string) (Transition, error) {
	return c.transition(ctx, dealID, "reject", map[string]any{"reason": reason})
}

// Escalate asks the reviewer agent to look at a deal.
func (c *Client) Escalate(ctx context.Context, dealID, note string, dedupe bool) (Transition, error) {
	return c.transition(ctx, dealID, "escalate", map[string]any{"note": note, "dedupe": dedupe})
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, eventType string, limit int, cursor string) (EventList, error) {
	q := url.Values{}
	if eventType != "" {
		q.Set("type", eventType)
	}
	setPaging(q, limit, cursor)
	var resp EventList
	err := c.do(ctx, http.MethodGet, "events", q, nil, &resp)
	return resp, err
}

// TriggerScout calls the cron endpoint with the shared secret.
func (c *Client) TriggerScout(ctx context.Context, cronSecret string, wait bool) (ScoutRun, error) {
	req := c.client().R().
		SetContext(ctx).
		SetAuthToken(cronSecret).
		SetResult(&ScoutRun{})
	if wait {
		req.SetQueryParam("wait", "true")
	}
	res, err := req.Post(c.endpoint("cron/scout"))
	if err != nil {
		return ScoutRun{}, err
	}
	if res.IsError() {
		return ScoutRun{}, &APIError{StatusCode: res.StatusCode(), Body: res.String()}
	}
	return *res.Result().(*ScoutRun), nil
}

func (c *Client) transition(ctx context.Context, dealID, action string, body any) (Transition, error) {
	var out Transition
	req := c.request(ctx).SetResult(&out).SetError(&out)
	if body != nil {
		req.SetBody(body)
	}
	res, err := req.Post(c.endpoint("deals/" + url.PathEscape(dealID) + "/" + action))
	if err != nil {
		return Transition{}, err
	}
	switch res.StatusCode() {
	case http.StatusOK, http.StatusConflict, http.StatusNotFound:
		if out.Outcome != "" {
			return out, nil
		}
	}
	if res.IsError() {
		return Transition{}, &APIError{StatusCode: res.StatusCode(), Body: res.String()}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any, out any) error {
	req := c.request(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	res, err := req.Execute(method, c.endpoint(endpoint))
	if err != nil {
		return err
	}
	if res.IsError() {
		return &APIError{StatusCode: res.StatusCode(), Body: res.String()}
	}
	return nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.client().R().SetContext(ctx)
	switch {
	case c.BearerToken != "":
		req.SetAuthToken(c.BearerToken)
	case c.APIKey != "":
		req.SetHeader("X-Api-Key", c.APIKey)
	}
	if c.Source != "" {
		req.SetHeader("X-Scoutline-Source", c.Source)
	}
	return req
}

func (c *Client) client() *resty.Client {
	if c.http == nil {
		c.http = resty.New().
			SetTimeout(c.Timeout).
			SetHeader("Content-Type", "application/json")
	}
	return c.http
}

func (c *Client) endpoint(p string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	prefix := strings.Trim(c.BasePath, "/")
	if prefix != "" {
		base += "/" + prefix
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func setPaging(q url.Values, limit int, cursor string) {
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
}
