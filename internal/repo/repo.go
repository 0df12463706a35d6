package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"scoutline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func marshalMetadata(m domain.Metadata) (any, error) {
	if m.IsZero() {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

// --- missions ---

const missionColumns = `id,agent_id,status,priority,title,COALESCE(description,''),COALESCE(assigned_to,''),metadata_json,created_at,updated_at,completed_at`

func scanMission(s scanner) (domain.Mission, error) {
	var m domain.Mission
	var meta, completed sql.NullString
	err := s.Scan(&m.ID, &m.AgentID, &m.Status, &m.Priority, &m.Title, &m.Description, &m.AssignedTo, &meta, &m.CreatedAt, &m.UpdatedAt, &completed)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
			return m, fmt.Errorf("mission %s metadata: %w", m.ID, err)
		}
	}
	if completed.Valid {
		m.CompletedAt = &completed.String
	}
	return m, nil
}

func (r Repo) InsertMission(ctx context.Context, m domain.Mission) error {
	meta, err := marshalMetadata(m.Metadata)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO missions(id,agent_id,status,priority,title,description,assigned_to,metadata_json,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.AgentID, m.Status, m.Priority, m.Title, nullable(m.Description), nullable(m.AssignedTo), meta,
		m.CreatedAt, m.UpdatedAt, nullableStringPtr(m.CompletedAt))
	return err
}

func (r Repo) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	return scanMission(r.DB.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id=?`, id))
}

// DeleteMission removes a mission and, through the foreign key, its deal.
// Deleting a missing mission is not an error.
func (r Repo) DeleteMission(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM missions WHERE id=?`, id)
	return err
}

// MissionUpdate describes a mission status change. Metadata, when set, is
// stored as-is, so callers merge before writing.
type MissionUpdate struct {
	Status      string
	CompletedAt *string
	Metadata    *domain.Metadata
	UpdatedAt   string
}

func (r Repo) UpdateMission(ctx context.Context, id string, u MissionUpdate) error {
	fields := []string{"status=?", "updated_at=?"}
	args := []any{u.Status, u.UpdatedAt}
	if u.CompletedAt != nil {
		fields = append(fields, "completed_at=?")
		args = append(args, *u.CompletedAt)
	}
	if u.Metadata != nil {
		meta, err := marshalMetadata(*u.Metadata)
		if err != nil {
			return err
		}
		fields = append(fields, "metadata_json=?")
		args = append(args, meta)
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE missions SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type MissionFilters struct {
	AssignedTo      string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListMissions(ctx context.Context, f MissionFilters) ([]domain.Mission, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + missionColumns + ` FROM missions WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// OpenEscalationExists reports whether a non-terminal review mission already
// points at the deal.
func (r Repo) OpenEscalationExists(ctx context.Context, parentDealID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM missions
WHERE json_extract(metadata_json,'$.parent_deal_id')=? AND status NOT IN ('done','rejected') LIMIT 1`, parentDealID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// --- deals ---

const dealColumns = `d.id,d.mission_id,d.platform,d.item_url,d.title,d.price,d.shipping_cost,d.estimated_value,d.roi_percent,d.item_type,
COALESCE(d.model,''),COALESCE(d.condition,''),COALESCE(d.location,''),d.is_local_pickup,d.distance_miles,COALESCE(d.seller_name,''),
d.seller_rating,d.seller_feedback_count,d.auction_ends_at,d.status,d.rejection_reason,d.decision_made_at,d.created_at,d.updated_at`

func scanDeal(s scanner, extra ...any) (domain.Deal, error) {
	var d domain.Deal
	var (
		distance, rating         sql.NullFloat64
		feedback                 sql.NullInt64
		endsAt, reason, decision sql.NullString
		local                    int
	)
	dest := []any{&d.ID, &d.MissionID, &d.Platform, &d.ItemURL, &d.Title, &d.Price, &d.ShippingCost, &d.EstimatedValue, &d.ROIPercent, &d.ItemType,
		&d.Model, &d.Condition, &d.Location, &local, &distance, &d.SellerName,
		&rating, &feedback, &endsAt, &d.Status, &reason, &decision, &d.CreatedAt, &d.UpdatedAt}
	err := s.Scan(append(dest, extra...)...)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.IsLocalPickup = local != 0
	if distance.Valid {
		d.DistanceMiles = &distance.Float64
	}
	if rating.Valid {
		d.SellerRating = &rating.Float64
	}
	if feedback.Valid {
		n := int(feedback.Int64)
		d.SellerFeedbackCount = &n
	}
	if endsAt.Valid {
		d.AuctionEndsAt = &endsAt.String
	}
	if reason.Valid {
		d.RejectionReason = &reason.String
	}
	if decision.Valid {
		d.DecisionMadeAt = &decision.String
	}
	d.Derive()
	return d, nil
}

func (r Repo) InsertDeal(ctx context.Context, d domain.Deal) error {
	local := 0
	if d.IsLocalPickup {
		local = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO deals(id,mission_id,platform,item_url,title,price,shipping_cost,estimated_value,roi_percent,item_type,
model,condition,location,is_local_pickup,distance_miles,seller_name,seller_rating,seller_feedback_count,auction_ends_at,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.MissionID, d.Platform, d.ItemURL, d.Title, d.Price, d.ShippingCost, d.EstimatedValue, d.ROIPercent, d.ItemType,
		nullable(d.Model), nullable(d.Condition), nullable(d.Location), local, nullableFloatPtr(d.DistanceMiles), nullable(d.SellerName),
		nullableFloatPtr(d.SellerRating), nullableIntPtr(d.SellerFeedbackCount), nullableStringPtr(d.AuctionEndsAt), d.Status, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDeal(ctx context.Context, id string) (domain.Deal, error) {
	return scanDeal(r.DB.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals d WHERE d.id=?`, id))
}

// GetDealView returns the deal with its mission state and display status.
func (r Repo) GetDealView(ctx context.Context, id string) (domain.DealView, error) {
	return scanDealView(r.DB.QueryRowContext(ctx, `SELECT `+dealColumns+`,m.status,m.priority FROM deals d JOIN missions m ON m.id=d.mission_id WHERE d.id=?`, id))
}

func scanDealView(s scanner) (domain.DealView, error) {
	var v domain.DealView
	d, err := scanDeal(s, &v.MissionStatus, &v.Priority)
	if err != nil {
		return v, err
	}
	v.Deal = d
	v.DisplayStatus = domain.DisplayStatus(d.Status, v.MissionStatus)
	return v, nil
}

// DealExistsByURL reports whether a deal for the listing URL was already
// recorded. An empty URL never matches.
func (r Repo) DealExistsByURL(ctx context.Context, url string) (bool, error) {
	if strings.TrimSpace(url) == "" {
		return false, nil
	}
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM deals WHERE item_url=? LIMIT 1`, url).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// DealTransition is a guarded status change applied only to pending deals.
type DealTransition struct {
	Status          string
	RejectionReason *string
	At              string
}

// TransitionDeal moves a pending deal to t.Status. It reports false when no
// row was pending; the caller decides between not found and already actioned.
func (r Repo) TransitionDeal(ctx context.Context, id string, t DealTransition) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE deals SET status=?, rejection_reason=?, decision_made_at=?, updated_at=? WHERE id=? AND status='pending'`,
		t.Status, nullableStringPtr(t.RejectionReason), t.At, t.At, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type DealFilters struct {
	Status          string
	IncludeRejected bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListDeals returns deals newest first.
func (r Repo) ListDeals(ctx context.Context, f DealFilters) ([]domain.DealView, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "d.status=?")
		args = append(args, f.Status)
	} else if !f.IncludeRejected {
		clauses = append(clauses, "d.status<>'rejected'")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(d.created_at < ? OR (d.created_at = ? AND d.id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + dealColumns + `,m.status,m.priority FROM deals d JOIN missions m ON m.id=d.mission_id WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY d.created_at DESC, d.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DealView
	for rows.Next() {
		v, err := scanDealView(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// --- trends ---

func (r Repo) InsertTrend(ctx context.Context, t domain.TrendRecord) error {
	var meta any
	if len(t.Metadata) > 0 {
		data, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("marshal trend metadata: %w", err)
		}
		meta = string(data)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO scout_trends(item_type,model,avg_price,avg_value,pass_reason,platform,metadata_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ItemType, nullable(t.Model), t.AvgPrice, t.AvgValue, t.PassReason, t.Platform, meta, t.CreatedAt)
	return err
}

func (r Repo) ListTrends(ctx context.Context, limit int) ([]domain.TrendRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,item_type,COALESCE(model,''),avg_price,avg_value,pass_reason,platform,metadata_json,created_at
FROM scout_trends ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TrendRecord
	for rows.Next() {
		var t domain.TrendRecord
		var meta sql.NullString
		if err := rows.Scan(&t.ID, &t.ItemType, &t.Model, &t.AvgPrice, &t.AvgValue, &t.PassReason, &t.Platform, &meta, &t.CreatedAt); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &t.Metadata)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- audit ---

func (r Repo) InsertAudit(ctx context.Context, a domain.AuditEntry) error {
	var details any
	if len(a.Details) > 0 {
		data, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = string(data)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO audit_log(id,deal_id,mission_id,action,source,performed_by,details_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.DealID, a.MissionID, a.Action, a.Source, a.PerformedBy, details, a.CreatedAt)
	return err
}

// ListAudit returns audit entries oldest first, optionally for one deal.
func (r Repo) ListAudit(ctx context.Context, dealID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,deal_id,mission_id,action,source,performed_by,details_json,created_at FROM audit_log`
	var args []any
	if dealID != "" {
		query += ` WHERE deal_id=?`
		args = append(args, dealID)
	}
	query += ` ORDER BY created_at ASC, rowid ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var a domain.AuditEntry
		var details sql.NullString
		if err := rows.Scan(&a.ID, &a.DealID, &a.MissionID, &a.Action, &a.Source, &a.PerformedBy, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		if details.Valid && details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &a.Details)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- benchmarks ---

func (r Repo) UpsertBenchmark(ctx context.Context, b domain.Benchmark) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO price_benchmarks(model,item_type,avg_sold_price,updated_at) VALUES (?,?,?,?)
ON CONFLICT(model,item_type) DO UPDATE SET avg_sold_price=excluded.avg_sold_price, updated_at=excluded.updated_at`,
		b.Model, b.ItemType, b.AvgSoldPrice, b.UpdatedAt)
	return err
}

func (r Repo) ListBenchmarks(ctx context.Context) ([]domain.Benchmark, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT model,item_type,avg_sold_price,updated_at FROM price_benchmarks ORDER BY model ASC, item_type ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Benchmark
	for rows.Next() {
		var b domain.Benchmark
		if err := rows.Scan(&b.Model, &b.ItemType, &b.AvgSoldPrice, &b.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// Benchmark looks up the average sold price for a normalized model.
func (r Repo) Benchmark(ctx context.Context, model, itemType string) (decimal.Decimal, bool, error) {
	var price float64
	err := r.DB.QueryRowContext(ctx, `SELECT avg_sold_price FROM price_benchmarks WHERE model=? AND item_type=?`, model, itemType).Scan(&price)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return decimal.NewFromFloat(price), true, nil
}

// --- events ---

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	Cursor     int64
	Limit      int
}

// LatestEvents returns events newest first, starting below f.Cursor.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, f.Limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, entityKind string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
