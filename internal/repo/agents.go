package repo

import (
	"context"
	"database/sql"

	"scoutline/internal/domain"
)

// Heartbeat records an agent's status, registering the agent on first sight.
func (r Repo) Heartbeat(ctx context.Context, agentID, status, now string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agents(id, name, status, last_heartbeat) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET status=excluded.status, last_heartbeat=excluded.last_heartbeat`,
		agentID, agentID, status, now)
	return err
}

func scanAgent(s scanner) (domain.Agent, error) {
	var a domain.Agent
	var hb sql.NullString
	if err := s.Scan(&a.ID, &a.Name, &a.Role, &a.Status, &hb); err != nil {
		if err == sql.ErrNoRows {
			return a, ErrNotFound
		}
		return a, err
	}
	if hb.Valid {
		a.LastHeartbeat = &hb.String
	} else {
		// Never checked in.
		a.Status = domain.AgentPaused
	}
	return a, nil
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return scanAgent(r.DB.QueryRowContext(ctx, `SELECT id, name, COALESCE(role,''), status, last_heartbeat FROM agents WHERE id=?`, id))
}

// ListAgents returns registered agents except the ones named in exclude.
func (r Repo) ListAgents(ctx context.Context, exclude ...string) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, COALESCE(role,''), status, last_heartbeat FROM agents ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		if _, ok := skip[a.ID]; ok {
			continue
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertActivity(ctx context.Context, a domain.AgentActivity) error {
	severity := a.Severity
	if severity == "" {
		severity = domain.SeverityInfo
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agent_activity(agent_id, action, details, severity, created_at) VALUES (?,?,?,?,?)`,
		a.AgentID, a.Action, nullable(a.Details), severity, a.CreatedAt)
	return err
}

// ListActivity returns the newest activity rows, optionally for one agent.
func (r Repo) ListActivity(ctx context.Context, agentID string, limit int) ([]domain.AgentActivity, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, agent_id, action, COALESCE(details,''), severity, created_at FROM agent_activity`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id=?`
		args = append(args, agentID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgentActivity
	for rows.Next() {
		var a domain.AgentActivity
		if err := rows.Scan(&a.ID, &a.AgentID, &a.Action, &a.Details, &a.Severity, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
