package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"scoutline/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	var actions any
	if len(n.Actions) > 0 {
		data, err := json.Marshal(n.Actions)
		if err != nil {
			return err
		}
		actions = string(data)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id, mission_id, message, priority, actions_json, status, error, created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, nullable(n.MissionID), n.Message, n.Priority, actions, n.Status, nullable(n.Error), n.CreatedAt)
	return err
}

// ListNotifications returns the newest notifications, optionally for one mission.
func (r Repo) ListNotifications(ctx context.Context, missionID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, COALESCE(mission_id,''), message, priority, actions_json, status, COALESCE(error,''), created_at FROM notifications`
	var args []any
	if missionID != "" {
		query += ` WHERE mission_id=?`
		args = append(args, missionID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var actions sql.NullString
		if err := rows.Scan(&n.ID, &n.MissionID, &n.Message, &n.Priority, &actions, &n.Status, &n.Error, &n.CreatedAt); err != nil {
			return nil, err
		}
		if actions.Valid && actions.String != "" {
			_ = json.Unmarshal([]byte(actions.String), &n.Actions)
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
