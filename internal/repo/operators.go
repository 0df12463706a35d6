package repo

import (
	"context"
	"database/sql"

	"scoutline/internal/domain"
)

// EnsureOperator registers an operator id; existing rows are left untouched.
func (r Repo) EnsureOperator(ctx context.Context, op domain.Operator) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO operators(id, display_name, created_at) VALUES (?,?,?)`,
		op.ID, nullable(op.DisplayName), op.CreatedAt)
	return err
}

func (r Repo) IsOperator(ctx context.Context, actorID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM operators WHERE id=?`, actorID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListOperators(ctx context.Context) ([]domain.Operator, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, COALESCE(display_name,''), created_at FROM operators ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Operator
	for rows.Next() {
		var op domain.Operator
		if err := rows.Scan(&op.ID, &op.DisplayName, &op.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, op)
	}
	return res, rows.Err()
}

func (r Repo) RemoveOperator(ctx context.Context, actorID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM operators WHERE id=?`, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
