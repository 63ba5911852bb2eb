package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// LeadsRepository updates lead contact status. Leads themselves are owned by the campaign service.
type LeadsRepository interface {
	MarkContacted(ctx context.Context, leadID int64) error
	MarkUnsubscribed(ctx context.Context, leadID int64) error
}

type LeadsRepositoryImpl struct {
	db *sqlx.DB
}

func NewLeadsRepository(db *sqlx.DB) *LeadsRepositoryImpl {
	return &LeadsRepositoryImpl{db: db}
}

// MarkContacted moves a lead to contacted. Unsubscribed leads keep their status.
func (r *LeadsRepositoryImpl) MarkContacted(ctx context.Context, leadID int64) error {
	const q = `
		UPDATE leads
		SET status = 'contacted', last_contacted_at = NOW(6), updated_at = NOW(6)
		WHERE id = ? AND status <> 'unsubscribed'
	`
	_, err := r.db.ExecContext(ctx, q, leadID)
	return persistErr("mark lead contacted", err)
}

// MarkUnsubscribed is idempotent: the first unsubscribe time is kept.
func (r *LeadsRepositoryImpl) MarkUnsubscribed(ctx context.Context, leadID int64) error {
	const q = `
		UPDATE leads
		SET status = 'unsubscribed', unsubscribed_at = COALESCE(unsubscribed_at, NOW(6)), updated_at = NOW(6)
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, leadID)
	return persistErr("mark lead unsubscribed", err)
}
