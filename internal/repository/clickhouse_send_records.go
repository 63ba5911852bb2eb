package repository

import (
	"context"

	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmoiron/sqlx"
)

// StepStats aggregates the lifecycle of every send of one campaign step.
type StepStats struct {
	CampaignStepID int64  `db:"campaign_step_id" json:"campaign_step_id"`
	Total          uint64 `db:"total"            json:"total"`
	Sent           uint64 `db:"sent"             json:"sent"`
	Failed         uint64 `db:"failed"           json:"failed"`
	Delivered      uint64 `db:"delivered"        json:"delivered"`
	Bounced        uint64 `db:"bounced"          json:"bounced"`
	Opened         uint64 `db:"opened"           json:"opened"`
	Clicked        uint64 `db:"clicked"          json:"clicked"`
}

// CHSendRecordsRepository reads the ClickHouse copy of send_records (final view).
type CHSendRecordsRepository interface {
	ListByStep(ctx context.Context, stepID int64, eventType model.EventType, limit, offset int) ([]model.SendRecord, error)
	StatsByStep(ctx context.Context, stepID int64) (StepStats, error)
}

type chSendRecordsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHSendRecordsRepository(ch *sqlx.DB) CHSendRecordsRepository {
	return &chSendRecordsRepository{ch: ch}
}

func (r *chSendRecordsRepository) ListByStep(ctx context.Context, stepID int64, eventType model.EventType, limit, offset int) ([]model.SendRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, lead_id, campaign_lead_id, campaign_step_id, event_type, sent_at,
		       delivered_at, opened_at, clicked_at, bounced_at, error_message,
		       provider_message_id, metadata, created_at, updated_at
		FROM mailer.send_records_latest
		WHERE campaign_step_id = ?
	`
	args := []any{stepID}

	if eventType != "" {
		q += " AND event_type = ?"
		args = append(args, eventType.String())
	}

	q += " ORDER BY sent_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.SendRecord
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, persistErr("list send records", err)
	}
	return rows, nil
}

func (r *chSendRecordsRepository) StatsByStep(ctx context.Context, stepID int64) (StepStats, error) {
	const q = `
		SELECT
		    campaign_step_id,
		    count()                                   AS total,
		    countIf(event_type != 'FAILED')           AS sent,
		    countIf(event_type = 'FAILED')            AS failed,
		    countIf(event_type = 'DELIVERED')         AS delivered,
		    countIf(event_type = 'BOUNCED')           AS bounced,
		    countIf(opened_at IS NOT NULL)            AS opened,
		    countIf(clicked_at IS NOT NULL)           AS clicked
		FROM mailer.send_records_latest
		WHERE campaign_step_id = ?
		GROUP BY campaign_step_id
	`
	stats := StepStats{CampaignStepID: stepID}
	rows, err := r.ch.QueryxContext(ctx, q, stepID)
	if err != nil {
		return stats, persistErr("send record stats", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.StructScan(&stats); err != nil {
			return stats, persistErr("send record stats", err)
		}
	}
	return stats, persistErr("send record stats", rows.Err())
}
