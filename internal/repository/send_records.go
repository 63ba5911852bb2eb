package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/util"
	"github.com/jmoiron/sqlx"
)

// SendRecordsRepository persists send_records. Every call is a single statement.
type SendRecordsRepository interface {
	Create(ctx context.Context, rec model.SendRecord) (string, error)
	UpdateWhere(ctx context.Context, m model.Matcher, p model.Patch) (int64, error)
}

type SendRecordsRepositoryImpl struct {
	db *sqlx.DB
}

func NewSendRecordsRepository(db *sqlx.DB) *SendRecordsRepositoryImpl {
	return &SendRecordsRepositoryImpl{db: db}
}

// Create inserts rec and returns its id, generating a ULID when rec.ID is empty.
func (r *SendRecordsRepositoryImpl) Create(ctx context.Context, rec model.SendRecord) (string, error) {
	const q = `
		INSERT INTO send_records
		    (id, lead_id, campaign_lead_id, campaign_step_id, event_type, sent_at,
		     error_message, provider_message_id, metadata, created_at, updated_at)
		VALUES
		    (?,  ?,       ?,                ?,                ?,          ?,
		     ?,             ?,                   ?,        NOW(6),     NOW(6))
	`
	if rec.ID == "" {
		rec.ID = util.NewAt(rec.SentAt)
	}
	if rec.Metadata == nil {
		rec.Metadata = model.Metadata{}
	}

	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.LeadID, rec.CampaignLeadID, rec.CampaignStepID, rec.EventType.String(), rec.SentAt,
		rec.ErrorMessage, rec.ProviderMessageID, rec.Metadata,
	)
	if err != nil {
		return "", persistErr("create send record", err)
	}
	return rec.ID, nil
}

// UpdateWhere applies p to every row selected by m and returns the number of rows changed.
// Lifecycle timestamps are only written when still NULL.
func (r *SendRecordsRepositoryImpl) UpdateWhere(ctx context.Context, m model.Matcher, p model.Patch) (int64, error) {
	if m.Empty() {
		return 0, persistErr("update send records", ErrEmptyMatcher)
	}

	// changes selects only rows the patch would alter, so a replay leaves
	// updated_at alone and reports zero rows.
	var (
		sets, changes    []string
		args, changeArgs []any
	)
	if p.EventType != nil {
		sets = append(sets, "event_type = ?")
		args = append(args, p.EventType.String())
		changes = append(changes, "event_type <> ?")
		changeArgs = append(changeArgs, p.EventType.String())
	}
	for _, ts := range []struct {
		col string
		v   *time.Time
	}{
		{"delivered_at", p.DeliveredAt},
		{"opened_at", p.OpenedAt},
		{"clicked_at", p.ClickedAt},
		{"bounced_at", p.BouncedAt},
	} {
		if ts.v != nil {
			sets = append(sets, ts.col+" = COALESCE("+ts.col+", ?)")
			args = append(args, *ts.v)
			changes = append(changes, ts.col+" IS NULL")
		}
	}
	if p.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *p.ErrorMessage)
		changes = append(changes, "NOT (error_message <=> ?)")
		changeArgs = append(changeArgs, *p.ErrorMessage)
	}
	if len(sets) == 0 {
		return 0, nil
	}
	sets = append(sets, "updated_at = NOW(6)")

	var where []string
	if m.ID != "" {
		where = append(where, "id = ?")
		args = append(args, m.ID)
	}
	if m.ProviderMessageID != "" {
		where = append(where, "provider_message_id = ?")
		args = append(args, m.ProviderMessageID)
	}
	if m.LeadID != 0 {
		where = append(where, "lead_id = ?")
		args = append(args, m.LeadID)
	}
	if m.CampaignLeadID != 0 {
		where = append(where, "campaign_lead_id = ?")
		args = append(args, m.CampaignLeadID)
	}
	if m.CampaignStepID != 0 {
		where = append(where, "campaign_step_id = ?")
		args = append(args, m.CampaignStepID)
	}
	where = append(where, "("+strings.Join(changes, " OR ")+")")
	args = append(args, changeArgs...)

	query := "UPDATE send_records SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND ")
	if len(p.From) > 0 {
		from := make([]string, len(p.From))
		for i, e := range p.From {
			from[i] = e.String()
		}
		query += " AND event_type IN (?)"
		args = append(args, from)

		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return 0, persistErr("update send records", err)
		}
	}
	query = r.db.Rebind(query)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, persistErr("update send records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("update send records", err)
	}
	return n, nil
}
