package prospects

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// Repository persists prospects in Postgres. Upserts only apply when the
// incoming Version is newer, so out-of-order saves from concurrent commits
// never regress a row.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var (
	_ Persister = (*Repository)(nil)
	_ Loader    = (*Repository)(nil)
)

// Save upserts the prospect row and appends any history entries not yet stored.
func (r *Repository) Save(ctx context.Context, p Prospect) error {
	extra, err := json.Marshal(p.Contact.Extra)
	if err != nil {
		return fmt.Errorf("prospects: marshal extra: %w", err)
	}
	var appointment []byte
	if p.Appointment != nil {
		if appointment, err = json.Marshal(p.Appointment); err != nil {
			return fmt.Errorf("prospects: marshal appointment: %w", err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("prospects: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO prospects (id, first_name, last_name, phone, email, extra,
		    campaign_id, campaign_version, event_count, stage_index, enrolled_at,
		    tags, appointment, do_not_contact, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
		    first_name=EXCLUDED.first_name, last_name=EXCLUDED.last_name, phone=EXCLUDED.phone,
		    email=EXCLUDED.email, extra=EXCLUDED.extra, campaign_id=EXCLUDED.campaign_id,
		    campaign_version=EXCLUDED.campaign_version, event_count=EXCLUDED.event_count,
		    stage_index=EXCLUDED.stage_index, enrolled_at=EXCLUDED.enrolled_at, tags=EXCLUDED.tags,
		    appointment=EXCLUDED.appointment, do_not_contact=EXCLUDED.do_not_contact,
		    version=EXCLUDED.version, updated_at=EXCLUDED.updated_at
		WHERE prospects.version < EXCLUDED.version`,
		p.ID, p.Contact.FirstName, p.Contact.LastName, p.Contact.Phone, p.Contact.Email, extra,
		p.CampaignID, p.CampaignVersion, p.EventCount, p.StageIndex, p.EnrolledAt,
		pq.Array(p.Tags), nullableJSON(appointment), p.DoNotContact, p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("prospects: upsert %s: %w", p.ID, err)
	}

	// History is append-only, so entries at or below the stored high-water
	// position are already persisted.
	var stored int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) FROM prospect_history WHERE prospect_id = $1`,
		p.ID).Scan(&stored); err != nil {
		return fmt.Errorf("prospects: history position %s: %w", p.ID, err)
	}
	for pos := stored + 1; pos < len(p.History); pos++ {
		h := p.History[pos]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO prospect_history (id, prospect_id, position, at, kind, campaign_id, stage,
			    channel, body, action, provider_message_id, attempts, error)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (prospect_id, position) DO NOTHING`,
			h.ID, p.ID, pos, h.At, string(h.Kind), h.CampaignID, h.Stage,
			h.Channel, h.Body, h.Action, h.ProviderMessageID, h.Attempts, h.Error)
		if err != nil {
			return fmt.Errorf("prospects: insert history %s: %w", h.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("prospects: commit: %w", err)
	}
	return nil
}

// LoadAll returns every stored prospect with its history in recorded order.
func (r *Repository) LoadAll(ctx context.Context) ([]Prospect, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, phone, email, extra,
		       campaign_id, campaign_version, event_count, stage_index, enrolled_at,
		       tags, appointment, do_not_contact, version, created_at, updated_at
		FROM prospects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("prospects: query: %w", err)
	}
	defer rows.Close()

	var out []Prospect
	index := map[string]int{}
	for rows.Next() {
		var (
			p           Prospect
			extra       []byte
			appointment []byte
		)
		if err := rows.Scan(&p.ID, &p.Contact.FirstName, &p.Contact.LastName, &p.Contact.Phone,
			&p.Contact.Email, &extra, &p.CampaignID, &p.CampaignVersion, &p.EventCount,
			&p.StageIndex, &p.EnrolledAt, pq.Array(&p.Tags), &appointment, &p.DoNotContact,
			&p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("prospects: scan: %w", err)
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &p.Contact.Extra); err != nil {
				return nil, fmt.Errorf("prospects: decode extra for %s: %w", p.ID, err)
			}
		}
		if len(appointment) > 0 {
			var appt Appointment
			if err := json.Unmarshal(appointment, &appt); err != nil {
				return nil, fmt.Errorf("prospects: decode appointment for %s: %w", p.ID, err)
			}
			p.Appointment = &appt
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hrows, err := r.db.QueryContext(ctx, `
		SELECT id, prospect_id, at, kind, campaign_id, stage, channel, body, action,
		       provider_message_id, attempts, error
		FROM prospect_history ORDER BY prospect_id, position`)
	if err != nil {
		return nil, fmt.Errorf("prospects: query history: %w", err)
	}
	defer hrows.Close()
	for hrows.Next() {
		var (
			h          HistoryEntry
			prospectID string
			kind       string
		)
		if err := hrows.Scan(&h.ID, &prospectID, &h.At, &kind, &h.CampaignID, &h.Stage,
			&h.Channel, &h.Body, &h.Action, &h.ProviderMessageID, &h.Attempts, &h.Error); err != nil {
			return nil, fmt.Errorf("prospects: scan history: %w", err)
		}
		h.Kind = HistoryKind(kind)
		if i, ok := index[prospectID]; ok {
			out[i].History = append(out[i].History, h)
		}
	}
	if out == nil {
		out = []Prospect{}
	}
	return out, hrows.Err()
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
