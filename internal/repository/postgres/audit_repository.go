package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const auditColumns = `id, sequence, event_type, action, outcome, actor_id, actor_email, resource_type, resource_id,
	ip_address, user_agent, timestamp, detail, error_message, security_relevant, redacted_at`

// AuditRepository implements audit.Repository. It always writes through the
// pool: an entry must survive the rollback of the business transaction it describes.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append inserts e and assigns its sequence.
func (r *AuditRepository) Append(ctx context.Context, e *audit.Entry) error {
	var detail []byte
	if e.Detail != nil {
		var err error
		if detail, err = json.Marshal(e.Detail); err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
	}

	// A replayed entry keeps its original id, so the insert is idempotent.
	err := r.pool.QueryRow(ctx,
		`INSERT INTO audit_logs
		 (id, event_type, action, outcome, actor_id, actor_email, resource_type, resource_id,
		  ip_address, user_agent, timestamp, detail, error_message, security_relevant)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING sequence`,
		e.ID, string(e.EventType), e.Action, string(e.Outcome), e.ActorID, e.ActorEmail, e.ResourceType, e.ResourceID,
		e.IPAddress, e.UserAgent, e.Timestamp, detail, e.ErrorMessage, e.SecurityRelevant,
	).Scan(&e.Sequence)
	if errors.Is(err, pgx.ErrNoRows) {
		err = r.pool.QueryRow(ctx, `SELECT sequence FROM audit_logs WHERE id = $1`, e.ID).Scan(&e.Sequence)
	}
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Query returns entries matching f ordered by (timestamp, sequence).
func (r *AuditRepository) Query(ctx context.Context, f audit.Filter) ([]*audit.Entry, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Subject != "" {
		p := arg(f.Subject)
		conds = append(conds, fmt.Sprintf("(actor_id = %s OR actor_email = %s)", p, p))
	}
	if f.ResourceID != "" {
		conds = append(conds, fmt.Sprintf("resource_type = %s AND resource_id = %s", arg(f.ResourceType), arg(f.ResourceID)))
	}
	if f.From != nil {
		conds = append(conds, "timestamp >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "timestamp < "+arg(*f.To))
	}
	if f.After != nil {
		conds = append(conds, fmt.Sprintf("(timestamp, sequence) > (%s, %s)", arg(f.After.Timestamp), arg(f.After.Sequence)))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp ASC, sequence ASC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		e := &audit.Entry{}
		var eventType, outcome string
		var detail []byte
		if err := rows.Scan(&e.ID, &e.Sequence, &eventType, &e.Action, &outcome, &e.ActorID, &e.ActorEmail,
			&e.ResourceType, &e.ResourceID, &e.IPAddress, &e.UserAgent, &e.Timestamp, &detail,
			&e.ErrorMessage, &e.SecurityRelevant, &e.RedactedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.EventType = audit.EventType(eventType)
		e.Outcome = audit.Outcome(outcome)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RedactSubject clears personal columns of entries performed by subject or
// about one of resources. Everything else is kept.
func (r *AuditRepository) RedactSubject(ctx context.Context, subject string, resources []audit.Ref, at time.Time) (int64, error) {
	types := make([]string, len(resources))
	ids := make([]string, len(resources))
	for i, ref := range resources {
		types[i] = ref.Type
		ids[i] = ref.ID
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE audit_logs SET actor_email = '', ip_address = '', user_agent = '', detail = NULL, redacted_at = $1
		 WHERE redacted_at IS NULL
		   AND (($2 <> '' AND actor_email = $2)
		        OR (resource_type, resource_id) IN (SELECT * FROM unnest($3::text[], $4::text[])))`,
		at, subject, types, ids)
	if err != nil {
		return 0, fmt.Errorf("redact audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
