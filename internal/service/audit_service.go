package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/infrastructure/observability"
	"github.com/cassiomorais/eventpay/pkg/retry"
	"github.com/rs/zerolog"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// AuditDeadLetter parks entries that could not be persisted.
type AuditDeadLetter interface {
	DeadLetter(ctx context.Context, e *audit.Entry, cause error) error
}

// AuditService writes and queries the audit trail. Writes go straight to the
// pool and never join the caller's transaction.
type AuditService struct {
	repo    audit.Repository
	dlq     AuditDeadLetter
	retry   retry.Config
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewAuditService creates a new AuditService. dlq and metrics may be nil.
func NewAuditService(repo audit.Repository, dlq AuditDeadLetter, retryCfg retry.Config, logger zerolog.Logger, metrics *observability.Metrics) *AuditService {
	return &AuditService{
		repo:    repo,
		dlq:     dlq,
		retry:   retryCfg,
		logger:  logger.With().Str("component", "audit").Logger(),
		metrics: metrics,
	}
}

// Record persists e. It never fails the caller: after the retry budget is
// spent the entry goes to the dead letter stream and a meta-failure is logged.
func (s *AuditService) Record(ctx context.Context, e *audit.Entry) {
	if s == nil {
		return
	}
	if e.ActorID == "" && e.IPAddress == "" {
		e.WithActor(audit.ActorFromContext(ctx))
	}
	// The repository writes through the pool, so only cancellation needs detaching.
	ctx = context.WithoutCancel(ctx)

	err := retry.Do(ctx, s.retry, func() error {
		return s.repo.Append(ctx, e)
	})
	if err == nil {
		return
	}

	deadLettered := false
	if s.dlq != nil {
		if dlqErr := s.dlq.DeadLetter(ctx, e, err); dlqErr == nil {
			deadLettered = true
		} else {
			s.logger.Error().Err(dlqErr).Str("entry_id", e.ID.String()).Msg("Failed to dead-letter audit entry")
		}
	}
	s.metrics.ObserveAuditFailure(deadLettered)

	s.logger.Error().
		Err(err).
		Str("entry_id", e.ID.String()).
		Str("event_type", string(e.EventType)).
		Str("action", e.Action).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Str("outcome", string(e.Outcome)).
		Bool("dead_lettered", deadLettered).
		Msg("Audit write failed")
}

// Replay re-appends a dead-lettered entry. Used by the worker.
func (s *AuditService) Replay(ctx context.Context, e *audit.Entry) error {
	return retry.Do(ctx, s.retry, func() error {
		return s.repo.Append(ctx, e)
	})
}

// Query returns one page of entries matching filter, ordered by (timestamp, sequence).
func (s *AuditService) Query(ctx context.Context, filter audit.Filter) (*audit.Page, error) {
	if filter.Subject == "" && filter.ResourceID == "" && filter.From == nil && filter.To == nil {
		return nil, domainErrors.NewValidationError("filter", "subject, resource or time range is required")
	}
	if filter.ResourceID != "" && filter.ResourceType == "" {
		return nil, domainErrors.NewValidationError("resource_type", "required with resource_id")
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, domainErrors.NewValidationError("to", "must not be before from")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditPageSize
	}
	if limit > maxAuditPageSize {
		limit = maxAuditPageSize
	}
	filter.Limit = limit + 1

	entries, err := s.repo.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}

	page := &audit.Page{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.NextCursor = audit.CursorAfter(page.Entries[limit-1]).Encode()
	}
	return page, nil
}

// RedactSubject strips personal fields from every entry performed by subject
// or about one of resources.
func (s *AuditService) RedactSubject(ctx context.Context, subject string, resources ...audit.Ref) (int64, error) {
	return s.repo.RedactSubject(ctx, subject, resources, time.Now().UTC())
}

// --- Helpers for the recurring call sites ---

// RegistrationCreated records a new registration.
func (s *AuditService) RegistrationCreated(ctx context.Context, registrationID, regType, eventID string) {
	s.Record(ctx, audit.NewEntry(audit.EventRegistration, "registration_created", audit.ResourceRegistration, registrationID).
		WithDetail(map[string]any{"registration_type": regType, "event_id": eventID}))
}

// ConsentRecorded records one consent decision.
func (s *AuditService) ConsentRecorded(ctx context.Context, registrationID, consentType, version string, given bool) {
	action := "consent_given"
	if !given {
		action = "consent_withdrawn"
	}
	s.Record(ctx, audit.NewEntry(audit.EventConsent, action, audit.ResourceRegistration, registrationID).
		WithDetail(map[string]any{"consent_type": consentType, "consent_version": version, "given": given}))
}

// DataAccessed records an operator reading personal data.
func (s *AuditService) DataAccessed(ctx context.Context, resourceType, resourceID, action string) {
	s.Record(ctx, audit.NewEntry(audit.EventDataAccess, action, resourceType, resourceID))
}

// DataDeleted records an erasure step.
func (s *AuditService) DataDeleted(ctx context.Context, resourceType, resourceID, action string, detail map[string]any) {
	s.Record(ctx, audit.NewEntry(audit.EventDataDeletion, action, resourceType, resourceID).WithDetail(detail))
}

// NotificationSent records a notification delivery attempt.
func (s *AuditService) NotificationSent(ctx context.Context, channel, registrationID, template string, sendErr error) {
	e := audit.NewEntry(audit.EventNotification, channel+"_sent", audit.ResourceRegistration, registrationID).
		WithDetail(map[string]any{"channel": channel, "template": template})
	if sendErr != nil {
		e.Fail(sendErr.Error())
	}
	s.Record(ctx, e)
}
