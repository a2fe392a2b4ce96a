package service

import (
	"context"
	"fmt"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RegistrationService handles registration intake and personal data requests.
type RegistrationService struct {
	registrations registration.Repository
	events        registration.EventRepository
	orders        payment.Repository
	transactions  payment.TransactionRepository
	audit         *AuditService
	logger        zerolog.Logger
}

// NewRegistrationService creates a new RegistrationService.
func NewRegistrationService(
	registrations registration.Repository,
	events registration.EventRepository,
	orders payment.Repository,
	transactions payment.TransactionRepository,
	auditSvc *AuditService,
	logger zerolog.Logger,
) *RegistrationService {
	return &RegistrationService{
		registrations: registrations,
		events:        events,
		orders:        orders,
		transactions:  transactions,
		audit:         auditSvc,
		logger:        logger.With().Str("component", "registrations").Logger(),
	}
}

// RegisterRequest holds the input for a new registration.
type RegisterRequest struct {
	EventID    uuid.UUID
	Type       registration.Type
	FullName   string
	Email      string
	Mobile     string
	SchoolName string
	Consents   []registration.Consent
}

// Register creates a pending registration and records each consent.
func (s *RegistrationService) Register(ctx context.Context, req RegisterRequest) (*registration.Registration, error) {
	if _, err := s.events.GetByID(ctx, req.EventID); err != nil {
		return nil, err
	}

	reg, err := registration.NewRegistration(req.EventID, req.Type, req.FullName, req.Email, req.Mobile, req.SchoolName)
	if err != nil {
		return nil, err
	}
	if err := s.registrations.Create(ctx, reg); err != nil {
		return nil, err
	}

	ctx = withSubject(ctx, reg)
	s.audit.RegistrationCreated(ctx, reg.ID.String(), string(reg.Type), reg.EventID.String())
	for _, c := range req.Consents {
		s.audit.ConsentRecorded(ctx, reg.ID.String(), c.Type, c.Version, c.Given)
	}

	s.logger.Info().
		Str("registration_id", reg.ID.String()).
		Str("code", reg.Code).
		Msg("Registration created")
	return reg, nil
}

// Get returns a registration for an operator and records the access.
func (s *RegistrationService) Get(ctx context.Context, id uuid.UUID) (*registration.Registration, error) {
	reg, err := s.registrations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit.DataAccessed(ctx, audit.ResourceRegistration, id.String(), "registration_viewed")
	return reg, nil
}

// RegistrationExport bundles everything stored about a registration.
type RegistrationExport struct {
	Registration *registration.Registration
	Orders       []*payment.Order
	AuditTrail   []*audit.Entry
}

// Export collects a registration with its orders and audit trail.
func (s *RegistrationService) Export(ctx context.Context, id uuid.UUID) (*RegistrationExport, error) {
	reg, err := s.registrations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	orders, err := s.orders.ListByRegistration(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	var trail []*audit.Entry
	filter := audit.Filter{ResourceType: audit.ResourceRegistration, ResourceID: id.String(), Limit: maxAuditPageSize}
	for {
		page, err := s.audit.Query(ctx, filter)
		if err != nil {
			return nil, err
		}
		trail = append(trail, page.Entries...)
		if page.NextCursor == "" {
			break
		}
		filter.After, err = audit.DecodeCursor(page.NextCursor)
		if err != nil {
			return nil, err
		}
	}

	s.audit.DataAccessed(ctx, audit.ResourceRegistration, id.String(), "registration_exported")
	return &RegistrationExport{Registration: reg, Orders: orders, AuditTrail: trail}, nil
}

// ErasureResult reports what an erasure request removed.
type ErasureResult struct {
	RegistrationID  uuid.UUID
	RedactedEntries int64
}

// Erase redacts the personal fields of a registration and of every audit
// entry about it, its orders or their transactions. Payment and audit rows
// are kept. The audit trail is redacted first so a failed attempt leaves the
// registration erasable.
func (s *RegistrationService) Erase(ctx context.Context, id uuid.UUID) (*ErasureResult, error) {
	reg, err := s.registrations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.IsErased() {
		return nil, domainErrors.ErrRegistrationErased
	}

	refs, err := s.erasureRefs(ctx, id)
	if err != nil {
		return nil, err
	}

	s.audit.DataDeleted(ctx, audit.ResourceRegistration, id.String(), "erasure_requested", nil)

	n, err := s.audit.RedactSubject(ctx, reg.Email, refs...)
	if err != nil {
		return nil, fmt.Errorf("redact audit trail: %w", err)
	}

	reg.Erase()
	if err := s.registrations.Redact(ctx, reg); err != nil {
		return nil, fmt.Errorf("redact registration: %w", err)
	}

	s.audit.DataDeleted(ctx, audit.ResourceRegistration, id.String(), "erasure_completed", map[string]any{"redacted_entries": n})
	s.logger.Info().
		Str("registration_id", id.String()).
		Int("resources", len(refs)).
		Int64("redacted_entries", n).
		Msg("Registration erased")
	return &ErasureResult{RegistrationID: id, RedactedEntries: n}, nil
}

// erasureRefs lists the registration, its orders and their transactions.
func (s *RegistrationService) erasureRefs(ctx context.Context, id uuid.UUID) ([]audit.Ref, error) {
	refs := []audit.Ref{{Type: audit.ResourceRegistration, ID: id.String()}}

	orders, err := s.orders.ListByRegistration(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	for _, o := range orders {
		refs = append(refs, audit.Ref{Type: audit.ResourceOrder, ID: o.ID.String()})

		txs, err := s.transactions.ListByOrder(ctx, o.ID)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		for _, tx := range txs {
			refs = append(refs, audit.Ref{Type: audit.ResourceTransaction, ID: tx.ID.String()})
		}
	}
	return refs, nil
}

// withSubject attributes self-service actions to the registrant.
func withSubject(ctx context.Context, reg *registration.Registration) context.Context {
	a := audit.ActorFromContext(ctx)
	if a.ID == "" && (a.Email == "" || a.Email == audit.ActorSystem) {
		a.Email = reg.Email
	}
	return audit.ContextWithActor(ctx, a)
}
