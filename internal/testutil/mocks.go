package testutil

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	"github.com/cassiomorais/eventpay/internal/domain/coupon"
	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/outbox"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/cassiomorais/eventpay/internal/gateway"
	"github.com/cassiomorais/eventpay/internal/notify"
	"github.com/cassiomorais/eventpay/internal/repository/postgres"
	"github.com/google/uuid"
)

// --- Transaction Manager Mock ---

type journalKey struct{}

// journal collects undo steps for writes made inside a mock transaction.
type journal struct {
	undo []func()
}

// onRollback registers fn to run if the surrounding mock transaction fails.
func onRollback(ctx context.Context, fn func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.undo = append(j.undo, fn)
	}
}

// MockTransactionManager runs transactions one at a time and undoes their
// writes in reverse order when fn fails.
type MockTransactionManager struct {
	mu        sync.Mutex
	Commits   int
	Rollbacks int

	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
		m.Rollbacks++
		return err
	}
	m.Commits++
	return nil
}

// --- Order Repository Mock ---

// MockOrderRepository is an in-memory payment.Repository. It stores copies.
type MockOrderRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*payment.Order

	CreateFunc       func(ctx context.Context, o *payment.Order) error
	GetByIDFunc      func(ctx context.Context, id uuid.UUID) (*payment.Order, error)
	UpdateStatusFunc func(ctx context.Context, o *payment.Order, expected payment.Status) error
}

func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{orders: make(map[uuid.UUID]*payment.Order)}
}

func copyOrder(o *payment.Order) *payment.Order {
	c := *o
	return &c
}

func (m *MockOrderRepository) Create(ctx context.Context, o *payment.Order) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.IdempotencyKey == o.IdempotencyKey {
			return domainErrors.ErrDuplicateIdempotencyKey
		}
		if existing.RegistrationID == o.RegistrationID && !existing.IsTerminal() && !o.IsTerminal() {
			return domainErrors.ErrActiveOrderExists
		}
	}
	m.orders[o.ID] = copyOrder(o)
	id := o.ID
	onRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.orders, id)
	})
	return nil
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Order, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *MockOrderRepository) GetByGatewayRef(ctx context.Context, gatewayName, ref string) (*payment.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Gateway == gatewayName && o.GatewayOrderRef == ref && ref != "" {
			return copyOrder(o), nil
		}
	}
	return nil, domainErrors.ErrOrderNotFound
}

func (m *MockOrderRepository) GetActiveByRegistration(ctx context.Context, registrationID uuid.UUID) (*payment.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.RegistrationID == registrationID && !o.IsTerminal() {
			return copyOrder(o), nil
		}
	}
	return nil, domainErrors.ErrOrderNotFound
}

func (m *MockOrderRepository) LatestAttempt(ctx context.Context, registrationID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := 0
	for _, o := range m.orders {
		if o.RegistrationID == registrationID && o.Attempt > latest {
			latest = o.Attempt
		}
	}
	return latest, nil
}

func (m *MockOrderRepository) ListByRegistration(ctx context.Context, registrationID uuid.UUID) ([]*payment.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*payment.Order
	for _, o := range m.orders {
		if o.RegistrationID == registrationID {
			result = append(result, copyOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Attempt < result[j].Attempt })
	return result, nil
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, o *payment.Order, expected payment.Status) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, o, expected)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[o.ID]
	if !ok {
		return domainErrors.ErrOrderNotFound
	}
	if stored.Status != expected || stored.Version != o.Version-1 {
		return domainErrors.NewStateError(domainErrors.ErrConcurrentModification, string(expected), string(o.Status))
	}
	previous := stored
	m.orders[o.ID] = copyOrder(o)
	onRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.orders[previous.ID] = previous
	})
	return nil
}

func (m *MockOrderRepository) ListAwaitingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*payment.Order
	for _, o := range m.orders {
		if o.Status == payment.StatusAwaitingPayment && o.CreatedAt.Before(cutoff) {
			result = append(result, copyOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Put stores o directly, bypassing constraints.
func (m *MockOrderRepository) Put(o *payment.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = copyOrder(o)
}

// All returns every stored order.
func (m *MockOrderRepository) All() []*payment.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*payment.Order, 0, len(m.orders))
	for _, o := range m.orders {
		result = append(result, copyOrder(o))
	}
	return result
}

// --- Transaction Repository Mock ---

// MockTransactionRepository is an in-memory payment.TransactionRepository.
type MockTransactionRepository struct {
	mu  sync.Mutex
	txs []*payment.Transaction

	AppendFunc func(ctx context.Context, tx *payment.Transaction) error
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{}
}

func (m *MockTransactionRepository) Append(ctx context.Context, tx *payment.Transaction) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *tx
	m.txs = append(m.txs, &c)
	return nil
}

func (m *MockTransactionRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*payment.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*payment.Transaction
	for _, tx := range m.txs {
		if tx.OrderID != nil && *tx.OrderID == orderID {
			result = append(result, tx)
		}
	}
	return result, nil
}

// All returns every appended transaction.
func (m *MockTransactionRepository) All() []*payment.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.txs)
}

// --- Coupon Repository Mock ---

// MockCouponRepository is an in-memory coupon.Repository.
type MockCouponRepository struct {
	mu      sync.Mutex
	coupons map[uuid.UUID]*coupon.Coupon

	IncrementRedemptionFunc func(ctx context.Context, id uuid.UUID) error
}

func NewMockCouponRepository() *MockCouponRepository {
	return &MockCouponRepository{coupons: make(map[uuid.UUID]*coupon.Coupon)}
}

// AddCoupon stores c.
func (m *MockCouponRepository) AddCoupon(c *coupon.Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.coupons[c.ID] = &cp
}

func (m *MockCouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	m.AddCoupon(c)
	return nil
}

func (m *MockCouponRepository) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.coupons {
		if strings.EqualFold(c.Code, code) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrCouponNotFound
}

func (m *MockCouponRepository) GetByID(ctx context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[id]
	if !ok {
		return nil, domainErrors.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockCouponRepository) IncrementRedemption(ctx context.Context, id uuid.UUID) error {
	if m.IncrementRedemptionFunc != nil {
		return m.IncrementRedemptionFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[id]
	if !ok {
		return domainErrors.ErrCouponNotFound
	}
	if !c.HasRedemptionsLeft() {
		return domainErrors.ErrCouponExhausted
	}
	c.RedemptionCount++
	onRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		c.RedemptionCount--
	})
	return nil
}

// Redemptions returns the current redemption count of a coupon.
func (m *MockCouponRepository) Redemptions(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.coupons[id]; ok {
		return c.RedemptionCount
	}
	return 0
}

// --- Registration Repository Mock ---

// MockRegistrationRepository is an in-memory registration.Repository.
type MockRegistrationRepository struct {
	mu   sync.Mutex
	regs map[uuid.UUID]*registration.Registration

	CreateFunc func(ctx context.Context, r *registration.Registration) error
	RedactFunc func(ctx context.Context, r *registration.Registration) error
}

func NewMockRegistrationRepository() *MockRegistrationRepository {
	return &MockRegistrationRepository{regs: make(map[uuid.UUID]*registration.Registration)}
}

// AddRegistration stores r.
func (m *MockRegistrationRepository) AddRegistration(r *registration.Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.regs[r.ID] = &cp
}

func (m *MockRegistrationRepository) Create(ctx context.Context, r *registration.Registration) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, r)
	}
	m.AddRegistration(r)
	return nil
}

func (m *MockRegistrationRepository) GetByID(ctx context.Context, id uuid.UUID) (*registration.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[id]
	if !ok {
		return nil, domainErrors.ErrRegistrationNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockRegistrationRepository) MarkConfirmed(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[id]
	if !ok {
		return domainErrors.ErrRegistrationNotFound
	}
	previous := *r
	if err := r.Confirm(); err != nil {
		return err
	}
	onRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		*r = previous
	})
	return nil
}

func (m *MockRegistrationRepository) Redact(ctx context.Context, r *registration.Registration) error {
	if m.RedactFunc != nil {
		return m.RedactFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regs[r.ID]; !ok {
		return domainErrors.ErrRegistrationNotFound
	}
	cp := *r
	m.regs[r.ID] = &cp
	return nil
}

// --- Event Repository Mock ---

// MockEventRepository is an in-memory registration.EventRepository.
type MockEventRepository struct {
	mu     sync.Mutex
	events map[uuid.UUID]*registration.Event
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{events: make(map[uuid.UUID]*registration.Event)}
}

// AddEvent stores e.
func (m *MockEventRepository) AddEvent(e *registration.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events[e.ID] = &cp
}

func (m *MockEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*registration.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, domainErrors.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is an in-memory outbox.Repository.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry

	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID) error
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	id := entry.ID
	onRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.entries = slices.DeleteFunc(m.entries, func(e *outbox.Entry) bool { return e.ID == id })
	})
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*outbox.Entry
	for _, e := range m.entries {
		if e.Status == outbox.StatusPending && len(result) < limit {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			now := time.Now()
			e.Status = outbox.StatusPublished
			e.PublishedAt = &now
		}
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.RetryCount++
			if !e.CanRetry() {
				e.Status = outbox.StatusFailed
			}
		}
	}
	return nil
}

func (m *MockOutboxRepository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.entries)
	m.entries = slices.DeleteFunc(m.entries, func(e *outbox.Entry) bool {
		return e.Status == outbox.StatusPublished && e.PublishedAt != nil && e.PublishedAt.Before(cutoff)
	})
	return int64(before - len(m.entries)), nil
}

// Entries returns every inserted entry.
func (m *MockOutboxRepository) Entries() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

// --- Audit Repository Mock ---

// MockAuditRepository is an in-memory audit.Repository. Like the real one it
// ignores the caller's transaction.
type MockAuditRepository struct {
	mu      sync.Mutex
	seq     int64
	entries []*audit.Entry

	AppendFunc        func(ctx context.Context, e *audit.Entry) error
	RedactSubjectFunc func(ctx context.Context, subject string, resources []audit.Ref, at time.Time) (int64, error)
}

func NewMockAuditRepository() *MockAuditRepository {
	return &MockAuditRepository{}
}

func (m *MockAuditRepository) Append(ctx context.Context, e *audit.Entry) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e.Sequence = m.seq
	c := *e
	m.entries = append(m.entries, &c)
	return nil
}

func (m *MockAuditRepository) Query(ctx context.Context, f audit.Filter) ([]*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*audit.Entry
	for _, e := range m.entries {
		if f.Subject != "" && e.ActorID != f.Subject && e.ActorEmail != f.Subject {
			continue
		}
		if f.ResourceID != "" && (e.ResourceType != f.ResourceType || e.ResourceID != f.ResourceID) {
			continue
		}
		if f.From != nil && e.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && !e.Timestamp.Before(*f.To) {
			continue
		}
		if f.After != nil && !f.After.Precedes(e) {
			continue
		}
		result = append(result, e)
	}
	sort.SliceStable(result, func(i, j int) bool { return audit.Less(result[i], result[j]) })
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *MockAuditRepository) RedactSubject(ctx context.Context, subject string, resources []audit.Ref, at time.Time) (int64, error) {
	if m.RedactSubjectFunc != nil {
		return m.RedactSubjectFunc(ctx, subject, resources, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.RedactedAt != nil {
			continue
		}
		about := slices.Contains(resources, audit.Ref{Type: e.ResourceType, ID: e.ResourceID})
		if (subject != "" && e.ActorEmail == subject) || about {
			e.ActorEmail = ""
			e.IPAddress = ""
			e.UserAgent = ""
			e.Detail = nil
			e.RedactedAt = &at
			n++
		}
	}
	return n, nil
}

// Entries returns every stored entry in append order.
func (m *MockAuditRepository) Entries() []*audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

// ByAction returns the stored entries with the given action.
func (m *MockAuditRepository) ByAction(action string) []*audit.Entry {
	var result []*audit.Entry
	for _, e := range m.Entries() {
		if e.Action == action {
			result = append(result, e)
		}
	}
	return result
}

// ForResource returns the stored entries about one resource.
func (m *MockAuditRepository) ForResource(resourceType, resourceID string) []*audit.Entry {
	var result []*audit.Entry
	for _, e := range m.Entries() {
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			result = append(result, e)
		}
	}
	return result
}

// MockAuditDeadLetter records dead-lettered entries.
type MockAuditDeadLetter struct {
	mu      sync.Mutex
	Entries []*audit.Entry

	DeadLetterFunc func(ctx context.Context, e *audit.Entry, cause error) error
}

func (m *MockAuditDeadLetter) DeadLetter(ctx context.Context, e *audit.Entry, cause error) error {
	if m.DeadLetterFunc != nil {
		return m.DeadLetterFunc(ctx, e, cause)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

// --- Processor Mock ---

// MockProcessor wraps the development gateway with call counting and overrides.
type MockProcessor struct {
	*gateway.MockProcessor

	mu          sync.Mutex
	CreateCalls []gateway.CreateOrderRequest

	CreateOrderFunc func(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.CreateOrderResult, error)
}

// NewMockProcessor returns a mock gateway named name with no latency.
func NewMockProcessor(name string) *MockProcessor {
	return &MockProcessor{MockProcessor: gateway.NewMockProcessor(name, gateway.WithLatency(0))}
}

func (p *MockProcessor) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.CreateOrderResult, error) {
	p.mu.Lock()
	p.CreateCalls = append(p.CreateCalls, req)
	p.mu.Unlock()
	if p.CreateOrderFunc != nil {
		return p.CreateOrderFunc(ctx, req)
	}
	return p.MockProcessor.CreateOrder(ctx, req)
}

// Calls returns how many times CreateOrder ran.
func (p *MockProcessor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CreateCalls)
}

// --- Notification Sender Mock ---

// SentMessage is one call to MockSender.Send.
type SentMessage struct {
	Channel   notify.Channel
	Template  string
	Recipient string
	Vars      map[string]string
}

// MockSender records messages instead of delivering them.
type MockSender struct {
	mu   sync.Mutex
	sent []SentMessage

	SendFunc func(ctx context.Context, channel notify.Channel, template, recipient string, vars map[string]string) error
}

func (m *MockSender) Send(ctx context.Context, channel notify.Channel, template, recipient string, vars map[string]string) error {
	m.mu.Lock()
	m.sent = append(m.sent, SentMessage{Channel: channel, Template: template, Recipient: recipient, Vars: vars})
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, channel, template, recipient, vars)
	}
	return nil
}

// Sent returns every recorded message.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// --- Idempotency Store Mock ---

type MockIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*postgres.IdempotencyEntry

	GetErr error
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{entries: make(map[string]*postgres.IdempotencyEntry)}
}

func (s *MockIdempotencyStore) Get(_ context.Context, key string) (*postgres.IdempotencyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	return s.entries[key], nil
}

func (s *MockIdempotencyStore) Set(_ context.Context, e *postgres.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = e
	return nil
}

// Len returns how many responses are stored.
func (s *MockIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
