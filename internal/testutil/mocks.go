package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/gatewire/gatewire/internal/domain/notification"
	"github.com/gatewire/gatewire/internal/domain/order"
	"github.com/gatewire/gatewire/internal/domain/outbox"
	"github.com/google/uuid"
)

// --- Order Repository Mock ---

// MockOrderRepository is an in-memory implementation of order.Repository.
// Any XxxFunc field overrides the default behavior for that method.
type MockOrderRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*order.Order

	GetByIDFunc      func(ctx context.Context, id uuid.UUID) (*order.Order, error)
	GetForUpdateFunc func(ctx context.Context, id uuid.UUID) (*order.Order, error)
	UpdateStatusFunc func(ctx context.Context, o *order.Order) error
}

func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{orders: make(map[uuid.UUID]*order.Order)}
}

// Seed stores an order for later lookups.
func (m *MockOrderRepository) Seed(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
}

func (m *MockOrderRepository) get(id uuid.UUID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return m.get(id)
}

func (m *MockOrderRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	if m.GetForUpdateFunc != nil {
		return m.GetForUpdateFunc(ctx, id)
	}
	return m.get(id)
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, o *order.Order) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[o.ID]
	if !ok {
		return domainErrors.ErrOrderNotFound
	}
	stored.Status = o.Status
	stored.Version++
	stored.UpdatedAt = o.UpdatedAt
	return nil
}

// --- Attempt Repository Mock ---

// MockAttemptRepository is an in-memory implementation of attempt.Repository.
type MockAttemptRepository struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*attempt.PaymentAttempt

	CreateFunc          func(ctx context.Context, a *attempt.PaymentAttempt) error
	GetByIDFunc         func(ctx context.Context, id uuid.UUID) (*attempt.PaymentAttempt, error)
	GetByGatewayRefFunc func(ctx context.Context, gw attempt.Gateway, externalRef string) (*attempt.PaymentAttempt, error)
	SetExternalRefFunc  func(ctx context.Context, id uuid.UUID, externalRef string) error
	UpdateStatusFunc    func(ctx context.Context, a *attempt.PaymentAttempt) error
	ListByOrderFunc     func(ctx context.Context, orderID uuid.UUID) ([]*attempt.PaymentAttempt, error)
}

func NewMockAttemptRepository() *MockAttemptRepository {
	return &MockAttemptRepository{attempts: make(map[uuid.UUID]*attempt.PaymentAttempt)}
}

// Seed stores an attempt for later lookups.
func (m *MockAttemptRepository) Seed(a *attempt.PaymentAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.attempts[a.ID] = &cp
}

func (m *MockAttemptRepository) Create(ctx context.Context, a *attempt.PaymentAttempt) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ExternalRef != nil {
		for _, existing := range m.attempts {
			if existing.Gateway == a.Gateway && existing.ExternalRef != nil && *existing.ExternalRef == *a.ExternalRef {
				return domainErrors.ErrDuplicateGatewayRef
			}
		}
	}
	cp := *a
	m.attempts[a.ID] = &cp
	return nil
}

func (m *MockAttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*attempt.PaymentAttempt, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, domainErrors.ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAttemptRepository) GetByGatewayRef(ctx context.Context, gw attempt.Gateway, externalRef string) (*attempt.PaymentAttempt, error) {
	if m.GetByGatewayRefFunc != nil {
		return m.GetByGatewayRefFunc(ctx, gw, externalRef)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.Gateway == gw && a.ExternalRef != nil && *a.ExternalRef == externalRef {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrAttemptNotFound
}

func (m *MockAttemptRepository) SetExternalRef(ctx context.Context, id uuid.UUID, externalRef string) error {
	if m.SetExternalRefFunc != nil {
		return m.SetExternalRefFunc(ctx, id, externalRef)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return domainErrors.ErrAttemptNotFound
	}
	return a.SetExternalRef(externalRef)
}

func (m *MockAttemptRepository) UpdateStatus(ctx context.Context, a *attempt.PaymentAttempt) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.attempts[a.ID]
	if !ok {
		return domainErrors.ErrAttemptNotFound
	}
	stored.Status = a.Status
	stored.RawResponse = a.RawResponse
	stored.UpdatedAt = a.UpdatedAt
	return nil
}

func (m *MockAttemptRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*attempt.PaymentAttempt, error) {
	if m.ListByOrderFunc != nil {
		return m.ListByOrderFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*attempt.PaymentAttempt
	for _, a := range m.attempts {
		if a.OrderID == orderID {
			cp := *a
			out = append(out, &cp)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.Before(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// --- Notification Repository Mock ---

// MockNotificationRepository is an in-memory implementation of
// notification.Repository keyed by (gateway, event_id).
type MockNotificationRepository struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*notification.Notification
	byEvent map[string]uuid.UUID

	RecordIfNewFunc     func(ctx context.Context, n *notification.Notification) (bool, uuid.UUID, error)
	GetByIDFunc         func(ctx context.Context, id uuid.UUID) (*notification.Notification, error)
	MarkOutcomeFunc     func(ctx context.Context, id uuid.UUID, outcome notification.Outcome) error
	ListUnprocessedFunc func(ctx context.Context, olderThan time.Time, limit int) ([]*notification.Notification, error)
	CountByOutcomeFunc  func(ctx context.Context, gw attempt.Gateway, outcome notification.Outcome) (int64, error)
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{
		rows:    make(map[uuid.UUID]*notification.Notification),
		byEvent: make(map[string]uuid.UUID),
	}
}

func eventKey(gw attempt.Gateway, eventID string) string {
	return string(gw) + "|" + eventID
}

func (m *MockNotificationRepository) RecordIfNew(ctx context.Context, n *notification.Notification) (bool, uuid.UUID, error) {
	if m.RecordIfNewFunc != nil {
		return m.RecordIfNewFunc(ctx, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventKey(n.Gateway, n.EventID)
	if existing, ok := m.byEvent[key]; ok {
		return false, existing, nil
	}
	cp := *n
	m.rows[n.ID] = &cp
	m.byEvent[key] = n.ID
	return true, n.ID, nil
}

func (m *MockNotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*notification.Notification, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return nil, domainErrors.ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *MockNotificationRepository) MarkOutcome(ctx context.Context, id uuid.UUID, outcome notification.Outcome) error {
	if m.MarkOutcomeFunc != nil {
		return m.MarkOutcomeFunc(ctx, id, outcome)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return domainErrors.ErrNotificationNotFound
	}
	if n.Outcome == notification.OutcomeUnprocessed {
		n.Resolve(outcome)
	}
	return nil
}

func (m *MockNotificationRepository) ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]*notification.Notification, error) {
	if m.ListUnprocessedFunc != nil {
		return m.ListUnprocessedFunc(ctx, olderThan, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notification.Notification
	for _, n := range m.rows {
		if n.Outcome == notification.OutcomeUnprocessed && n.ReceivedAt.Before(olderThan) {
			cp := *n
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) CountByOutcome(ctx context.Context, gw attempt.Gateway, outcome notification.Outcome) (int64, error) {
	if m.CountByOutcomeFunc != nil {
		return m.CountByOutcomeFunc(ctx, gw, outcome)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.rows {
		if n.Gateway == gw && n.Outcome == outcome {
			count++
		}
	}
	return count, nil
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is an in-memory implementation of outbox.Repository.
type MockOutboxRepository struct {
	mu      sync.Mutex
	Entries []*outbox.Entry

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
	cp := *entry
	m.Entries = append(m.Entries, &cp)
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*outbox.Entry
	for _, e := range m.Entries {
		if e.Status == outbox.StatusPending {
			cp := *e
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.ID == id {
			e.Status = outbox.StatusPublished
			now := time.Now()
			e.PublishedAt = &now
			return nil
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
	for _, e := range m.Entries {
		if e.ID == id {
			e.RetryCount++
			if e.RetryCount >= e.MaxRetries {
				e.Status = outbox.StatusFailed
			}
			return nil
		}
	}
	return nil
}

// --- Transaction Manager Mock ---

// MockTxManager runs the function directly; the mocks above have no
// transaction semantics to coordinate.
type MockTxManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *MockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}
