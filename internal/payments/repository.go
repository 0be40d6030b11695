package payments

import (
	"context"
	"sort"
	"sync"
)

// Repository persists payment records and saved methods. Save is a
// compare-and-swap on Version: prevVersion 0 inserts.
type Repository interface {
	Get(ctx context.Context, orderID string) (Record, error)
	GetByIntent(ctx context.Context, intentID string) (Record, error)
	Save(ctx context.Context, r Record, prevVersion int) error
	SaveMethod(ctx context.Context, m SavedMethod) error
	ListMethods(ctx context.Context, buyerID string) ([]SavedMethod, error)
}

type MemoryRepository struct {
	mu       sync.RWMutex
	records  map[string]Record
	byIntent map[string]string
	methods  map[string][]SavedMethod
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:  make(map[string]Record),
		byIntent: make(map[string]string),
		methods:  make(map[string][]SavedMethod),
	}
}

func (m *MemoryRepository) Get(_ context.Context, orderID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[orderID]
	if !ok {
		return Record{}, ErrNotFound.With("no payment for order %s", orderID)
	}
	return r.clone(), nil
}

func (m *MemoryRepository) GetByIntent(ctx context.Context, intentID string) (Record, error) {
	m.mu.RLock()
	orderID, ok := m.byIntent[intentID]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound.With("no payment for intent %s", intentID)
	}
	return m.Get(ctx, orderID)
}

func (m *MemoryRepository) Save(_ context.Context, r Record, prevVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.records[r.OrderID]
	switch {
	case prevVersion == 0 && exists:
		return ErrVersionConflict.With("payment for order %s already exists", r.OrderID)
	case prevVersion != 0 && (!exists || cur.Version != prevVersion):
		return ErrVersionConflict.With("payment for order %s changed", r.OrderID)
	}
	if exists && cur.IntentID != r.IntentID {
		delete(m.byIntent, cur.IntentID)
	}
	if r.IntentID != "" {
		m.byIntent[r.IntentID] = r.OrderID
	}
	m.records[r.OrderID] = r.clone()
	return nil
}

func (m *MemoryRepository) SaveMethod(_ context.Context, sm SavedMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.methods[sm.BuyerID]
	if sm.IsDefault {
		for i := range list {
			list[i].IsDefault = false
		}
	}
	m.methods[sm.BuyerID] = append(list, sm)
	return nil
}

func (m *MemoryRepository) ListMethods(_ context.Context, buyerID string) ([]SavedMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]SavedMethod(nil), m.methods[buyerID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
