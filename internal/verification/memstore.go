package verification

import (
	"context"
	"sync"
)

type memOrder struct {
	mu    sync.Mutex
	order Order
}

// MemStore is an in-process Store used by tests and the standalone demo.
// OrdersOwnedBy returns orders in insertion order. A per-order mutex makes
// UpdateOrder atomic per order without serializing updates across orders.
type MemStore struct {
	mu          sync.RWMutex
	orders      map[string]*memOrder
	ownerIndex  map[string][]string
	creds       map[string]GuestCredential
	credByOrder map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		orders:      make(map[string]*memOrder),
		ownerIndex:  make(map[string][]string),
		creds:       make(map[string]GuestCredential),
		credByOrder: make(map[string]string),
	}
}

func (s *MemStore) CreateOrder(_ context.Context, order Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return nil
	}
	s.orders[order.ID] = &memOrder{order: order}
	s.ownerIndex[order.UserID] = append(s.ownerIndex[order.UserID], order.ID)
	return nil
}

func (s *MemStore) OrdersOwnedBy(_ context.Context, userID string) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.ownerIndex[userID]
	orders := make([]Order, 0, len(ids))
	for _, id := range ids {
		mo := s.orders[id]
		mo.mu.Lock()
		orders = append(orders, mo.order)
		mo.mu.Unlock()
	}
	return orders, nil
}

func (s *MemStore) OrderByID(_ context.Context, orderID string) (*Order, error) {
	s.mu.RLock()
	mo, found := s.orders[orderID]
	s.mu.RUnlock()
	if !found {
		return nil, ErrOrderNotFound
	}

	mo.mu.Lock()
	defer mo.mu.Unlock()
	copied := mo.order
	return &copied, nil
}

func (s *MemStore) UpdateOrder(_ context.Context, orderID string, mutate func(*Order) error) (*Order, error) {
	s.mu.RLock()
	mo, found := s.orders[orderID]
	s.mu.RUnlock()
	if !found {
		return nil, ErrOrderNotFound
	}

	mo.mu.Lock()
	defer mo.mu.Unlock()

	working := mo.order
	if err := mutate(&working); err != nil {
		return nil, err
	}
	mo.order = working
	copied := working
	return &copied, nil
}

func (s *MemStore) ConsumeCredential(_ context.Context, code string) (*GuestCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, found := s.creds[code]
	if !found {
		return nil, ErrCredentialNotFound
	}
	delete(s.creds, code)
	delete(s.credByOrder, cred.OrderID)
	return &cred, nil
}

func (s *MemStore) UpsertCredential(_ context.Context, cred GuestCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, found := s.credByOrder[cred.OrderID]; found {
		delete(s.creds, prior)
	}
	s.creds[cred.Code] = cred
	s.credByOrder[cred.OrderID] = cred.Code
	return nil
}
