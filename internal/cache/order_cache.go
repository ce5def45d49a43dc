package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/repository"
)

type OrderRepository interface {
	GetAllActiveOrders(ctx context.Context) ([]*repository.Order, error)
}

// OrderCache keeps active orders (ready_for_pickup, picked_up) in memory for
// point lookups on the scan path. Terminal orders are evicted on write.
type OrderCache struct {
	mu     sync.RWMutex
	cache  map[string]*repository.Order
	repo   OrderRepository
	logger *zap.Logger
}

func NewOrderCache(repo OrderRepository, logger *zap.Logger) *OrderCache {
	return &OrderCache{
		cache:  make(map[string]*repository.Order),
		repo:   repo,
		logger: logger,
	}
}

func (c *OrderCache) LoadInitialData(ctx context.Context) error {
	orders, err := c.repo.GetAllActiveOrders(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, order := range orders {
		orderCopy := *order
		c.cache[order.ID] = &orderCopy
	}
	size := len(c.cache)
	c.mu.Unlock()

	metrics.OrderCacheItems.Set(float64(size))
	c.logger.Info("order cache warmed", zap.Int("orders", size))
	return nil
}

func (c *OrderCache) Get(orderID string) (*repository.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	order, found := c.cache[orderID]
	if !found {
		return nil, false
	}
	orderCopy := *order
	return &orderCopy, true
}

func (c *OrderCache) Set(order *repository.Order) {
	if !isActiveStatus(order.Status) {
		c.Delete(order.ID)
		return
	}

	c.mu.Lock()
	orderCopy := *order
	c.cache[order.ID] = &orderCopy
	size := len(c.cache)
	c.mu.Unlock()

	metrics.OrderCacheItems.Set(float64(size))
}

func (c *OrderCache) Delete(orderID string) {
	c.mu.Lock()
	delete(c.cache, orderID)
	size := len(c.cache)
	c.mu.Unlock()

	metrics.OrderCacheItems.Set(float64(size))
}

func isActiveStatus(status string) bool {
	return status == "ready_for_pickup" || status == "picked_up"
}
