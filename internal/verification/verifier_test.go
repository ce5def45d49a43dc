package verification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/metrics"
)

func fixedTime(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2025-03-10T12:00:00Z")
	require.NoError(t, err)
	return ts
}

func newTestVerifier(t *testing.T, store Store, now time.Time) *Verifier {
	t.Helper()
	v := NewVerifier(store, zap.NewNop())
	v.now = func() time.Time { return now }
	return v
}

func seedOrder(t *testing.T, store *MemStore, order Order) {
	t.Helper()
	require.NoError(t, store.CreateOrder(context.Background(), order))
}

func TestVerify_DynamicCode_Pickup(t *testing.T) {
	ctx := context.Background()
	now := fixedTime(t)

	t.Run("fresh scan at the correct store picks up", func(t *testing.T) {
		store := NewMemStore()
		seedOrder(t, store, Order{ID: "ORD-1001", UserID: "user-1", StoreID: "MODIVO", Status: StatusReadyForPickup})
		v := newTestVerifier(t, store, now)

		res, err := v.Verify(ctx, ScanEvent{
			UserID:    "user-1",
			StoreID:   "MODIVO",
			Timestamp: now.Add(-5 * time.Second),
		})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, TransactionPickup, res.TransactionType)
		assert.Equal(t, AuthDynamicCode, res.AuthMethod)

		stored, err := store.OrderByID(ctx, "ORD-1001")
		require.NoError(t, err)
		assert.Equal(t, StatusPickedUp, stored.Status)
		require.NotNil(t, stored.MaxTime)
		assert.Equal(t, now.Add(ReturnWindow), *stored.MaxTime)
		require.NotNil(t, stored.PickedUpAt)
		assert.Equal(t, now, *stored.PickedUpAt)
	})

	t.Run("scan at a different store does not pick up", func(t *testing.T) {
		store := NewMemStore()
		seedOrder(t, store, Order{ID: "ORD-1001", UserID: "user-1", StoreID: "MODIVO", Status: StatusReadyForPickup})
		v := newTestVerifier(t, store, now)

		res, err := v.Verify(ctx, ScanEvent{
			UserID:    "user-1",
			StoreID:   "INPOST",
			Timestamp: now.Add(-5 * time.Second),
		})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "no parcel ready for pickup")

		stored, err := store.OrderByID(ctx, "ORD-1001")
		require.NoError(t, err)
		assert.Equal(t, StatusReadyForPickup, stored.Status)
	})

	t.Run("second scan after pickup takes the return path", func(t *testing.T) {
		store := NewMemStore()
		seedOrder(t, store, Order{ID: "ORD-1001", UserID: "user-1", StoreID: "MODIVO", Status: StatusReadyForPickup})
		v := newTestVerifier(t, store, now)

		scan := ScanEvent{UserID: "user-1", StoreID: "MODIVO", Timestamp: now.Add(-time.Second)}
		first, err := v.Verify(ctx, scan)
		require.NoError(t, err)
		require.True(t, first.Success)
		require.Equal(t, TransactionPickup, first.TransactionType)

		second, err := v.Verify(ctx, scan)
		require.NoError(t, err)
		assert.True(t, second.Success)
		assert.Equal(t, TransactionReturn, second.TransactionType)
	})
}

func TestVerify_DynamicCode_Return(t *testing.T) {
	ctx := context.Background()
	now := fixedTime(t)

	t.Run("return accepted at any affiliated store", func(t *testing.T) {
		store := NewMemStore()
		deadline := now.Add(13 * 24 * time.Hour)
		seedOrder(t, store, Order{ID: "ORD-1001", UserID: "user-1", StoreID: "MODIVO", Status: StatusPickedUp, MaxTime: &deadline})
		v := newTestVerifier(t, store, now)

		res, err := v.Verify(ctx, ScanEvent{
			UserID:    "user-1",
			StoreID:   "INPOST",
			Timestamp: now.Add(-2 * time.Second),
		})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, TransactionReturn, res.TransactionType)

		stored, err := store.OrderByID(ctx, "ORD-1001")
		require.NoError(t, err)
		assert.Equal(t, StatusReturnedPendingRefund, stored.Status)
		assert.Nil(t, stored.MaxTime)
		require.NotNil(t, stored.ReturnedAt)
		assert.Equal(t, now, *stored.ReturnedAt)
	})

	t.Run("return after the window fails", func(t *testing.T) {
		store := NewMemStore()
		deadline := now.Add(-time.Hour)
		seedOrder(t, store, Order{ID: "ORD-1001", UserID: "user-1", StoreID: "MODIVO", Status: StatusPickedUp, MaxTime: &deadline})
		v := newTestVerifier(t, store, now)

		res, err := v.Verify(ctx, ScanEvent{
			UserID:    "user-1",
			StoreID:   "MODIVO",
			Timestamp: now.Add(-2 * time.Second),
		})
		require.NoError(t, err)
		assert.False(t, res.Success)

		stored, err := store.OrderByID(ctx, "ORD-1001")
		require.NoError(t, err)
		assert.Equal(t, StatusPickedUp, stored.Status)
	})
}

func TestVerify_DynamicCode_Freshness(t *testing.T) {
	ctx := context.Background()
	now := fixedTime(t)

	store := NewMemStore()
	seedOrder(t, store, Order{ID: "ORD-1001", UserID: "user-1", StoreID: "MODIVO", Status: StatusReadyForPickup})
	v := newTestVerifier(t, store, now)

	cases := []struct {
		name      string
		age       time.Duration
		wantOK    bool
		wantInMsg string
	}{
		{name: "fresh", age: 5 * time.Second, wantOK: true},
		{name: "at the limit", age: 30 * time.Second, wantOK: true},
		{name: "one second stale", age: 31 * time.Second, wantInMsg: "no longer fresh"},
		{name: "far in the future", age: -time.Minute, wantInMsg: "in the future"},
		{name: "slightly in the future", age: -time.Millisecond, wantInMsg: "in the future"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := v.Verify(ctx, ScanEvent{
				UserID:    "user-1",
				StoreID:   "MODIVO",
				Timestamp: now.Add(-tc.age),
			})
			require.NoError(t, err)
			if tc.wantOK {
				assert.True(t, res.Success)
				// Reset for the next case.
				_, err := store.UpdateOrder(ctx, "ORD-1001", func(o *Order) error {
					o.Status = StatusReadyForPickup
					o.MaxTime = nil
					return nil
				})
				require.NoError(t, err)
				return
			}
			assert.False(t, res.Success)
			assert.Contains(t, res.Message, tc.wantInMsg)

			stored, err := store.OrderByID(ctx, "ORD-1001")
			require.NoError(t, err)
			assert.Equal(t, StatusReadyForPickup, stored.Status, "failed scan must not mutate the order")
		})
	}

	t.Run("missing identity or timestamp", func(t *testing.T) {
		res, err := v.Verify(ctx, ScanEvent{StoreID: "MODIVO", Timestamp: now})
		require.NoError(t, err)
		assert.False(t, res.Success)

		res, err = v.Verify(ctx, ScanEvent{UserID: "user-1", StoreID: "MODIVO"})
		require.NoError(t, err)
		assert.False(t, res.Success)
	})

	t.Run("unknown identity", func(t *testing.T) {
		res, err := v.Verify(ctx, ScanEvent{UserID: "nobody", StoreID: "MODIVO", Timestamp: now})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "no orders for this identity", res.Message)
	})
}

func TestVerify_DynamicCode_FirstMatchWins(t *testing.T) {
	ctx := context.Background()
	now := fixedTime(t)

	store := NewMemStore()
	deadline := now.Add(24 * time.Hour)
	seedOrder(t, store, Order{ID: "ORD-1", UserID: "user-1", StoreID: "MODIVO", Status: StatusPickedUp, MaxTime: &deadline})
	seedOrder(t, store, Order{ID: "ORD-2", UserID: "user-1", StoreID: "MODIVO", Status: StatusReadyForPickup})
	v := newTestVerifier(t, store, now)

	// Insertion order is the documented MemStore ordering: the picked_up
	// order is seen first and matches the return path even though a
	// ready_for_pickup order also exists at this store.
	res, err := v.Verify(ctx, ScanEvent{UserID: "user-1", StoreID: "MODIVO", Timestamp: now})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, TransactionReturn, res.TransactionType)
	assert.Equal(t, "ORD-1", res.Order.ID)
}

func TestVerify_GuestCode(t *testing.T) {
	ctx := context.Background()
	now := fixedTime(t)

	t.Run("valid guest code returns the order", func(t *testing.T) {
		store := NewMemStore()
		deadline := now.Add(7 * 24 * time.Hour)
		seedOrder(t, store, Order{ID: "ORD-1001", UserID: "user-1", StoreID: "MODIVO", Status: StatusPickedUp, MaxTime: &deadline})
		require.NoError(t, store.UpsertCredential(ctx, GuestCredential{
			Code: "123456", OrderID: "ORD-1001", UserID: "user-1", ExpiresAt: now.Add(30 * time.Minute),
		}))
		v := newTestVerifier(t, store, now)

		res, err := v.Verify(ctx, ScanEvent{StoreID: "INPOST", GuestCode: "123456"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, TransactionReturn, res.TransactionType)
		assert.Equal(t, AuthGuestCode, res.AuthMethod)
	})

	t.Run("unknown code fails without detail", func(t *testing.T) {
		store := NewMemStore()
		v := newTestVerifier(t, store, now)

		res, err := v.Verify(ctx, ScanEvent{StoreID: "MODIVO", GuestCode: "000000"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, msgInvalidGuestCode, res.Message)
	})

	t.Run("code is single use even after a failed validation", func(t *testing.T) {
		store := NewMemStore()
		deadline := now.Add(7 * 24 * time.Hour)
		seedOrder(t, store, Order{ID: "ORD-1001", UserID: "user-1", StoreID: "MODIVO", Status: StatusPickedUp, MaxTime: &deadline})
		require.NoError(t, store.UpsertCredential(ctx, GuestCredential{
			Code: "123456", OrderID: "ORD-1001", UserID: "user-1",
			ExpiresAt: now.Add(-time.Minute),
		}))
		v := newTestVerifier(t, store, now)

		first, err := v.Verify(ctx, ScanEvent{StoreID: "MODIVO", GuestCode: "123456"})
		require.NoError(t, err)
		assert.False(t, first.Success, "expired code must fail")

		// Consumed on the first attempt: retry reports the same failure.
		second, err := v.Verify(ctx, ScanEvent{StoreID: "MODIVO", GuestCode: "123456"})
		require.NoError(t, err)
		assert.False(t, second.Success)
		assert.Equal(t, msgInvalidGuestCode, second.Message)
	})

	t.Run("expiry tolerance absorbs sub-second skew", func(t *testing.T) {
		store := NewMemStore()
		deadline := now.Add(7 * 24 * time.Hour)
		seedOrder(t, store, Order{ID: "ORD-1001", UserID: "user-1", StoreID: "MODIVO", Status: StatusPickedUp, MaxTime: &deadline})
		require.NoError(t, store.UpsertCredential(ctx, GuestCredential{
			Code: "123456", OrderID: "ORD-1001", UserID: "user-1",
			ExpiresAt: now.Add(-500 * time.Millisecond),
		}))
		v := newTestVerifier(t, store, now)

		res, err := v.Verify(ctx, ScanEvent{StoreID: "MODIVO", GuestCode: "123456"})
		require.NoError(t, err)
		assert.True(t, res.Success)
	})

	t.Run("missing order is a consistency fault", func(t *testing.T) {
		store := NewMemStore()
		require.NoError(t, store.UpsertCredential(ctx, GuestCredential{
			Code: "123456", OrderID: "ORD-GONE", UserID: "user-1", ExpiresAt: now.Add(time.Hour),
		}))
		v := newTestVerifier(t, store, now)

		res, err := v.Verify(ctx, ScanEvent{StoreID: "MODIVO", GuestCode: "123456"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "no longer exists")
	})
}

func TestVerify_GuestCode_CountsEveryConsumption(t *testing.T) {
	ctx := context.Background()
	now := fixedTime(t)

	store := NewMemStore()
	require.NoError(t, store.UpsertCredential(ctx, GuestCredential{
		Code: "123456", OrderID: "ORD-1001", UserID: "user-1",
		ExpiresAt: now.Add(-time.Hour),
	}))
	v := newTestVerifier(t, store, now)

	before := testutil.ToFloat64(metrics.GuestCodesConsumedTotal)

	// The code is destroyed on lookup, so even a rejected scan counts.
	res, err := v.Verify(ctx, ScanEvent{StoreID: "MODIVO", GuestCode: "123456"})
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.GuestCodesConsumedTotal))

	res, err = v.Verify(ctx, ScanEvent{StoreID: "MODIVO", GuestCode: "123456"})
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.GuestCodesConsumedTotal), "an unknown code consumes nothing")
}

func TestVerify_GuestCode_ConcurrentPresentation(t *testing.T) {
	ctx := context.Background()
	now := fixedTime(t)

	store := NewMemStore()
	deadline := now.Add(7 * 24 * time.Hour)
	seedOrder(t, store, Order{ID: "ORD-1001", UserID: "user-1", StoreID: "MODIVO", Status: StatusPickedUp, MaxTime: &deadline})
	require.NoError(t, store.UpsertCredential(ctx, GuestCredential{
		Code: "123456", OrderID: "ORD-1001", UserID: "user-1", ExpiresAt: now.Add(time.Hour),
	}))
	v := newTestVerifier(t, store, now)

	const callers = 16
	results := make([]*VerificationResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = v.Verify(ctx, ScanEvent{StoreID: "INPOST", GuestCode: "123456"})
		}(i)
	}
	wg.Wait()

	successes := 0
	for i, res := range results {
		require.NoError(t, errs[i])
		if res.Success {
			successes++
		} else {
			assert.Equal(t, msgInvalidGuestCode, res.Message)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent caller may consume the code")
}

// gatedListStore holds every caller at the listing step until all of them
// have selected, so each one finalizes against the same observed state.
type gatedListStore struct {
	Store
	gate *sync.WaitGroup
}

func (s gatedListStore) OrdersOwnedBy(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.Store.OrdersOwnedBy(ctx, userID)
	s.gate.Done()
	s.gate.Wait()
	return orders, err
}

func TestVerify_ConcurrentPickupSameOrder(t *testing.T) {
	ctx := context.Background()
	now := fixedTime(t)

	store := NewMemStore()
	seedOrder(t, store, Order{ID: "ORD-1001", UserID: "user-1", StoreID: "MODIVO", Status: StatusReadyForPickup})

	const callers = 8
	var gate sync.WaitGroup
	gate.Add(callers)
	v := newTestVerifier(t, gatedListStore{Store: store, gate: &gate}, now)

	results := make([]*VerificationResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = v.Verify(ctx, ScanEvent{UserID: "user-1", StoreID: "MODIVO", Timestamp: now})
		}(i)
	}
	wg.Wait()

	successes := 0
	pickups := 0
	for i, res := range results {
		require.NoError(t, errs[i])
		if res.Success {
			successes++
			if res.TransactionType == TransactionPickup {
				pickups++
			}
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent scan may advance the order")
	assert.Equal(t, 1, pickups, "a ready order must be picked up exactly once")
}

// staleListStore serves order listings from a snapshot taken before a
// concurrent mutation, while writes go to the live store. It reproduces the
// window between order selection and finalization.
type staleListStore struct {
	Store
	snapshot []Order
}

func (s staleListStore) OrdersOwnedBy(_ context.Context, _ string) ([]Order, error) {
	return s.snapshot, nil
}

func TestVerify_StaleSelectionFailsInsteadOfReturning(t *testing.T) {
	ctx := context.Background()
	now := fixedTime(t)

	store := NewMemStore()
	seedOrder(t, store, Order{ID: "ORD-1001", UserID: "user-1", StoreID: "MODIVO", Status: StatusReadyForPickup})

	snapshot, err := store.OrdersOwnedBy(ctx, "user-1")
	require.NoError(t, err)

	// Another scan wins the pickup while this one still holds the
	// ready_for_pickup listing.
	first, err := newTestVerifier(t, store, now).Verify(ctx, ScanEvent{UserID: "user-1", StoreID: "MODIVO", Timestamp: now})
	require.NoError(t, err)
	require.True(t, first.Success)
	require.Equal(t, TransactionPickup, first.TransactionType)

	stale := newTestVerifier(t, staleListStore{Store: store, snapshot: snapshot}, now)
	second, err := stale.Verify(ctx, ScanEvent{UserID: "user-1", StoreID: "MODIVO", Timestamp: now})
	require.NoError(t, err)
	assert.False(t, second.Success, "the losing scan must fail, not turn into a return")
	assert.Contains(t, second.Message, "not in a scannable state")

	stored, err := store.OrderByID(ctx, "ORD-1001")
	require.NoError(t, err)
	assert.Equal(t, StatusPickedUp, stored.Status)
}
