package verification

import "time"

type OrderStatus string

const (
	StatusReadyForPickup        OrderStatus = "ready_for_pickup"
	StatusPickedUp              OrderStatus = "picked_up"
	StatusReturnedPendingRefund OrderStatus = "returned_pending_refund"
)

const (
	// DynamicCodeMaxAge is the oldest a presented timestamp may be before a
	// dynamic-code scan is rejected as a replay.
	DynamicCodeMaxAge = 30 * time.Second

	// GuestCodeValidity is the lifetime of a guest credential from issuance.
	GuestCodeValidity = 60 * time.Minute

	// GuestCodeExpiryTolerance absorbs clock and network skew when checking
	// a guest credential's expiry. Dynamic-code freshness has no such margin.
	GuestCodeExpiryTolerance = 1000 * time.Millisecond

	// ReturnWindow is how long after pickup a return scan is accepted.
	ReturnWindow = 14 * 24 * time.Hour

	GuestCodeLength = 6
)

type Order struct {
	ID      string      `json:"id"`
	UserID  string      `json:"user_id"`
	StoreID string      `json:"store_id"`
	Status  OrderStatus `json:"status"`

	// MaxTime is the return-window deadline. Set only while the order is
	// picked_up; nil in every other status.
	MaxTime *time.Time `json:"max_time,omitempty"`

	PickedUpAt *time.Time `json:"picked_up_at,omitempty"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// GuestCredential is a single-use, time-boxed code bound to one order. At
// most one live credential exists per order; issuing a new one supersedes
// the previous.
type GuestCredential struct {
	Code      string    `json:"code"`
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ScanEvent is one verification attempt from a store or locker reader. A
// non-empty GuestCode selects the guest-code path; otherwise the presented
// user identity and timestamp act as a dynamic rotating code.
type ScanEvent struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	StoreID   string    `json:"store_id"`
	GuestCode string    `json:"guest_code,omitempty"`
}

type TransactionType string

const (
	TransactionPickup TransactionType = "PICKUP"
	TransactionReturn TransactionType = "RETURN"
)

type AuthMethod string

const (
	AuthDynamicCode AuthMethod = "DYNAMIC_CODE"
	AuthGuestCode   AuthMethod = "GUEST_CODE"
)

// VerificationResult reports the outcome of one scan. Validation failures
// come back with Success=false and a human-readable Message; they are never
// returned as Go errors.
type VerificationResult struct {
	Success         bool            `json:"success"`
	TransactionType TransactionType `json:"transaction_type,omitempty"`
	AuthMethod      AuthMethod      `json:"auth_method"`
	Message         string          `json:"message"`
	Order           *Order          `json:"order,omitempty"`
}
