package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelgate_scans_total",
		Help: "Total number of scan verification attempts by auth method and result.",
	},
		[]string{"auth_method", "result"},
	)

	PickupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parcelgate_pickups_total",
		Help: "Total number of parcels successfully picked up.",
	})

	ReturnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parcelgate_returns_total",
		Help: "Total number of returns successfully accepted.",
	})

	GuestCodesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parcelgate_guest_codes_issued_total",
		Help: "Total number of guest codes issued.",
	})

	GuestCodesConsumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parcelgate_guest_codes_consumed_total",
		Help: "Total number of guest codes consumed by scans, valid or not.",
	})

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelgate_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)

	OrderCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parcelgate_order_cache_items",
		Help: "Current number of items in the order cache.",
	})

	ExpiredCredentialsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parcelgate_expired_credentials_swept_total",
		Help: "Total number of expired guest credentials removed by housekeeping.",
	})
)
