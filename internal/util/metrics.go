package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redemption_sessions_created_total",
		Help: "Total number of redemption sessions created",
	})

	SessionsApprovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redemption_sessions_approved_total",
		Help: "Total number of sessions approved by customers",
	})

	SessionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redemption_sessions_rejected_total",
		Help: "Total number of rejected sessions",
	}, []string{"by"})

	SessionsConsumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redemption_sessions_consumed_total",
		Help: "Total number of sessions consumed by settlement",
	})

	SessionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redemption_sessions_expired_total",
		Help: "Total number of sessions swept to expired",
	})

	SessionsRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redemption_sessions_rate_limited_total",
		Help: "Total number of session creations refused by the rate limiter",
	})

	SessionTransitionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redemption_session_transitions_failed_total",
		Help: "Total number of conditional session transitions that lost",
	}, []string{"reason"})

	PromoReservationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promo_reservations_total",
		Help: "Total number of successful promo code reservations",
	})

	PromoReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promo_reservations_failed_total",
		Help: "Total number of failed promo code reservations",
	}, []string{"reason"})

	PromoRollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promo_rollbacks_total",
		Help: "Total number of promo reservation rollbacks",
	})

	RewardsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewards_issued_total",
		Help: "Total number of off-chain rewards credited to customers",
	})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_total",
		Help: "Total number of settled redemptions",
	}, []string{"strategy"})

	BurnFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burn_failures_total",
		Help: "Total number of on-chain burn failures (fell back to database-only)",
	})

	SettlementPartialFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_partial_failures_total",
		Help: "Total number of settlements where the burn committed but the off-chain debit failed",
	})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_latency_seconds",
		Help:    "Latency of redemption settlement",
		Buckets: prometheus.DefBuckets,
	})

	ReconciliationRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_retries_total",
		Help: "Total number of reconciliation retry attempts",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
