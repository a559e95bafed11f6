package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchasesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchases_created_total",
		Help: "Total number of purchases created",
	})

	PurchasesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_failed_total",
		Help: "Total number of failed purchases",
	}, []string{"reason"})

	GatewayAuthTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_auth_total",
		Help: "Total number of gateway authentication attempts",
	}, []string{"result"})

	GatewayOrdersSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_orders_submitted_total",
		Help: "Total number of orders submitted to the payment gateway",
	})

	GatewayStatusQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_status_queries_total",
		Help: "Total number of transaction status queries",
	}, []string{"result"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	NotificationsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_notifications_received_total",
		Help: "Total number of inbound payment notifications",
	}, []string{"transport"})

	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliations_total",
		Help: "Total number of reconciliation attempts by outcome",
	}, []string{"outcome"})

	ReconciliationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconciliation_latency_seconds",
		Help:    "Latency of payment status reconciliation",
		Buckets: prometheus.DefBuckets,
	})

	TicketIssuanceEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_issuance_events_total",
		Help: "Total number of ticket issuance events published",
	})

	TicketsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_issued_total",
		Help: "Total number of tickets marked issued by the worker",
	})

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
