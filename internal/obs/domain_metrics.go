package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentCreateTotal counts payment creation attempts.
	PaymentCreateTotal *prometheus.CounterVec
	// PaymentVerifyTotal counts client checkout verification outcomes.
	PaymentVerifyTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound gateway webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// PaymentRefundTotal counts refund processing outcomes.
	PaymentRefundTotal *prometheus.CounterVec
	// BookingSyncTotal counts booking projection sync outcomes.
	BookingSyncTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_create_total",
			Help:      "Count of payment creation outcomes.",
		}, []string{"method", "result"})
		PaymentVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verify_total",
			Help:      "Count of checkout verification outcomes.",
		}, []string{"result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed gateway webhooks by event and outcome.",
		}, []string{"event", "result"})
		PaymentRefundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_refund_total",
			Help:      "Count of refund processing outcomes.",
		}, []string{"result"})
		BookingSyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_sync_total",
			Help:      "Count of booking projection sync outcomes.",
		}, []string{"result"})
		reg.MustRegister(PaymentCreateTotal, PaymentVerifyTotal, PaymentWebhookTotal, PaymentRefundTotal, BookingSyncTotal)
	})
}
