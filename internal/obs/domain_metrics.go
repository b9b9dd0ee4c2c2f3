package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ERPRequestsTotal counts ERP calls by operation and outcome.
	ERPRequestsTotal *prometheus.CounterVec
	// ERPRequestLatency records ERP call latency in milliseconds.
	ERPRequestLatency *prometheus.HistogramVec
	// SubscriptionSavesTotal counts recurring-order save outcomes.
	SubscriptionSavesTotal *prometheus.CounterVec
	// SubscriptionCancelsTotal counts recurring-order cancel outcomes.
	SubscriptionCancelsTotal *prometheus.CounterVec
	// PromotionsSkippedTotal counts malformed promotion tiers ignored by the resolver.
	PromotionsSkippedTotal prometheus.Counter
	// PromotionCacheTotal counts promotion cache lookups by result.
	PromotionCacheTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ERPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "erp_requests_total",
			Help:      "Count of ERP requests by operation and outcome.",
		}, []string{"op", "result"})
		ERPRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "erp_request_duration_ms",
			Help:      "Latency of ERP requests in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"op"})
		SubscriptionSavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_saves_total",
			Help:      "Count of recurring-order save outcomes.",
		}, []string{"result"})
		SubscriptionCancelsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_cancels_total",
			Help:      "Count of recurring-order cancel outcomes.",
		}, []string{"result"})
		PromotionsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_promotions_skipped_total",
			Help:      "Number of malformed promotion tiers skipped during resolution.",
		})
		PromotionCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_promotion_cache_total",
			Help:      "Promotion cache lookups by result.",
		}, []string{"result"})

		mustRegisterCollector(reg, ERPRequestsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ERPRequestsTotal = v
			}
		})
		mustRegisterCollector(reg, ERPRequestLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ERPRequestLatency = v
			}
		})
		mustRegisterCollector(reg, SubscriptionSavesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SubscriptionSavesTotal = v
			}
		})
		mustRegisterCollector(reg, SubscriptionCancelsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SubscriptionCancelsTotal = v
			}
		})
		mustRegisterCollector(reg, PromotionsSkippedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				PromotionsSkippedTotal = v
			}
		})
		mustRegisterCollector(reg, PromotionCacheTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionCacheTotal = v
			}
		})
	})
}

// ObserveERP records the outcome and latency of a single ERP call.
func ObserveERP(op, result string, elapsed time.Duration) {
	if ERPRequestsTotal != nil {
		ERPRequestsTotal.WithLabelValues(op, result).Inc()
	}
	if ERPRequestLatency != nil {
		ERPRequestLatency.WithLabelValues(op).Observe(DurationMillis(elapsed))
	}
}

// CountSave records a subscription save outcome.
func CountSave(result string) {
	if SubscriptionSavesTotal != nil {
		SubscriptionSavesTotal.WithLabelValues(result).Inc()
	}
}

// CountCancel records a subscription cancel outcome.
func CountCancel(result string) {
	if SubscriptionCancelsTotal != nil {
		SubscriptionCancelsTotal.WithLabelValues(result).Inc()
	}
}

// CountPromotionSkipped records a malformed promotion tier.
func CountPromotionSkipped() {
	if PromotionsSkippedTotal != nil {
		PromotionsSkippedTotal.Inc()
	}
}

// CountPromotionCache records a promotion cache hit or miss.
func CountPromotionCache(result string) {
	if PromotionCacheTotal != nil {
		PromotionCacheTotal.WithLabelValues(result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
