package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for price lookups.
const (
	PriceCacheHit = "hit"
	PriceFetched  = "fetched"
	PriceFallback = "fallback"
)

// Registry groups the collectors exported by the oracle.
type Registry struct {
	priceLookups        *prometheus.CounterVec
	polPrice            prometheus.Gauge
	eligibilityDecision *prometheus.CounterVec
	settlementDiff      prometheus.Gauge
	settlementValid     prometheus.Gauge
	settledDays         *prometheus.CounterVec
}

var (
	once     sync.Once
	registry *Registry
)

// Default returns the process-wide registry, registering collectors on first use.
func Default() *Registry {
	once.Do(func() {
		registry = &Registry{
			priceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "time26_price_lookups_total",
				Help: "POL price lookups by outcome (hit, fetched, fallback).",
			}, []string{"outcome"}),
			polPrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "time26_pol_price_usd",
				Help: "Last POL/USD price resolved by the oracle.",
			}),
			eligibilityDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "time26_eligibility_decisions_total",
				Help: "Gasless sponsorship decisions by reason.",
			}, []string{"reason"}),
			settlementDiff: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "time26_settlement_difference_wei",
				Help: "Initial deposit minus accounted funds for the latest settled day.",
			}),
			settlementValid: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "time26_settlement_valid",
				Help: "1 when the latest settlement snapshot balanced, 0 otherwise.",
			}),
			settledDays: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "time26_settled_days_total",
				Help: "Settlement days processed by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			registry.priceLookups,
			registry.polPrice,
			registry.eligibilityDecision,
			registry.settlementDiff,
			registry.settlementValid,
			registry.settledDays,
		)
	})
	return registry
}

// ObservePriceLookup counts a POL price lookup by outcome and records the price served.
func (r *Registry) ObservePriceLookup(outcome string, usd float64) {
	if r == nil {
		return
	}
	r.priceLookups.WithLabelValues(outcome).Inc()
	if usd > 0 {
		r.polPrice.Set(usd)
	}
}

// ObserveEligibility counts an eligibility decision by reason.
func (r *Registry) ObserveEligibility(reason string) {
	if r == nil {
		return
	}
	if reason == "" {
		reason = "eligible"
	}
	r.eligibilityDecision.WithLabelValues(reason).Inc()
}

// ObserveSettlement records the latest settlement difference and validity.
func (r *Registry) ObserveSettlement(difference float64, valid bool) {
	if r == nil {
		return
	}
	r.settlementDiff.Set(difference)
	result := "invalid"
	if valid {
		r.settlementValid.Set(1)
		result = "valid"
	} else {
		r.settlementValid.Set(0)
	}
	r.settledDays.WithLabelValues(result).Inc()
}
