package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const domainNamespace = "chargx_gateway"

var (
	domainOnce sync.Once

	// TokenizationTotal counts card tokenization attempts by outcome.
	TokenizationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "tokenization_total",
		Help:      "Count of card tokenization attempts by outcome.",
	}, []string{"result"})

	// SettlementTotal counts settlement outcomes by payment method and capture mode.
	SettlementTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "settlement_total",
		Help:      "Count of settlement outcomes by payment method and capture mode.",
	}, []string{"method", "mode", "result"})

	// WalletSessionTotal counts wallet session terminal states by wallet kind.
	WalletSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "wallet_session_total",
		Help:      "Count of wallet session terminal states.",
	}, []string{"wallet", "result"})

	// RelayValidationTotal counts merchant validation relay outcomes.
	RelayValidationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "relay_validation_total",
		Help:      "Count of Apple Pay merchant validation relay outcomes.",
	}, []string{"result"})

	// ProcessorCallLatency records processor API call latency in milliseconds.
	ProcessorCallLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: domainNamespace,
		Name:      "processor_call_duration_ms",
		Help:      "Latency of processor API calls in milliseconds.",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"operation", "result"})
)

// MustRegisterDomainMetrics registers the domain collectors on reg. Safe to
// call more than once; an already registered collector is reused.
func MustRegisterDomainMetrics(reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		registerCounterVec(reg, &TokenizationTotal)
		registerCounterVec(reg, &SettlementTotal)
		registerCounterVec(reg, &WalletSessionTotal)
		registerCounterVec(reg, &RelayValidationTotal)
		registerHistogramVec(reg, &ProcessorCallLatency)
	})
}

func registerCounterVec(reg prometheus.Registerer, vec **prometheus.CounterVec) {
	if err := reg.Register(*vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if ok := asAlreadyRegistered(err, &are); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				*vec = existing
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}

func registerHistogramVec(reg prometheus.Registerer, vec **prometheus.HistogramVec) {
	if err := reg.Register(*vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if ok := asAlreadyRegistered(err, &are); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				*vec = existing
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}

func asAlreadyRegistered(err error, target *prometheus.AlreadyRegisteredError) bool {
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		*target = are
		return true
	}
	return false
}
