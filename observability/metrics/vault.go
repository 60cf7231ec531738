package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics tracks the deposit normalisation pipeline and the ledger.
type VaultMetrics struct {
	deposits           *prometheus.CounterVec
	depositFailures    *prometheus.CounterVec
	withdrawals        prometheus.Counter
	withdrawalFailures *prometheus.CounterVec
	routeFallbacks     prometheus.Counter
	heldValue          prometheus.Gauge
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the process-wide vault metrics registry.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_deposits_total",
				Help: "Count of normalised deposits by asset class.",
			}, []string{"class"}),
			depositFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_deposit_failures_total",
				Help: "Count of rejected deposits by reason.",
			}, []string{"reason"}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "vault_withdrawals_total",
				Help: "Count of settled withdrawals.",
			}),
			withdrawalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_withdrawal_failures_total",
				Help: "Count of rejected withdrawals by reason.",
			}, []string{"reason"}),
			routeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "vault_route_fallbacks_total",
				Help: "Count of deposits normalised through the bridged path.",
			}),
			heldValue: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "vault_held_value",
				Help: "Live custodial total of the stable asset.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.deposits,
			vaultRegistry.depositFailures,
			vaultRegistry.withdrawals,
			vaultRegistry.withdrawalFailures,
			vaultRegistry.routeFallbacks,
			vaultRegistry.heldValue,
		)
	})
	return vaultRegistry
}

// ObserveDeposit records a normalised deposit and whether it used the bridge.
func (m *VaultMetrics) ObserveDeposit(class string, bridged bool) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(normaliseLabel(class)).Inc()
	if bridged {
		m.routeFallbacks.Inc()
	}
}

// ObserveDepositFailure records a rejected deposit by reason.
func (m *VaultMetrics) ObserveDepositFailure(reason string) {
	if m == nil {
		return
	}
	m.depositFailures.WithLabelValues(normaliseLabel(reason)).Inc()
}

// ObserveWithdrawal records a settled withdrawal.
func (m *VaultMetrics) ObserveWithdrawal() {
	if m == nil {
		return
	}
	m.withdrawals.Inc()
}

// ObserveWithdrawalFailure records a rejected withdrawal by reason.
func (m *VaultMetrics) ObserveWithdrawalFailure(reason string) {
	if m == nil {
		return
	}
	m.withdrawalFailures.WithLabelValues(normaliseLabel(reason)).Inc()
}

// SetHeldValue publishes the live custodial total. Values beyond float64
// precision are best-effort; the gauge is observability, not accounting.
func (m *VaultMetrics) SetHeldValue(value float64) {
	if m == nil {
		return
	}
	m.heldValue.Set(value)
}

func normaliseLabel(raw string) string {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
