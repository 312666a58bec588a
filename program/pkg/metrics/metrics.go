package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "winny_build_info",
			Help: "Build information of the winny ledger",
		},
		[]string{"version", "commit", "date"},
	)

	InstructionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winny_instructions_total",
			Help: "Total number of processed instructions",
		},
		[]string{"instruction", "status"},
	)

	InstructionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "winny_instruction_duration_seconds",
			Help:    "Duration of processed instructions",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"instruction"},
	)

	OracleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winny_oracle_requests_total",
			Help: "Total number of randomness requests sent to the oracle",
		},
		[]string{"kind", "status"},
	)

	PayoutAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winny_payout_amount_total",
			Help: "Total stable-token micro-units paid out of round vaults",
		},
		[]string{"instruction"},
	)

	KeeperCranksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winny_keeper_cranks_total",
			Help: "Total number of keeper crank attempts",
		},
		[]string{"action", "status"},
	)

	KeeperScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "winny_keeper_scan_duration_seconds",
			Help:    "Duration of keeper round scans",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	AuditWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winny_audit_writes_total",
			Help: "Total number of audit rows written",
		},
		[]string{"table", "status"},
	)
)
