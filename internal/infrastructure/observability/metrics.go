package observability

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Repository method calls by outcome.
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	BidsPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_placed_total",
			Help: "Bids placed, by new bid or update of an active one",
		},
		[]string{"kind"},
	)

	BidsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_bids_accepted_total",
			Help: "Bids accepted by travelers",
		},
	)

	BidsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_rejected_total",
			Help: "Bids rejected and refunded, manually or by capacity cascade",
		},
		[]string{"reason"},
	)

	WalletOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_operations_total",
			Help: "Committed wallet ledger entries by type",
		},
		[]string{"type"},
	)
)

var registerOnce sync.Once

// RegisterMetrics registers the collectors above with the default registry.
// Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RepositoryCalls, RepositoryDuration, BidsPlaced, BidsAccepted, BidsRejected, WalletOperations)
	})
}

// InitMetrics registers the collectors and serves them on addr in the
// background. An empty addr only registers.
func InitMetrics(addr string) {
	RegisterMetrics()
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
}
