package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WalletConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energy_marketplace",
		Name:      "wallet_connects_total",
		Help:      "Wallet connect attempts by result.",
	}, []string{"result"})

	PurchaseAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energy_marketplace",
		Name:      "purchase_attempts_total",
		Help:      "Purchase attempts by terminal result.",
	}, []string{"result"})

	ListingsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energy_marketplace",
		Name:      "listings_created_total",
		Help:      "Listings created by mode (live/demo).",
	}, []string{"mode"})

	IndexedChainEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energy_marketplace",
		Name:      "indexed_chain_events_total",
		Help:      "Marketplace contract events observed by the indexer.",
	}, []string{"event"})
)
