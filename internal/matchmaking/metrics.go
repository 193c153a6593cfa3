package matchmaking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchmaking_passes_total",
		Help: "Matching passes that held the region lock.",
	}, []string{"type", "region"})

	confirmationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchmaking_confirmations_created_total",
		Help: "Confirmations created, by match type.",
	}, []string{"type"})

	confirmationsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchmaking_confirmations_cancelled_total",
		Help: "Confirmations torn down, by outcome.",
	}, []string{"outcome"})

	matchesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchmaking_matches_created_total",
		Help: "Matches created from confirmations, by match type.",
	}, []string{"type"})

	lobbiesRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchmaking_lobbies_requeued_total",
		Help: "Lobbies put back in the queue after a cancelled confirmation.",
	})

	lobbiesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchmaking_lobbies_dropped_total",
		Help: "Lobbies removed from matchmaking after a cancelled confirmation.",
	})

	lockContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchmaking_lock_contention_total",
		Help: "Lock acquisitions that found the lock already held.",
	}, []string{"lock"})
)
