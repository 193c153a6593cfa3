// internal/handlers/matchmaking_api.go
package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/jason-s-yu/matchmaker/internal/matchmaking"
	"github.com/jason-s-yu/matchmaker/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// InternalTokenHeader carries the shared secret of service-to-service calls.
const InternalTokenHeader = "X-Internal-Token"

// ConfirmationHandler returns a confirmation to one of its players.
func ConfirmationHandler(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := authenticate(r)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		c, err := engine.GetMatchConfirmationDetails(r.Context(), r.PathValue("id"))
		if errors.Is(err, matchmaking.ErrConfirmationNotFound) {
			http.Error(w, "confirmation not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to load confirmation", http.StatusInternalServerError)
			return
		}
		if !c.Contains(session.PlayerID) {
			http.Error(w, "not part of this confirmation", http.StatusForbidden)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// CancelMatchHandler tears down the confirmation of a match cancelled elsewhere.
// An empty token disables the endpoint.
func CancelMatchHandler(engine Engine, token string, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		given := r.Header.Get(InternalTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		matchID := r.PathValue("matchId")
		if err := engine.CancelByMatchID(r.Context(), matchID); err != nil {
			logger.WithField("match", matchID).Errorf("cancel by match failed: %v", err)
			http.Error(w, "failed to cancel matchmaking", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HealthHandler reports whether the shared store is reachable.
func HealthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NewRouter mounts every endpoint of the service.
func NewRouter(g *Gateway, internalToken string, health func(ctx context.Context) error, logger *logrus.Logger) http.Handler {
	mux := http.NewServeMux()
	logged := middleware.LogMiddleware(logger)

	mux.Handle("GET /matchmaking/ws", logged(g.MatchmakingWSHandler()))
	mux.Handle("GET /matchmaking/confirmations/{id}", logged(ConfirmationHandler(g.engine)))
	mux.Handle("POST /matchmaking/matches/{matchId}/cancel", logged(CancelMatchHandler(g.engine, internalToken, logger)))

	mux.Handle("GET /healthz", HealthHandler(health))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}
