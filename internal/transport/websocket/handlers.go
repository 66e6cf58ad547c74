package websocket

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/roverlink/signalhub/internal/logging"
	"github.com/roverlink/signalhub/internal/peers"
	"github.com/roverlink/signalhub/internal/queue"
	"github.com/roverlink/signalhub/internal/relay"
)

// QueueStateHandler serves the current queue snapshot
func QueueStateHandler(q *queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if q == nil {
			http.Error(w, "queue disabled", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(newQueueStateNotice(q.Snapshot()))
	}
}

// TriggerCaptureHandler asks one connected peer to capture a still
// frame. The peer id is taken from the route.
func TriggerCaptureHandler(rl *relay.Relay, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID := chi.URLParam(r, "peerID")
		if peerID == "" {
			http.Error(w, "missing peer id", http.StatusBadRequest)
			return
		}

		if err := rl.TriggerCapture(r.Context(), peerID); err != nil {
			if errors.Is(err, peers.ErrUnknownPeer) {
				http.Error(w, "unknown peer", http.StatusNotFound)
				return
			}
			logger.Error("capture trigger failed", "peer_id", peerID, "error", err)
			http.Error(w, "trigger failed", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

// HealthHandler reports liveness
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}
