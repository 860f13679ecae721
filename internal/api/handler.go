package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/notifier"
	"github.com/shelfsync/shelfsync/internal/store"
)

// Handler is the HTTP handler for the engine's API endpoints.
type Handler struct {
	notifier *notifier.Notifier
	mux      *http.ServeMux
}

// New creates a Handler over n and registers all routes.
func New(n *notifier.Notifier) http.Handler {
	h := &Handler{notifier: n, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/collections", h.collections)
	h.mux.HandleFunc("/api/v1/refresh", h.refresh)
	h.mux.HandleFunc("/api/v1/status", h.status)
	h.mux.HandleFunc("/metrics", h.metrics)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — process liveness.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
}

// collections returns GET /api/v1/collections — the cached snapshot paired
// with any retained error. Never triggers I/O.
func (h *Handler) collections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	m := h.notifier.Metrics()
	snap, ok := h.notifier.Cached()

	if !ok {
		// No data ever obtained. Empty+error is the one blocking shape.
		if m.LastError != nil {
			jsonErr(w, http.StatusServiceUnavailable, m.LastError.Error())
			return
		}
		jsonResp(w, http.StatusOK, CollectionsResponse{Collections: []CollectionResponse{}})
		return
	}

	resp := toCollectionsResponse(snap, m)
	jsonResp(w, http.StatusOK, resp)
}

// refresh handles POST /api/v1/refresh — the explicit user-action refresh.
// ?force=1 bypasses the TTL check.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	force := r.URL.Query().Get("force") == "1" || r.URL.Query().Get("force") == "true"
	snap, err := h.notifier.Refresh(r.Context(), force)
	if err != nil {
		jsonResp(w, http.StatusOK, RefreshResponse{
			Outcome:     "failed",
			Collections: snap.Len(),
			Error:       err.Error(),
		})
		return
	}
	jsonResp(w, http.StatusOK, RefreshResponse{
		Outcome:     "refreshed",
		Collections: snap.Len(),
	})
}

// status returns GET /api/v1/status — the engine's observability view.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	m := h.notifier.Metrics()
	resp := StatusResponse{
		State:            m.State.String(),
		AgeSeconds:       m.Age.Seconds(),
		Collections:      m.Collections,
		Fingerprint:      h.notifier.Fingerprint().String(),
		Subscribers:      h.notifier.Subscribers(),
		FetchesStarted:   m.FetchesStarted,
		FetchesJoined:    m.FetchesJoined,
		FetchesDiscarded: m.FetchesDiscarded,
		FetchesFailed:    m.FetchesFailed,
	}
	if m.LastError != nil {
		resp.LastError = m.LastError.Error()
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// BuildCollections assembles the CollectionsResponse for the notifier's
// current cache contents. Shared by the REST endpoint and the WebSocket hub.
func BuildCollections(n *notifier.Notifier) CollectionsResponse {
	m := n.Metrics()
	snap, ok := n.Cached()
	if !ok {
		resp := CollectionsResponse{Collections: []CollectionResponse{}}
		if m.LastError != nil {
			resp.Error = m.LastError.Error()
		}
		return resp
	}
	return toCollectionsResponse(snap, m)
}

// toCollectionsResponse maps a snapshot plus the cache view to its JSON shape.
func toCollectionsResponse(snap *catalog.Snapshot, m store.Metrics) CollectionsResponse {
	out := make([]CollectionResponse, 0, len(snap.Collections))
	for _, c := range snap.Collections {
		out = append(out, CollectionResponse{
			ID:         c.ID,
			Name:       c.Name,
			Visibility: string(c.Visibility),
			ItemCount:  c.ItemCount,
			UpdatedAt:  c.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	resp := CollectionsResponse{
		Collections: out,
		FetchedAt:   snap.FetchedAt.UTC().Format(time.RFC3339),
		Stale:       m.State == store.StateStale,
	}
	if m.LastError != nil {
		resp.Error = m.LastError.Error()
	}
	return resp
}
