package watch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/haukened/lockstep/internal/app"
)

// StatusProvider abstracts the subset of app.Service the status endpoint
// uses. It is satisfied by *app.Service in production and mocked in tests.
type StatusProvider interface {
	Status(ctx context.Context, historyLimit int) (app.Status, error)
}

// Handler wires the standing mode HTTP endpoints. Zero-value is not valid;
// construct via NewHandler.
type Handler struct {
	Status       StatusProvider
	Watch        *Watcher                    // optional; nil hides last-cycle info
	Readiness    func(context.Context) error // optional readiness probe (nil => always ready)
	Journal      http.HandlerFunc            // optional journal snapshot endpoint
	HistoryLimit int
}

// NewHandler returns a configured Handler.
func NewHandler(status StatusProvider, readiness func(context.Context) error) *Handler {
	return &Handler{Status: status, Readiness: readiness}
}

// Router constructs and returns an http.Handler with all routes mounted.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/readyz", h.handleReady)
	mux.HandleFunc("/status", h.handleStatus)
	if h.Journal != nil {
		mux.Handle("/journal", h.Journal)
	}
	return h.baseHeaders(requestID(mux))
}

// requestIDCtxKey is the unexported context key type to avoid collisions.
type requestIDCtxKey struct{}

var ridKey = requestIDCtxKey{}

// RequestIDHeader is the HTTP header used for inbound/outbound request IDs.
const RequestIDHeader = "X-Request-ID"

// requestID injects a per-request ID into the request context and response
// headers. An inbound X-Request-ID is trusted; if absent a new UUID v4 is
// generated. Downstream handlers can retrieve the value via RequestID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(RequestIDHeader)
		if rid == "" {
			rid = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), ridKey, rid)
		w.Header().Set(RequestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID extracts the request ID from the context. The second boolean
// return reports whether a value was present.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ridKey).(string)
	return id, ok
}

// baseHeaders middleware adds standard content and cache control headers.
func (h *Handler) baseHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeError writes a JSON error body with given status code.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg})
	if rid, ok := RequestID(ctx); ok {
		slog.Debug("wrote error response", "rid", rid, "status", code, "msg", msg)
	}
}

// handleHealth returns liveness.
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady returns readiness; if probe unavailable or failing => 503.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Readiness != nil {
		if err := h.Readiness(r.Context()); err != nil {
			h.writeError(r.Context(), w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// appliedView is one history row as exposed over HTTP.
type appliedView struct {
	Name       string    `json:"name"`
	Token      string    `json:"token"`
	RunID      string    `json:"run_id"`
	AppliedAt  time.Time `json:"applied_at"`
	Statements int       `json:"statements"`
}

// cycleView summarizes the watch loop for the status endpoint.
type cycleView struct {
	Cycles     uint64 `json:"cycles"`
	Accepted   uint64 `json:"accepted"`
	Rejected   uint64 `json:"rejected"`
	Applied    uint64 `json:"applied"`
	DurationMS int64  `json:"duration_ms"`
	RunID      string `json:"run_id"`
	Error      string `json:"error,omitempty"`
}

type statusResponse struct {
	Position string        `json:"position"`
	History  []appliedView `json:"history"`
	LastRun  *cycleView    `json:"last_run,omitempty"`
}

// handleStatus reports the persisted chain position, recent history, and the
// last watch cycle when a loop is running.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	limit := h.HistoryLimit
	if limit <= 0 {
		limit = 10
	}
	st, err := h.Status.Status(r.Context(), limit)
	if err != nil {
		h.writeError(r.Context(), w, http.StatusInternalServerError, "status unavailable")
		return
	}
	resp := statusResponse{
		Position: st.Position.String(),
		History:  make([]appliedView, 0, len(st.History)),
	}
	for _, af := range st.History {
		resp.History = append(resp.History, appliedView{
			Name:       af.Name,
			Token:      af.Token.String(),
			RunID:      af.RunID,
			AppliedAt:  af.AppliedAt,
			Statements: af.Statements,
		})
	}
	if h.Watch != nil {
		mv := h.Watch.MetricsSnapshot()
		resp.LastRun = &cycleView{
			Cycles:     mv.Cycles,
			Accepted:   mv.Accepted,
			Rejected:   mv.Rejected,
			Applied:    mv.Applied,
			DurationMS: mv.CycleLastDurationMS,
			RunID:      mv.LastRunID,
			Error:      mv.LastError,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
