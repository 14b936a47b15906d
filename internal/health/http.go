package health

import (
	"encoding/json"
	"net/http"
)

// probeReply is the JSON body served by the diagnostics endpoints.
type probeReply struct {
	Status          string   `json:"status"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Handler exposes the monitor over HTTP. /healthz answers 200 for any
// living process; /readyz answers 200 only while the last sweep was clean
// and no termination is pending.
type Handler struct {
	monitor *Monitor
}

// NewHandler creates a [Handler] backed by m.
func NewHandler(m *Monitor) *Handler {
	return &Handler{monitor: m}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.reply(w, http.StatusOK, probeReply{Status: "ok"})
}

// Readyz is the readiness probe, backed by the most recent sweep.
func (h *Handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	s := h.monitor.Status()
	if s.Healthy && !h.monitor.ShuttingDown() {
		h.reply(w, http.StatusOK, probeReply{Status: "ok"})
		return
	}
	h.reply(w, http.StatusServiceUnavailable, probeReply{
		Status:          "fail",
		Issues:          s.Issues,
		Recommendations: s.Recommendations,
	})
}

// Register adds both probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) reply(w http.ResponseWriter, code int, v probeReply) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "diagnostics encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
