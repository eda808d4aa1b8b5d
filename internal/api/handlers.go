package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/splitgate/splitgate/internal/stats"
	"github.com/splitgate/splitgate/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fetchedAt, populated := s.cache.FetchedAt()
	writeJSON(w, map[string]interface{}{
		"status":           "ok",
		"cache_populated":  populated,
		"cache_fetched_at": fetchedAt,
	})
}

// --- Experiments ---

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments := s.cache.Fetch(r.Context(), false)

	ids := make([]string, 0, len(experiments))
	for id := range experiments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		out = append(out, experiments[id])
	}
	writeJSON(w, map[string]interface{}{
		"experiments": out,
		"total":       len(out),
	})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exp, ok := s.cache.Fetch(r.Context(), false)[id]
	if !ok {
		writeError(w, http.StatusNotFound, "experiment not found")
		return
	}
	writeJSON(w, exp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	experiments := s.cache.Fetch(r.Context(), true)
	writeJSON(w, map[string]interface{}{
		"status":      "refreshed",
		"experiments": len(experiments),
	})
}

// handleExperimentResults returns raw per-variant exposure and conversion
// counts. Significance analysis is left to downstream tooling.
func (s *Server) handleExperimentResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	exposures, err := s.store.CountEvents(id, store.EventExposure)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	conversions, err := s.store.CountEvents(id, store.EventConversion)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"experiment_id": id,
		"exposures":     exposures,
		"conversions":   conversions,
	})
}

// --- Assignments ---

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	assignments, err := s.store.ListAssignments(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"user_id":     userID,
		"assignments": assignments,
	})
}

// --- Event ingestion ---

// eventRequest is the ingestion payload for exposures and conversions.
// Clients dedupe exposures per viewing context before posting.
type eventRequest struct {
	ExperimentID string  `json:"experiment_id"`
	VariantID    string  `json:"variant_id"`
	UserID       string  `json:"user_id"`
	Path         string  `json:"path"`
	Value        float64 `json:"value"`
}

func (s *Server) handleExposure(w http.ResponseWriter, r *http.Request) {
	s.ingestEvent(w, r, store.EventExposure)
}

func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request) {
	s.ingestEvent(w, r, store.EventConversion)
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request, kind store.EventKind) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ExperimentID == "" || req.VariantID == "" {
		writeError(w, http.StatusBadRequest, "experiment_id and variant_id are required")
		return
	}

	s.fanout.Deliver(store.Event{
		ID:           ulid.Make().String(),
		Kind:         kind,
		ExperimentID: req.ExperimentID,
		VariantID:    req.VariantID,
		UserID:       req.UserID,
		Path:         req.Path,
		Value:        req.Value,
		Timestamp:    time.Now().UTC(),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// --- Planning and ops ---

func (s *Server) handleSampleSize(w http.ResponseWriter, r *http.Request) {
	baseline := queryFloat(r, "baseline", 0)
	effect := queryFloat(r, "effect", 0)
	power := queryFloat(r, "power", 0.8)
	alpha := queryFloat(r, "alpha", 0.05)

	n, err := stats.RequiredSampleSize(baseline, effect, power, alpha)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"baseline":        baseline,
		"relative_effect": effect,
		"power":           power,
		"alpha":           alpha,
		"per_variant":     n,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	experiments := s.cache.Fetch(r.Context(), false)
	writeJSON(w, map[string]interface{}{
		"experiments": len(experiments),
		"assignments": st.Assignments,
		"exposures":   st.Exposures,
		"conversions": st.Conversions,
	})
}

// --- Helpers ---

func queryFloat(r *http.Request, key string, def float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
