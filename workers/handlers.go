package workers

import (
	"encoding/json"
	"net/http"

	"gousddbridge/types"

	"github.com/go-chi/chi"
)

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (e *Engine) HealthCheck(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, &APIResponse{
		Status: "ok",
	}, http.StatusOK)
}

type APIStateResponse struct {
	Status        string           `json:"status"`
	Counts        map[string]int64 `json:"counts"`
	SolanaScanned int64            `json:"solana_waterline"`
	NexusScanned  int64            `json:"nexus_waterline"`
	BackingPaused bool             `json:"backing_paused"`
}

// State reports per-status item counts, the committed waterlines and
// the backing pause flag.
func (e *Engine) State(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := e.store.StatusCounts(ctx)
	if err != nil {
		responseJSON(w, &APIResponse{Status: "error", Message: err.Error()}, http.StatusInternalServerError)
		return
	}
	solWm, err := e.store.CommittedWatermark(ctx, types.ChainSolana)
	if err != nil {
		responseJSON(w, &APIResponse{Status: "error", Message: err.Error()}, http.StatusInternalServerError)
		return
	}
	nexWm, err := e.store.CommittedWatermark(ctx, types.ChainNexus)
	if err != nil {
		responseJSON(w, &APIResponse{Status: "error", Message: err.Error()}, http.StatusInternalServerError)
		return
	}
	paused, _ := e.cache.GetBackingPaused()

	responseJSON(w, &APIStateResponse{
		Status:        "ok",
		Counts:        counts,
		SolanaScanned: solWm,
		NexusScanned:  nexWm,
		BackingPaused: paused,
	}, http.StatusOK)
}

// Fees serves the cached fee summary, rebuilding from the ledger when
// the cache is cold.
func (e *Engine) Fees(w http.ResponseWriter, r *http.Request) {
	sum, err := e.cache.GetFeeSummary()
	if err == nil && sum != nil {
		responseJSON(w, sum, http.StatusOK)
		return
	}

	sum, err = e.store.FeeTotals(r.Context())
	if err != nil {
		responseJSON(w, &APIResponse{Status: "error", Message: err.Error()}, http.StatusInternalServerError)
		return
	}
	responseJSON(w, sum, http.StatusOK)
}

// Quarantine lists value that could not be settled automatically.
func (e *Engine) Quarantine(w http.ResponseWriter, r *http.Request) {
	rows, err := e.store.QuarantineView(r.Context(), 1000)
	if err != nil {
		responseJSON(w, &APIResponse{Status: "error", Message: err.Error()}, http.StatusInternalServerError)
		return
	}
	responseJSON(w, rows, http.StatusOK)
}

// Rescan requests one detection pass over the full lookback window for
// a chain, past the committed waterline.
func (e *Engine) Rescan(w http.ResponseWriter, r *http.Request) {
	var chain types.ChainKey
	switch chi.URLParam(r, "chain") {
	case "solana":
		chain = types.ChainSolana
	case "nexus":
		chain = types.ChainNexus
	default:
		responseJSON(w, &APIResponse{Status: "error", Message: "unknown chain"}, http.StatusBadRequest)
		return
	}

	if err := e.cache.RequestRescan(chain); err != nil {
		responseJSON(w, &APIResponse{Status: "error", Message: err.Error()}, http.StatusInternalServerError)
		return
	}
	responseJSON(w, &APIResponse{Status: "ok"}, http.StatusOK)
}
