package orchestrator

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

const maxHistoryLimit = 200

func (o *Orchestrator) handleHistory(w http.ResponseWriter, r *http.Request) {
	if o.deps.History == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	entries, err := o.deps.History.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("history query failed")
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": entries, "count": len(entries)})
}
