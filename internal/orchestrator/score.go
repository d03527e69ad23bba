package orchestrator

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/local/pathdesk/internal/metrics"
	"github.com/local/pathdesk/internal/score"
)

type scoreResp struct {
	Score     int          `json:"score"`
	MaxScore  int          `json:"max_score"`
	Formula   string       `json:"formula"`
	Breakdown []score.Term `json:"breakdown"`
}

func (o *Orchestrator) handleScore(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var obs score.Observations
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&obs); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	breakdown, err := obs.Breakdown()
	if err != nil {
		metrics.IncInvalidScore()
		var vErr *score.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "invalid observations", http.StatusBadRequest)
		return
	}
	total, _ := obs.Score()
	metrics.ObserveScore(total)
	log.Debug().Int("score", total).Msg("PLNM score computed")
	writeJSON(w, http.StatusOK, scoreResp{Score: total, MaxScore: score.MaxScore, Formula: score.Formula, Breakdown: breakdown})
}
