package score

import (
	"fmt"
	"strconv"
	"strings"
)

// Weights of the PLNM score terms, in field order.
const (
	WeightLVI              = 4
	WeightTumorBudding     = 3
	WeightPDCsLevel        = 2
	WeightHistologicGrade2 = 3
	WeightSM2              = 1
)

// MaxScore is the score with every observation positive.
const MaxScore = WeightLVI + WeightTumorBudding + WeightPDCsLevel + WeightHistologicGrade2 + WeightSM2

// Formula is the human-readable form shown next to the score.
const Formula = "PLNM Score = LVI × 4 + Tumor budding × 3 + PDCs level × 2 + Histologic grade2 × 3 + SM2 × 1"

// Observations holds the five binary clinicopathologic flags (0 = negative, 1 = positive).
type Observations struct {
	LVI              int `json:"lvi"`
	TumorBudding     int `json:"tumor_budding"`
	PDCsLevel        int `json:"pdcs_level"`
	HistologicGrade2 int `json:"histologic_grade2"`
	SM2              int `json:"sm2"`
}

// ValidationError reports an observation outside {0,1}.
type ValidationError struct {
	Field string
	Value int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s must be 0 or 1, got %d", e.Field, e.Value)
}

// Term is one weighted contribution to the score.
type Term struct {
	Name         string `json:"name"`
	Value        int    `json:"value"`
	Weight       int    `json:"weight"`
	Contribution int    `json:"contribution"`
}

func (o Observations) terms() []Term {
	ts := []Term{
		{Name: "LVI", Value: o.LVI, Weight: WeightLVI},
		{Name: "Tumor budding", Value: o.TumorBudding, Weight: WeightTumorBudding},
		{Name: "PDCs level", Value: o.PDCsLevel, Weight: WeightPDCsLevel},
		{Name: "Histologic grade2", Value: o.HistologicGrade2, Weight: WeightHistologicGrade2},
		{Name: "SM2", Value: o.SM2, Weight: WeightSM2},
	}
	for i := range ts {
		ts[i].Contribution = ts[i].Value * ts[i].Weight
	}
	return ts
}

// Validate rejects any flag outside {0,1}. Values are never clamped.
func (o Observations) Validate() error {
	for _, t := range o.terms() {
		if t.Value != 0 && t.Value != 1 {
			return &ValidationError{Field: t.Name, Value: t.Value}
		}
	}
	return nil
}

// Score returns the weighted sum, in [0, MaxScore].
func (o Observations) Score() (int, error) {
	if err := o.Validate(); err != nil {
		return 0, err
	}
	total := 0
	for _, t := range o.terms() {
		total += t.Contribution
	}
	return total, nil
}

// Breakdown returns the per-term contributions in formula order.
func (o Observations) Breakdown() ([]Term, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o.terms(), nil
}

// Compute is the positional form of Observations.Score.
func Compute(lvi, tumorBudding, pdcsLevel, histologicGrade2, sm2 int) (int, error) {
	return Observations{
		LVI:              lvi,
		TumorBudding:     tumorBudding,
		PDCsLevel:        pdcsLevel,
		HistologicGrade2: histologicGrade2,
		SM2:              sm2,
	}.Score()
}

// ParseFlag reads a form or CLI value into 0/1.
// Empty input is negative; unknown words are an error.
func ParseFlag(field, s string) (int, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "0", "negative", "neg", "false", "no", "off":
		return 0, nil
	case "1", "positive", "pos", "true", "yes", "on":
		return 1, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return 0, &ValidationError{Field: field, Value: n}
	}
	return 0, fmt.Errorf("invalid value for %s: %q", field, s)
}

// Label renders a flag the way the dashboard shows it.
func Label(v int) string {
	if v == 1 {
		return "Positive"
	}
	return "Negative"
}
