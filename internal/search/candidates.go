package search

import (
	"fmt"
	"sort"

	"github.com/yourusername/rally-coach/internal/models"
)

// Axis names a tactical dimension a candidate can shift
type Axis string

const (
	AxisServeShort Axis = "serve_short"
	AxisAttack     Axis = "attack"
)

// DefaultMagnitudes are the shift sizes tried on each axis
var DefaultMagnitudes = []float64{0.05, 0.10, 0.20}

// GenerateCandidates enumerates single-axis shifts, each magnitude in both
// directions. combine adds every two-axis pairing of the same magnitudes.
// Indices follow generation order starting at 1.
func GenerateCandidates(magnitudes []float64, combine bool) []models.Candidate {
	mags := append([]float64(nil), magnitudes...)
	sort.Float64s(mags)

	var steps []float64
	for _, m := range mags {
		if m <= 0 {
			continue
		}
		steps = append(steps, m, -m)
	}

	var out []models.Candidate
	add := func(s models.Shift) {
		out = append(out, models.Candidate{
			Index: len(out) + 1,
			Name:  shiftName(s),
			Shift: s,
			L1:    s.L1(),
		})
	}

	for _, axis := range []Axis{AxisServeShort, AxisAttack} {
		for _, step := range steps {
			if axis == AxisServeShort {
				add(models.Shift{ServeShort: step})
			} else {
				add(models.Shift{Attack: step})
			}
		}
	}

	if combine {
		for _, ds := range steps {
			for _, da := range steps {
				add(models.Shift{ServeShort: ds, Attack: da})
			}
		}
	}
	return out
}

func shiftName(s models.Shift) string {
	switch {
	case s.Attack == 0:
		return fmt.Sprintf("%s%+.2f", AxisServeShort, s.ServeShort)
	case s.ServeShort == 0:
		return fmt.Sprintf("%s%+.2f", AxisAttack, s.Attack)
	default:
		return fmt.Sprintf("%s%+.2f,%s%+.2f", AxisServeShort, s.ServeShort, AxisAttack, s.Attack)
	}
}

// WithinBudget reports whether a shift's L1 size fits the budget
func WithinBudget(l1, budget float64) bool {
	return l1 <= budget+1e-9
}
