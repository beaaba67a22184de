package estimator

import (
	"math"

	"github.com/yourusername/rally-coach/internal/models"
)

const (
	minWeightRows = 10
	minWeight     = 0.01
	maxWeight     = 0.2
)

// FitWeights estimates style weights by least squares of point share minus
// one half against the three style differentials. With fewer than ten usable
// rows, or a singular design, fallback is returned unchanged.
func FitWeights(rows []models.MatchRow, fallback models.StyleWeights) models.StyleWeights {
	// normal equations for [intercept, short, attack, safe]
	var xtx [4][4]float64
	var xty [4]float64
	used := 0

	for _, row := range rows {
		total := float64(row.APoints + row.BPoints)
		if total <= 0 {
			continue
		}
		x := [4]float64{
			1,
			row.AShortServeRate - row.BShortServeRate,
			row.AAttackRate - row.BAttackRate,
			-(row.BSafeRate - row.ASafeRate),
		}
		y := float64(row.APoints)/total - 0.5
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				xtx[i][j] += x[i] * x[j]
			}
			xty[i] += x[i] * y
		}
		used++
	}

	if used < minWeightRows {
		return fallback
	}

	beta, ok := solve4(xtx, xty)
	if !ok {
		return fallback
	}

	return models.StyleWeights{
		WShort:  models.Clamp(math.Abs(beta[1]), minWeight, maxWeight),
		WAttack: models.Clamp(math.Abs(beta[2]), minWeight, maxWeight),
		WSafe:   models.Clamp(math.Abs(beta[3]), minWeight, maxWeight),
	}
}

// solve4 solves a 4x4 linear system by Gaussian elimination with partial pivoting
func solve4(a [4][4]float64, b [4]float64) ([4]float64, bool) {
	const n = 4
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [4]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}

	var x [4]float64
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	return x, true
}
