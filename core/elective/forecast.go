package elective

import (
	"math"
	"sort"
)

// ForecastHorizon is the registration window, in days, the forecast projects to.
const ForecastHorizon = 14.0

// PredictFinalCount fits a least-squares line through the daily counts (x is the 0-based day
// index after sorting by date, not the calendar date) and evaluates it at ForecastHorizon.
// The prediction never goes below the last observed count.
// ok is false when there is not enough data to predict.
func PredictFinalCount(series []DailyCount) (predicted int, ok bool) {
	if len(series) < 2 {
		return 0, false
	}

	sorted := make([]DailyCount, len(series))
	copy(sorted, series)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Day.Before(sorted[j].Day) })

	// a = (n*sum(x*y) - sum(x)*sum(y)) / (n*sum(x^2) - (sum(x))^2)
	// b = (sum(y) - a*sum(x)) / n
	n := float64(len(sorted))
	var sumX, sumY, sumXY, sumX2 float64
	for i, dc := range sorted {
		x := float64(i)
		y := float64(dc.Count)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0, false
	}
	a := (n*sumXY - sumX*sumY) / denominator
	b := (sumY - a*sumX) / n

	predicted = int(math.Round(a*ForecastHorizon + b))
	if last := sorted[len(sorted)-1].Count; predicted < last {
		predicted = last
	}
	return predicted, true
}
