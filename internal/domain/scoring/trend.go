package scoring

import "time"

// Trend is the coarse direction of a patient's score series.
type Trend string

const (
	TrendInsufficient Trend = "insufficient"
	TrendImproving    Trend = "improving"
	TrendDeclining    Trend = "declining"
	TrendStable       Trend = "stable"
)

// trendThreshold is the minimum difference between the two half-averages for
// the series to count as moving. The value is part of the instrument's
// published behavior; changing it changes clinical classifications and needs
// explicit sign-off.
const trendThreshold = 5.0

// ScorePoint is one element of a patient's score series.
type ScorePoint struct {
	Date     time.Time `json:"date"`
	Total    int       `json:"total"`
	Severity Severity  `json:"severity"`
}

// ClassifyTrend compares the average of the first half of an ordered-by-date
// score series against the average of the second half. With an odd length the
// extra element goes to the first half. Fewer than 3 points is insufficient.
//
// This is deliberately a two-window moving-average comparison, not a
// regression: a regression would classify short series (length 3-5)
// differently, and the two-window behavior is what the instrument's users
// already rely on.
func ClassifyTrend(totals []int) Trend {
	if len(totals) < 3 {
		return TrendInsufficient
	}

	split := (len(totals) + 1) / 2
	first := average(totals[:split])
	second := average(totals[split:])

	switch {
	case second-first > trendThreshold:
		return TrendImproving
	case first-second > trendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func average(totals []int) float64 {
	sum := 0
	for _, t := range totals {
		sum += t
	}
	return float64(sum) / float64(len(totals))
}
