// Package scoring derives aggregate scores, severity buckets and longitudinal
// trends from assessment grades. Everything here is a pure function over its
// arguments; nothing reads or writes storage.
package scoring

import "fmt"

// Severity is the four-bucket classification of a total score.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Grades maps an area index (1..24) to the grade the clinician assigned.
// An absent key means the area was not answered.
type Grades map[int]int

// TotalScore sums the answered grades over the fixed area domain. Unanswered
// areas contribute 0 and unknown indices are ignored, so a record written
// against a newer area set still scores on the areas known here. An empty
// grade map is a valid assessment with a total of 0.
func TotalScore(grades Grades) int {
	total := 0
	for _, a := range Areas {
		if g, ok := grades[a.Index]; ok {
			total += g
		}
	}
	return total
}

// CompletionCount reports how many of the 24 areas are answered, independent
// of the grades themselves. Used as a progress indicator.
func CompletionCount(grades Grades) int {
	count := 0
	for _, a := range Areas {
		if _, ok := grades[a.Index]; ok {
			count++
		}
	}
	return count
}

// ClassifySeverity buckets a total score. Boundaries are inclusive as
// documented: 178 is normal, 177 is mild, 168/167 and 139/138 split the same
// way. The buckets are contiguous and exhaustive over 0..200.
func ClassifySeverity(total int) Severity {
	switch {
	case total >= 178:
		return SeverityNormal
	case total >= 168:
		return SeverityMild
	case total >= 139:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

// ValidateGrades rejects grades outside the closed area domain or above the
// area's maximum. Negative grades are always invalid.
func ValidateGrades(grades Grades) error {
	for index, g := range grades {
		max, ok := areaMax[index]
		if !ok {
			return fmt.Errorf("unknown assessment area %d", index)
		}
		if g < 0 {
			return fmt.Errorf("area %d: grade %d is negative", index, g)
		}
		if g > max {
			return fmt.Errorf("area %d: grade %d exceeds maximum %d", index, g, max)
		}
	}
	return nil
}
