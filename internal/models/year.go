package models

import "strconv"

// Selectable judgement years.
const (
	YearMin = 2000
	YearMax = 2025
)

// Years returns the selectable years, newest first.
func Years() []int {
	years := make([]int, 0, YearMax-YearMin+1)
	for y := YearMax; y >= YearMin; y-- {
		years = append(years, y)
	}
	return years
}

// ParseYear parses a form value into a year. Anything that is not an
// integer inside [YearMin, YearMax] yields 0 (unset).
func ParseYear(v string) int {
	y, err := strconv.Atoi(v)
	if err != nil || y < YearMin || y > YearMax {
		return 0
	}
	return y
}
