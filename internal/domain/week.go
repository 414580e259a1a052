package domain

import (
	"fmt"
	"time"
)

// WeekOfMonth maps a date onto the four fixed snapshot buckets:
// days 1-7 -> 1, 8-14 -> 2, 15-21 -> 3, 22 and later -> 4.
func WeekOfMonth(t time.Time) int {
	switch day := t.Day(); {
	case day <= 7:
		return 1
	case day <= 14:
		return 2
	case day <= 21:
		return 3
	default:
		return 4
	}
}

// ValidateWeek rejects week numbers outside the four snapshot slots.
func ValidateWeek(week int) error {
	if week < 1 || week > 4 {
		return fmt.Errorf("week must be between 1 and 4, got %d", week)
	}
	return nil
}
