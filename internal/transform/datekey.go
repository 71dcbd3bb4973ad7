package transform

import (
	"fmt"
	"time"
)

// DateKey converts an ISO date string to its YYYYMMDD surrogate key,
// e.g. "2024-03-15" -> 20240315.
func DateKey(isoDate string) (int, error) {
	t, err := time.Parse("2006-01-02", isoDate)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", isoDate, err)
	}
	return DateKeyFromTime(t), nil
}

// DateKeyFromTime converts a time to its YYYYMMDD surrogate key.
func DateKeyFromTime(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// IsWeekend reports whether a date key falls on Saturday or Sunday.
func IsWeekend(dateKey int) bool {
	wd := keyTime(dateKey).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Quarter returns the calendar quarter (1-4) of a date key.
func Quarter(dateKey int) int {
	month := (dateKey / 100) % 100
	return (month + 2) / 3
}

func keyTime(dateKey int) time.Time {
	return time.Date(dateKey/10000, time.Month((dateKey/100)%100), dateKey%100, 0, 0, 0, 0, time.UTC)
}
