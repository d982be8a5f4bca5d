package records

import (
	"fmt"
	"strings"
	"time"
)

const monthLayout = "2006-01"

// ParseMonth turns "YYYY-MM" into the first and last day of that month.
func ParseMonth(month string) (start, end time.Time, err error) {
	month = strings.TrimSpace(month)
	start, err = time.ParseInLocation(monthLayout, month, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month %q: want YYYY-MM", month)
	}
	end = start.AddDate(0, 1, -1)
	return start, end, nil
}
