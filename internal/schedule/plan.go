package schedule

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WeeklyPlan maps weekday index (Monday=0 .. Sunday=6) to requested posts.
type WeeklyPlan [7]int

// For returns the planned count for a calendar day.
func (p WeeklyPlan) For(day time.Time) int {
	// time.Weekday is Sunday=0; the plan is Monday-indexed.
	idx := (int(day.Weekday()) + 6) % 7
	return p[idx]
}

var weekdayNames = map[string]int{
	"mon": 0, "monday": 0,
	"tue": 1, "tuesday": 1,
	"wed": 2, "wednesday": 2,
	"thu": 3, "thursday": 3,
	"fri": 4, "friday": 4,
	"sat": 5, "saturday": 5,
	"sun": 6, "sunday": 6,
}

// ParseWeeklyPlan accepts either a 7-element list indexed Monday=0 or a map
// keyed by weekday name or index. Missing weekdays default to 0. Any other
// shape is a validation error.
func ParseWeeklyPlan(raw json.RawMessage) (WeeklyPlan, error) {
	var plan WeeklyPlan

	var asList []int
	if err := json.Unmarshal(raw, &asList); err == nil {
		if len(asList) != 7 {
			return plan, fmt.Errorf("weekly_plan list must have 7 entries (Mon..Sun), got %d", len(asList))
		}
		copy(plan[:], asList)
		return plan, nil
	}

	var asMap map[string]int
	if err := json.Unmarshal(raw, &asMap); err == nil {
		for k, v := range asMap {
			key := strings.ToLower(strings.TrimSpace(k))
			idx, ok := weekdayNames[key]
			if !ok {
				n, err := strconv.Atoi(key)
				if err != nil || n < 0 || n > 6 {
					return plan, fmt.Errorf("weekly_plan key %q not recognized", k)
				}
				idx = n
			}
			plan[idx] = v
		}
		return plan, nil
	}

	return plan, fmt.Errorf("weekly_plan must be a list of 7 ints or a weekday map")
}

// DayList expands an inclusive date range into calendar days.
func DayList(start, end time.Time) ([]time.Time, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end_date must be >= start_date")
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}
