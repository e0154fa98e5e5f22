package settlement

import "time"

// Day is the length of one settlement window.
const Day = 24 * time.Hour

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// UnprocessedDays lists the days in [from, to) missing from processed, oldest first.
func UnprocessedDays(from, to time.Time, processed []time.Time) []time.Time {
	done := make(map[time.Time]struct{}, len(processed))
	for _, d := range processed {
		done[DayOf(d)] = struct{}{}
	}

	var out []time.Time
	for d := DayOf(from); d.Before(to); d = d.Add(Day) {
		if _, ok := done[d]; ok {
			continue
		}
		out = append(out, d)
	}
	return out
}
