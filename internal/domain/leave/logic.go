package leave

import (
	"time"
)

const dateLayout = "2006-01-02"

// CivilDate drops the clock part of t, keeping its calendar date in UTC.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate reads a YYYY-MM-DD calendar date.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(dateLayout, value)
}

// CalculateDays returns the inclusive day count between start and end.
func CalculateDays(start, end time.Time) (int, error) {
	start, end = CivilDate(start), CivilDate(end)
	if end.Before(start) {
		return 0, &Error{
			Kind:    KindInvalidRange,
			Message: "end date " + end.Format(dateLayout) + " is before start date " + start.Format(dateLayout),
		}
	}
	days := int(end.Sub(start).Hours()/24) + 1
	if days <= 0 {
		return 0, &Error{Kind: KindInvalidRange, Message: "duration must be positive"}
	}
	return days, nil
}

// Overlaps is the closed-interval test: two inclusive ranges overlap when
// they share at least one calendar day.
func Overlaps(a, b DateRange) bool {
	return !CivilDate(a.Start).After(CivilDate(b.End)) && !CivilDate(a.End).Before(CivilDate(b.Start))
}
