package availability

import (
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/apperr"
)

const minutesPerDay = 24 * 60

// ParseDate parses YYYY-MM-DD. The result is midnight UTC; use LocalDay to
// move it into a provider's zone.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.Validation("invalid date %q (want YYYY-MM-DD)", s)
	}
	return d, nil
}

// ParseClock parses HH:MM into minutes from midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, apperr.Validation("invalid time %q (want HH:MM)", s)
	}
	h, herr := strconv.Atoi(hh)
	m, merr := strconv.Atoi(mm)
	if herr != nil || merr != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, apperr.Validation("invalid time %q (want HH:MM)", s)
	}
	return h*60 + m, nil
}

// FormatClock renders t as HH:MM in its own location.
func FormatClock(t time.Time) string {
	return t.Format("15:04")
}

// LocalDay returns local midnight of d's calendar date in loc.
func LocalDay(d time.Time, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// At returns the instant minute minutes after midnight on day.
func At(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, minute, 0, 0, day.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
