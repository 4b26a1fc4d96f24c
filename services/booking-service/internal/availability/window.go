package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
)

// span is a minute range [start, end) within one day.
type span struct {
	start int
	end   int
}

// Window is an effective open range for one date, in minutes from local
// midnight, with the ranges inside it that cannot be booked.
type Window struct {
	Start   int
	End     int
	Blocked []span
}

// ValidateWindow checks start < end and, when a break is present,
// start <= breakStart < breakEnd <= end.
func ValidateWindow(w model.WorkingWindow) error {
	if w.StartMinute < 0 || w.EndMinute > minutesPerDay || w.StartMinute >= w.EndMinute {
		return apperr.InvalidWindow("working window %s %d-%d: start must be before end", w.Weekday, w.StartMinute, w.EndMinute)
	}
	if w.BreakStart == nil && w.BreakEnd == nil {
		return nil
	}
	if !w.HasBreak() {
		return apperr.InvalidWindow("working window %s: break needs both start and end", w.Weekday)
	}
	bs, be := *w.BreakStart, *w.BreakEnd
	if bs < w.StartMinute || bs >= be || be > w.EndMinute {
		return apperr.InvalidWindow("working window %s: break %d-%d must lie inside %d-%d", w.Weekday, bs, be, w.StartMinute, w.EndMinute)
	}
	return nil
}

// ResolveWindows applies special-day overrides to the weekday windows of a
// date. An all-day holiday closes the day. A custom day replaces the weekday
// hours. A holiday with a time range blocks that range inside whatever hours
// remain. Inactive windows are dropped. The result is ordered by start and
// windows that overlap each other are rejected.
func ResolveWindows(windows []model.WorkingWindow, specials []model.SpecialDay) ([]Window, error) {
	var custom []Window
	var holidays []span
	for _, sd := range specials {
		switch sd.Kind {
		case model.SpecialDayHoliday:
			if sd.AllDay || sd.StartMinute == nil || sd.EndMinute == nil {
				return nil, nil
			}
			s, err := specialSpan(sd)
			if err != nil {
				return nil, err
			}
			holidays = append(holidays, s)
		case model.SpecialDayCustom:
			if sd.AllDay {
				custom = append(custom, Window{Start: 0, End: minutesPerDay})
				continue
			}
			if sd.StartMinute == nil || sd.EndMinute == nil {
				return nil, apperr.InvalidWindow("custom day %s needs start and end", model.DayKey(sd.Date))
			}
			s, err := specialSpan(sd)
			if err != nil {
				return nil, err
			}
			custom = append(custom, Window{Start: s.start, End: s.end})
		default:
			return nil, apperr.InvalidWindow("special day %s: unknown kind %q", model.DayKey(sd.Date), sd.Kind)
		}
	}

	var out []Window
	if len(custom) > 0 {
		out = custom
	} else {
		for _, w := range windows {
			if !w.Active {
				continue
			}
			if err := ValidateWindow(w); err != nil {
				return nil, err
			}
			win := Window{Start: w.StartMinute, End: w.EndMinute}
			if w.HasBreak() {
				win.Blocked = append(win.Blocked, span{start: *w.BreakStart, end: *w.BreakEnd})
			}
			out = append(out, win)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	for i := range out {
		if i > 0 && out[i].Start < out[i-1].End {
			return nil, apperr.InvalidWindow("windows %s and %s overlap",
				spanLabel(out[i-1].Start, out[i-1].End), spanLabel(out[i].Start, out[i].End))
		}
		out[i].Blocked = append(out[i].Blocked, holidays...)
	}
	return out, nil
}

func spanLabel(start, end int) string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", start/60, start%60, end/60, end%60)
}

func specialSpan(sd model.SpecialDay) (span, error) {
	s, e := *sd.StartMinute, *sd.EndMinute
	if s < 0 || e > minutesPerDay || s >= e {
		return span{}, apperr.InvalidWindow("special day %s: start must be before end", model.DayKey(sd.Date))
	}
	return span{start: s, end: e}, nil
}

// Bounds converts w to absolute intervals on day.
func (w Window) Bounds(day time.Time) (open Interval, blocked []Interval) {
	open = Interval{Start: At(day, w.Start), End: At(day, w.End)}
	for _, b := range w.Blocked {
		blocked = append(blocked, Interval{Start: At(day, b.start), End: At(day, b.end)})
	}
	return open, blocked
}

// Fits reports whether iv lies inside one of the windows and clear of every
// blocked range.
func Fits(day time.Time, windows []Window, iv Interval) bool {
	for _, w := range windows {
		open, blocked := w.Bounds(day)
		if iv.Start.Before(open.Start) || iv.End.After(open.End) {
			continue
		}
		if overlapsAny(iv, blocked) {
			return false
		}
		return true
	}
	return false
}
