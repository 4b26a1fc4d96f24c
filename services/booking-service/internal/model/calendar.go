package model

import "time"

// WorkingWindow is a provider's open hours for one weekday. Times are minutes
// from local midnight. A window may carry one break.
type WorkingWindow struct {
	ProviderID  string
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	BreakStart  *int
	BreakEnd    *int
	Active      bool
}

func (w WorkingWindow) HasBreak() bool {
	return w.BreakStart != nil && w.BreakEnd != nil
}

type SpecialDayKind string

const (
	SpecialDayHoliday SpecialDayKind = "holiday"
	SpecialDayCustom  SpecialDayKind = "custom"
)

// SpecialDay overrides the weekday windows for one date. A holiday with AllDay
// closes the day; a holiday with a time range closes only that range; a custom
// day replaces the hours with [StartMinute, EndMinute).
type SpecialDay struct {
	ProviderID  string
	Date        time.Time
	Kind        SpecialDayKind
	AllDay      bool
	StartMinute *int
	EndMinute   *int
}

type Service struct {
	ID              string
	ProviderID      string
	Name            string
	DurationMinutes int
	Active          bool
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type ProviderConfig struct {
	ProviderID      string
	BufferMinutes   int
	LeadTimeMinutes int
	// MaxPerDay caps blocking appointments per day. Zero means unlimited.
	MaxPerDay int
	Timezone  string
}

// DefaultProviderConfig is used for providers without a stored config row.
func DefaultProviderConfig(providerID string) ProviderConfig {
	return ProviderConfig{ProviderID: providerID, Timezone: "UTC"}
}

// Location resolves the provider time zone, falling back to UTC.
func (c ProviderConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
