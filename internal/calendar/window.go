package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MinutesPerDay is the exclusive upper bound of a Window.
const MinutesPerDay = 24 * 60

// ErrInvalidWindow is returned for malformed clock times and empty or
// inverted windows.
var ErrInvalidWindow = errors.New("invalid time window")

// Window is a half-open range [Start, End) of minutes after local midnight.
type Window struct {
	Start int
	End   int
}

// FullDay covers the whole calendar date.
var FullDay = Window{Start: 0, End: MinutesPerDay}

// NewWindow validates 0 <= start < end <= 1440.
func NewWindow(start, end int) (Window, error) {
	if start < 0 || end > MinutesPerDay || start >= end {
		return Window{}, fmt.Errorf("%w: %d-%d", ErrInvalidWindow, start, end)
	}
	return Window{Start: start, End: end}, nil
}

// ParseClock reads "HH:MM" into minutes after midnight. "24:00" is accepted
// as the end of the day.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: clock %q (want HH:MM)", ErrInvalidWindow, s)
	}
	h, err := digits(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: clock %q", ErrInvalidWindow, s)
	}
	m, err := digits(mm)
	if err != nil {
		return 0, fmt.Errorf("%w: clock %q", ErrInvalidWindow, s)
	}
	if m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: clock %q", ErrInvalidWindow, s)
	}
	return h*60 + m, nil
}

// ParseWindow reads "HH:MM-HH:MM".
func ParseWindow(s string) (Window, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Window{}, fmt.Errorf("%w: %q (want HH:MM-HH:MM)", ErrInvalidWindow, s)
	}
	start, err := ParseClock(from)
	if err != nil {
		return Window{}, err
	}
	end, err := ParseClock(to)
	if err != nil {
		return Window{}, err
	}
	return NewWindow(start, end)
}

// ParseLocalDateTime reads either "HH:MM" or "YYYY-MM-DDTHH:MM[:SS]" into a
// date and a minute of day. A trailing zone designator is rejected: a zoned
// timestamp cannot be reduced to a local date without choosing a location.
// In the first form the returned date is zero and the caller supplies it.
func ParseLocalDateTime(s string) (Date, int, error) {
	s = strings.TrimSpace(s)
	datePart, clockPart, hasDate := strings.Cut(s, "T")
	if !hasDate {
		m, err := ParseClock(s)
		return Date{}, m, err
	}
	d, err := Parse(datePart)
	if err != nil {
		return Date{}, 0, err
	}
	if strings.ContainsAny(clockPart, "Z+") || strings.Count(clockPart, "-") > 0 {
		return Date{}, 0, fmt.Errorf("%w: zoned timestamp %q", ErrInvalidWindow, s)
	}
	if len(clockPart) == 8 && clockPart[5] == ':' {
		if _, err := digits(clockPart[6:]); err != nil {
			return Date{}, 0, fmt.Errorf("%w: clock %q", ErrInvalidWindow, s)
		}
		clockPart = clockPart[:5]
	}
	m, err := ParseClock(clockPart)
	if err != nil {
		return Date{}, 0, err
	}
	return d, m, nil
}

func (w Window) IsZero() bool { return w == Window{} }

// Minutes is the length of the window.
func (w Window) Minutes() int { return w.End - w.Start }

// Overlaps reports whether the two half-open ranges share at least a minute.
func (w Window) Overlaps(o Window) bool { return w.Start < o.End && o.Start < w.End }

// Contains reports whether o lies entirely inside w.
func (w Window) Contains(o Window) bool { return w.Start <= o.Start && o.End <= w.End }

func (w Window) String() string {
	return formatClock(w.Start) + "-" + formatClock(w.End)
}

func formatClock(m int) string { return fmt.Sprintf("%02d:%02d", m/60, m%60) }

func (w Window) MarshalJSON() ([]byte, error) {
	if w.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(w.String())
}

func (w *Window) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*w = Window{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, string(b))
	}
	parsed, err := ParseWindow(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
