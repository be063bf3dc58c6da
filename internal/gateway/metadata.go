package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/model"
)

// Metadata keys the checkout attaches to the payment intent.
const (
	MetaCaregiverID     = "caregiver_id"
	MetaParentEmail     = "parent_email"
	MetaDate            = "date"
	MetaStartTime       = "start_time"
	MetaEndTime         = "end_time"
	MetaChildrenCount   = "children_count"
	MetaHoldID          = "hold_id"
	MetaHourlyRateCents = "hourly_rate_cents"
)

// ErrMetadata is returned when payment metadata cannot describe a booking.
var ErrMetadata = errors.New("invalid payment metadata")

// ParseMetadata converts gateway metadata into a booking intent.  Dates are
// only ever built from their components; start_time and end_time may be
// "HH:MM" on the metadata date or "YYYY-MM-DDTHH:MM" local date-times, and
// an end of "24:00" or the next day's midnight closes the window at the
// end of the day.
func ParseMetadata(md map[string]string) (model.BookingMetadata, error) {
	var out model.BookingMetadata
	get := func(k string) string { return strings.TrimSpace(md[k]) }

	id, err := strconv.ParseUint(get(MetaCaregiverID), 10, 64)
	if err != nil || id == 0 {
		return out, fmt.Errorf("%w: %s %q", ErrMetadata, MetaCaregiverID, get(MetaCaregiverID))
	}
	out.CaregiverID = id

	out.ParentEmail = strings.ToLower(get(MetaParentEmail))
	if !strings.Contains(out.ParentEmail, "@") {
		return out, fmt.Errorf("%w: %s %q", ErrMetadata, MetaParentEmail, out.ParentEmail)
	}

	if s := get(MetaDate); s != "" {
		if out.Date, err = calendar.Parse(s); err != nil {
			return out, fmt.Errorf("%w: %s: %v", ErrMetadata, MetaDate, err)
		}
	}
	startDate, start, err := calendar.ParseLocalDateTime(get(MetaStartTime))
	if err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrMetadata, MetaStartTime, err)
	}
	endDate, end, err := calendar.ParseLocalDateTime(get(MetaEndTime))
	if err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrMetadata, MetaEndTime, err)
	}
	switch {
	case out.Date.IsZero() && startDate.IsZero():
		return out, fmt.Errorf("%w: %s is required", ErrMetadata, MetaDate)
	case out.Date.IsZero():
		out.Date = startDate
	case !startDate.IsZero() && startDate != out.Date:
		return out, fmt.Errorf("%w: start_time date %s differs from date %s", ErrMetadata, startDate, out.Date)
	}
	if !endDate.IsZero() && endDate != out.Date {
		if endDate != out.Date.AddDays(1) || end != 0 {
			return out, fmt.Errorf("%w: booking must end on %s", ErrMetadata, out.Date)
		}
		end = calendar.MinutesPerDay
	}
	if out.Window, err = calendar.NewWindow(start, end); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMetadata, err)
	}

	if out.ChildrenCount, err = strconv.Atoi(get(MetaChildrenCount)); err != nil || out.ChildrenCount < 1 {
		return out, fmt.Errorf("%w: %s %q", ErrMetadata, MetaChildrenCount, get(MetaChildrenCount))
	}
	if s := get(MetaHourlyRateCents); s != "" {
		if out.HourlyRateCents, err = strconv.ParseInt(s, 10, 64); err != nil || out.HourlyRateCents < 0 {
			return out, fmt.Errorf("%w: %s %q", ErrMetadata, MetaHourlyRateCents, s)
		}
	}
	out.HoldID = get(MetaHoldID)
	return out, nil
}
