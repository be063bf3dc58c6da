package service

import (
	"fmt"
	"strconv"
	"strings"
)

// ratePrecision is the number of fractional digits a commission rate may
// carry; rates are held as parts per million.
const (
	ratePrecision = 6
	rateScale     = 1_000_000
)

// CommissionRate is a fraction of the subtotal in parts per million.
type CommissionRate struct {
	ppm int64
}

// ParseCommissionRate reads a decimal string such as "0.15" without going
// through floating point.  The rate must lie in [0, 1].
func ParseCommissionRate(s string) (CommissionRate, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" || len(frac) > ratePrecision || !allDigits(whole) || (frac != "" && !allDigits(frac)) {
		return CommissionRate{}, validation("commission rate %q", s)
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w > 1 {
		return CommissionRate{}, validation("commission rate %q", s)
	}
	f := int64(0)
	if frac != "" {
		padded := frac + strings.Repeat("0", ratePrecision-len(frac))
		if f, err = strconv.ParseInt(padded, 10, 64); err != nil {
			return CommissionRate{}, validation("commission rate %q", s)
		}
	}
	ppm := w*rateScale + f
	if ppm > rateScale {
		return CommissionRate{}, validation("commission rate %q above 1", s)
	}
	return CommissionRate{ppm: ppm}, nil
}

// MustCommissionRate is ParseCommissionRate for constants.
func MustCommissionRate(s string) CommissionRate {
	r, err := ParseCommissionRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (r CommissionRate) String() string {
	s := fmt.Sprintf("%d.%06d", r.ppm/rateScale, r.ppm%rateScale)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// Split is the amount breakdown of one booking, in cents.
type Split struct {
	Subtotal        int64 `json:"subtotal_cents"`
	PlatformFee     int64 `json:"platform_fee_cents"`
	CaregiverPayout int64 `json:"caregiver_payout_cents"`
	TotalAmount     int64 `json:"total_amount_cents"`
}

// Commission computes platformFee = round(subtotal * rate), rounding half
// away from zero once, and caregiverPayout = subtotal - platformFee, so the
// two always add up to the subtotal.
func Commission(subtotal int64, rate CommissionRate) Split {
	fee := mulRound(subtotal, rate.ppm, rateScale)
	return Split{
		Subtotal:        subtotal,
		PlatformFee:     fee,
		CaregiverPayout: subtotal - fee,
		TotalAmount:     subtotal,
	}
}

// mulRound returns round(a*b/d) with half away from zero.  a*b fits in
// int64 for any subtotal below about 9.2e12 cents at rates up to 1.
func mulRound(a, b, d int64) int64 {
	n := a * b
	q, rem := n/d, n%d
	if rem < 0 {
		rem = -rem
	}
	if 2*rem >= d {
		if n < 0 {
			q--
		} else {
			q++
		}
	}
	return q
}
