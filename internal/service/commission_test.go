package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommissionExample(t *testing.T) {
	s := Commission(10000, MustCommissionRate("0.15"))
	assert.Equal(t, int64(1500), s.PlatformFee)
	assert.Equal(t, int64(8500), s.CaregiverPayout)
	assert.Equal(t, int64(10000), s.TotalAmount)
}

func TestCommissionRoundsHalfAwayFromZero(t *testing.T) {
	rate := MustCommissionRate("0.15")
	// 1010 * 0.15 = 151.5 -> 152
	assert.Equal(t, int64(152), Commission(1010, rate).PlatformFee)
	// 1003 * 0.15 = 150.45 -> 150
	assert.Equal(t, int64(150), Commission(1003, rate).PlatformFee)
	// refunds and adjustments may be negative: -151.5 -> -152
	assert.Equal(t, int64(-152), Commission(-1010, rate).PlatformFee)
	// 0.125 * 4 = 0.5 -> 1
	assert.Equal(t, int64(1), Commission(4, MustCommissionRate("0.125")).PlatformFee)
}

func TestCommissionNeverLeaks(t *testing.T) {
	for _, r := range []string{"0", "0.1", "0.15", "0.175", "0.333333", "1"} {
		rate := MustCommissionRate(r)
		for subtotal := int64(0); subtotal < 5000; subtotal += 7 {
			s := Commission(subtotal, rate)
			require.Equal(t, subtotal, s.PlatformFee+s.CaregiverPayout, "rate %s subtotal %d", r, subtotal)
			require.GreaterOrEqual(t, s.CaregiverPayout, int64(0))
		}
	}
}

func TestParseCommissionRate(t *testing.T) {
	r, err := ParseCommissionRate("0.15")
	require.NoError(t, err)
	assert.Equal(t, "0.15", r.String())

	r, err = ParseCommissionRate("1")
	require.NoError(t, err)
	assert.Equal(t, "1", r.String())

	for _, bad := range []string{"", "-0.1", "1.5", "0.1234567", "abc", ".15", "0.1e2", "2"} {
		_, err := ParseCommissionRate(bad)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}
}
