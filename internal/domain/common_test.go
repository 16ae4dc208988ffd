package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDay_TruncatesToUTCMidnight(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	// 2025-06-16 22:00 New York is 2025-06-17 02:00 UTC; the UTC day wins.
	local := time.Date(2025, 6, 16, 22, 0, 0, 0, ny)
	assert.Equal(t, time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC), Day(local))
}

func TestSameDay(t *testing.T) {
	a := time.Date(2025, 6, 16, 0, 0, 1, 0, time.UTC)
	b := time.Date(2025, 6, 16, 23, 59, 59, 0, time.UTC)
	c := time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC)

	assert.True(t, SameDay(a, b))
	assert.False(t, SameDay(b, c))
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2025, 6, 16, 23, 0, 0, 0, time.UTC)
	b := time.Date(2025, 6, 18, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, 2, DaysBetween(a, b))
	assert.Equal(t, -2, DaysBetween(b, a))
	assert.Equal(t, 0, DaysBetween(a, a))
}

func TestOpenPosition_Math(t *testing.T) {
	pos := &OpenPosition{
		Symbol:       "AAPL",
		EntryTime:    time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC),
		EntryPrice:   100,
		Size:         10,
		CurrentPrice: 112,
	}

	assert.InDelta(t, 120.0, pos.UnrealizedPNL(), 1e-9)
	assert.InDelta(t, 0.12, pos.UnrealizedPNLPct(), 1e-9)
	assert.InDelta(t, 1120.0, pos.MarketValue(), 1e-9)
	assert.Equal(t, 6, pos.HoldingDays(time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, pos.HoldingDays(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)), "clock skew never yields negative holding days")
}

func TestOpenPosition_ZeroEntryPrice(t *testing.T) {
	pos := &OpenPosition{EntryPrice: 0, CurrentPrice: 50, Size: 1}
	assert.Equal(t, 0.0, pos.UnrealizedPNLPct())
}

func TestCashReserve_Lifecycle(t *testing.T) {
	day := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	r := &CashReserve{Amount: 5000, SetDate: day, ExpiryDate: day.AddDate(0, 0, 3)}

	assert.True(t, r.ActiveOn(day))
	assert.True(t, r.ActiveOn(day.AddDate(0, 0, 3)), "reserve holds through expiry day inclusive")
	assert.False(t, r.ActiveOn(day.AddDate(0, 0, 4)))
	assert.False(t, r.ExpiredOn(day.AddDate(0, 0, 3)))
	assert.True(t, r.ExpiredOn(day.AddDate(0, 0, 4)))

	var nilReserve *CashReserve
	assert.False(t, nilReserve.ActiveOn(day))
	assert.False(t, nilReserve.ExpiredOn(day))
}

func TestExitIntent_IsForced(t *testing.T) {
	tests := []struct {
		name   string
		intent ExitIntent
		want   bool
	}{
		{name: "planned eod", intent: ExitIntent{State: ExitPlanned, Urgency: UrgencyEOD}, want: false},
		{name: "force exit", intent: ExitIntent{State: ForceExit, Urgency: UrgencyEOD}, want: true},
		{name: "immediate urgency", intent: ExitIntent{State: ExitPlanned, Urgency: UrgencyImmediate}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.intent.IsForced())
		})
	}
}
