package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartsAt_CombinesDateAndClock(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	date := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

	got, err := StartsAt(date, "19:30", loc)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 10, 20, 19, 30, 0, 0, loc), got)
}

func TestStartsAt_AcceptsSeconds(t *testing.T) {
	date := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

	got, err := StartsAt(date, "07:05:09", time.UTC)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 10, 20, 7, 5, 9, 0, time.UTC), got)
}

func TestStartsAt_InvalidClock(t *testing.T) {
	_, err := StartsAt(time.Now(), "25:99", time.UTC)
	assert.Error(t, err)
}

func TestHoursUntil_NoRounding(t *testing.T) {
	start := time.Date(2026, 10, 20, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, 4.0, HoursUntil(start, start.Add(-4*time.Hour)))
	assert.InDelta(t, 4.01, HoursUntil(start, start.Add(-4*time.Hour-36*time.Second)), 1e-9)
	assert.Less(t, HoursUntil(start, start.Add(time.Minute)), 0.0)
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	now := time.Date(2026, 10, 21, 1, 0, 0, 0, time.UTC) // 22:00 on the 20th in BRT

	assert.Equal(t, time.Date(2026, 10, 20, 0, 0, 0, 0, loc), StartOfDay(now, loc))
}

func TestParseBillingPeriod(t *testing.T) {
	p, err := ParseBillingPeriod("2026-10")
	require.NoError(t, err)
	assert.Equal(t, "2026-10", p)

	_, err = ParseBillingPeriod("2026-13")
	assert.Error(t, err)

	_, err = ParseBillingPeriod("october")
	assert.Error(t, err)
}

func TestTierPriority(t *testing.T) {
	assert.True(t, TierSubscriber.IsPriority())
	assert.True(t, TierKeeper.IsPriority())
	assert.False(t, TierCasual.IsPriority())
	assert.False(t, TierGuest.IsPriority())
}
