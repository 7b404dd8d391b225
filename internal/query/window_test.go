package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/testutil"
)

func TestResolveWindow(t *testing.T) {
	now := testutil.FixedNow
	date := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		window       string
		expectedFrom time.Time
		expectedTo   *time.Time
	}{
		{window: "today", expectedFrom: date(2024, 3, 13), expectedTo: ptr(date(2024, 3, 14))},
		{window: "yesterday", expectedFrom: date(2024, 3, 12), expectedTo: ptr(date(2024, 3, 13))},
		{window: "last_24h", expectedFrom: now.Add(-24 * time.Hour)},
		{window: "last_week", expectedFrom: now.Add(-7 * 24 * time.Hour)},
		{window: "LAST_MONTH", expectedFrom: now.Add(-30 * 24 * time.Hour)},
		{window: "last_quarter", expectedFrom: now.Add(-90 * 24 * time.Hour)},
		{window: "last_year", expectedFrom: now.Add(-365 * 24 * time.Hour)},
		{window: "this_week", expectedFrom: date(2024, 3, 11)},
		{window: "this_month", expectedFrom: date(2024, 3, 1)},
		{window: "this_year", expectedFrom: date(2024, 1, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.window, func(t *testing.T) {
			b, err := ResolveWindow(tt.window, now)
			require.NoError(t, err)
			require.NotNil(t, b.From)
			assert.True(t, tt.expectedFrom.Equal(*b.From), "from %s", b.From)

			if tt.expectedTo == nil {
				assert.Nil(t, b.To)
			} else {
				require.NotNil(t, b.To)
				assert.True(t, tt.expectedTo.Equal(*b.To), "to %s", b.To)
			}
		})
	}
}

func TestResolveWindowThisWeekOnSunday(t *testing.T) {
	sunday := time.Date(2024, time.March, 17, 9, 0, 0, 0, time.UTC)

	b, err := ResolveWindow(WindowThisWeek, sunday)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, b.From.Weekday())
	assert.Equal(t, 11, b.From.Day())
}

func TestResolveWindowUnknown(t *testing.T) {
	_, err := ResolveWindow("next_week", testutil.FixedNow)
	assert.Error(t, err)
}

func TestParseTime(t *testing.T) {
	for _, in := range []any{"2024-03-13", "2024-03-13T00:00:00", "2024-03-13T00:00:00Z", time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)} {
		got, err := parseTime(in)
		require.NoError(t, err)
		assert.Equal(t, 13, got.Day())
	}

	_, err := parseTime("March 13th")
	assert.Error(t, err)

	_, err = parseTime(42)
	assert.Error(t, err)
}

func ptr(t time.Time) *time.Time { return &t }
