package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func TestParse(t *testing.T) {
	r, err := Parse("RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,FR")
	require.NoError(t, err)
	assert.Equal(t, Weekly, r.Freq)
	assert.Equal(t, 2, r.Interval)
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday}, r.ByDay)
	assert.Equal(t, "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,FR", r.String())

	r, err = Parse("FREQ=MONTHLY;BYMONTHDAY=31;UNTIL=20270101")
	require.NoError(t, err)
	require.NotNil(t, r.Until)
	assert.Equal(t, 31, r.ByMonthDay)

	for _, bad := range []string{
		"",
		"INTERVAL=2",
		"FREQ=HOURLY",
		"FREQ=DAILY;INTERVAL=0",
		"FREQ=DAILY;BYDAY=MO",
		"FREQ=WEEKLY;BYDAY=XX",
		"FREQ=MONTHLY;BYMONTHDAY=32",
		"FREQ=DAILY;COUNT=2;UNTIL=20270101",
		"FREQ=DAILY;BYSETPOS=1",
		"FREQ",
	} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		rule string
		prev time.Time
		want time.Time
	}{
		{"FREQ=DAILY;INTERVAL=3", date(2026, 10, 30), date(2026, 11, 2)},
		{"FREQ=WEEKLY", date(2026, 10, 14), date(2026, 10, 21)},
		// Wednesday 14 Oct -> Friday of the same week
		{"FREQ=WEEKLY;BYDAY=MO,FR", date(2026, 10, 14), date(2026, 10, 16)},
		// Friday -> Monday two weeks on
		{"FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,FR", date(2026, 10, 16), date(2026, 10, 26)},
		{"FREQ=MONTHLY", date(2026, 1, 15), date(2026, 2, 15)},
		{"FREQ=MONTHLY;BYMONTHDAY=31", date(2026, 1, 31), date(2026, 2, 28)},
		{"FREQ=MONTHLY;BYMONTHDAY=31", date(2026, 2, 28), date(2026, 3, 31)},
		{"FREQ=YEARLY", date(2028, 2, 29), date(2029, 2, 28)},
	}
	for _, tc := range tests {
		t.Run(tc.rule, func(t *testing.T) {
			r, err := Parse(tc.rule)
			require.NoError(t, err)
			assert.Equal(t, tc.want, r.Next(tc.prev))
		})
	}
}

func TestEndAt(t *testing.T) {
	r, err := Parse("FREQ=MONTHLY;COUNT=3")
	require.NoError(t, err)
	end, ok := r.EndAt(date(2026, 1, 10))
	require.True(t, ok)
	assert.Equal(t, date(2026, 3, 10), end)

	r, err = Parse("FREQ=DAILY")
	require.NoError(t, err)
	_, ok = r.EndAt(date(2026, 1, 10))
	assert.False(t, ok)
}
