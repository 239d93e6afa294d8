package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridAlwaysFortyTwoCells(t *testing.T) {
	for year := 1999; year <= 2030; year++ {
		for month := time.January; month <= time.December; month++ {
			m := NewMonth(year, month)
			cells := Grid(m)
			require.Len(t, cells, GridCells, m.String())

			// Current-month cells form one contiguous run of the true length.
			first, last := -1, -1
			for i, c := range cells {
				if c.InMonth {
					if first < 0 {
						first = i
					}
					last = i
				}
			}
			trueDays := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
			assert.Equal(t, trueDays, last-first+1, m.String())
			for i := first; i <= last; i++ {
				assert.True(t, cells[i].InMonth, m.String())
				assert.Equal(t, i-first+1, cells[i].Day)
			}
			assert.Equal(t, int(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday()), first)
		}
	}
}

func TestGridFebruary2024(t *testing.T) {
	cells := Grid(FromIndex(2024, 1))
	require.Len(t, cells, 42)

	// 2024-02-01 is a Thursday.
	for i := 0; i < 4; i++ {
		assert.False(t, cells[i].InMonth)
		assert.Empty(t, cells[i].Date)
	}
	assert.Equal(t, []int{28, 29, 30, 31}, []int{cells[0].Day, cells[1].Day, cells[2].Day, cells[3].Day})

	inMonth := 0
	for _, c := range cells {
		if c.InMonth {
			inMonth++
		}
	}
	assert.Equal(t, 29, inMonth)
	assert.Equal(t, "2024-02-01", cells[4].Date)
	assert.Equal(t, "2024-02-29", cells[32].Date)
	assert.Equal(t, 1, cells[33].Day)
	assert.False(t, cells[33].InMonth)
}

func TestGridFebruaryNonLeap(t *testing.T) {
	inMonth := 0
	for _, c := range Grid(NewMonth(2023, time.February)) {
		if c.InMonth {
			inMonth++
		}
	}
	assert.Equal(t, 28, inMonth)
}

func TestGridPaddingCarriesNoDate(t *testing.T) {
	for _, c := range Grid(NewMonth(2025, time.December)) {
		if !c.InMonth {
			assert.Empty(t, c.Date)
		} else {
			assert.Regexp(t, `^2025-12-\d\d$`, c.Date)
		}
	}
}

func TestGridStartingSunday(t *testing.T) {
	// 2026-02-01 is a Sunday: no leading padding, 28 days, 14 trailing.
	cells := Grid(NewMonth(2026, time.February))
	assert.True(t, cells[0].InMonth)
	assert.Equal(t, "2026-02-01", cells[0].Date)
	assert.Equal(t, 1, cells[28].Day)
	assert.Equal(t, 14, cells[41].Day)
}

func TestMonthNavigation(t *testing.T) {
	dec := NewMonth(2024, time.December)
	assert.Equal(t, Month{Year: 2025, Month: time.January}, dec.Next())
	assert.Equal(t, Month{Year: 2024, Month: time.November}, dec.Prev())
	assert.Equal(t, Month{Year: 2023, Month: time.December}, NewMonth(2024, time.January).Prev())

	assert.Equal(t, Month{Year: 2025, Month: time.March}, FromIndex(2025, 2))
	assert.Equal(t, Month{Year: 2026, Month: time.January}, FromIndex(2025, 12))
	assert.Equal(t, 2, FromIndex(2025, 2).Index())
	assert.Equal(t, "2025-03", FromIndex(2025, 2).String())
}

func TestParseMonth(t *testing.T) {
	m, err := ParseMonth("2024-02")
	require.NoError(t, err)
	assert.Equal(t, NewMonth(2024, time.February), m)
	assert.Equal(t, 29, m.Days())

	_, err = ParseMonth("2024/02")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-01-05")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-05", DateKey(d))

	for _, bad := range []string{"", "2025-1-5", "2025-02-30", "05/01/2025", "2025-01-05T00:00:00Z"} {
		_, err := ParseDate(bad)
		assert.ErrorIs(t, err, ErrInvalidDate, bad)
	}
}
