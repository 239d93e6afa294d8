// Package calendar builds the fixed month grid that claims are laid onto.
package calendar

import (
	"errors"
	"fmt"
	"time"

	"daycal/internal/model"
)

const (
	// GridRows x GridColumns is the fixed layout, weeks starting Sunday.
	GridRows    = 6
	GridColumns = 7
	GridCells   = GridRows * GridColumns
)

// ErrInvalidDate is returned when a string is not a YYYY-MM-DD date.
var ErrInvalidDate = errors.New("calendar: invalid date")

// Month identifies a calendar month. The zero value is not meaningful; use
// NewMonth, FromIndex or MonthOf.
type Month struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// NewMonth normalizes (year, month) so that out-of-range months roll over
// into neighbouring years (month 13 is January of the next year).
func NewMonth(year int, month time.Month) Month {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Month{Year: t.Year(), Month: t.Month()}
}

// FromIndex builds a Month from a zero-based month index (0 = January).
func FromIndex(year, month0 int) Month {
	return NewMonth(year, time.Month(month0+1))
}

// MonthOf returns the month containing t, in t's location.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("calendar: invalid month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

// Index returns the zero-based month index.
func (m Month) Index() int { return int(m.Month) - 1 }

func (m Month) Next() Month { return NewMonth(m.Year, m.Month+1) }

func (m Month) Prev() Month { return NewMonth(m.Year, m.Month-1) }

func (m Month) first() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Days returns the number of days in the month.
func (m Month) Days() int {
	return m.first().AddDate(0, 1, -1).Day()
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Cell is one slot of the grid. Padding cells from the neighbouring months
// have InMonth == false and an empty Date; they never accept claims.
type Cell struct {
	Day     int    `json:"day"`
	Date    string `json:"date,omitempty"`
	InMonth bool   `json:"in_month"`
}

// Grid returns exactly GridCells cells for m: trailing days of the previous
// month, every day of m keyed by its YYYY-MM-DD date, then leading days of
// the next month.
func Grid(m Month) []Cell {
	first := m.first()
	offset := int(first.Weekday())
	days := m.Days()
	prevDays := first.AddDate(0, 0, -1).Day()

	cells := make([]Cell, 0, GridCells)
	for i := offset - 1; i >= 0; i-- {
		cells = append(cells, Cell{Day: prevDays - i})
	}
	for d := 1; d <= days; d++ {
		cells = append(cells, Cell{
			Day:     d,
			Date:    first.AddDate(0, 0, d-1).Format(model.DateLayout),
			InMonth: true,
		})
	}
	for d := 1; len(cells) < GridCells; d++ {
		cells = append(cells, Cell{Day: d})
	}
	return cells
}

// DateKey formats t's calendar day as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format(model.DateLayout)
}

// ParseDate validates s as a canonical YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil || t.Format(model.DateLayout) != s {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}
