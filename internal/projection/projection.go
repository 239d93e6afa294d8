// Package projection derives the views a client renders from the raw claim
// set. Everything here is a pure function of its inputs.
package projection

import (
	"sort"

	"daycal/internal/calendar"
	"daycal/internal/model"
)

// OwnClaim returns the claim held by ownerID, if any.
func OwnClaim(claims []model.Claim, ownerID string) (model.Claim, bool) {
	if ownerID == "" {
		return model.Claim{}, false
	}
	for _, c := range claims {
		if c.OwnerID == ownerID {
			return c, true
		}
	}
	return model.Claim{}, false
}

// ClaimsForDate returns every claim on date, in arrival order.
func ClaimsForDate(claims []model.Claim, date string) []model.Claim {
	out := make([]model.Claim, 0)
	for _, c := range claims {
		if c.Date == date {
			out = append(out, c)
		}
	}
	return out
}

// ByDate buckets claims by date in one pass. Order inside a bucket is
// arrival order.
func ByDate(claims []model.Claim) map[string][]model.Claim {
	out := make(map[string][]model.Claim)
	for _, c := range claims {
		out[c.Date] = append(out[c.Date], c)
	}
	return out
}

// RosterSortedByDate returns a copy of claims ordered by ascending date.
// Canonical YYYY-MM-DD strings sort correctly as plain strings. Claims on
// the same date keep their relative order.
func RosterSortedByDate(claims []model.Claim) []model.Claim {
	out := append([]model.Claim(nil), claims...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date < out[j].Date
	})
	if out == nil {
		out = []model.Claim{}
	}
	return out
}

// Day is a grid cell together with the claims that fall on it. Padding
// cells never carry claims.
type Day struct {
	calendar.Cell
	Claims []model.Claim `json:"claims"`
}

// View is everything needed to render one month for one viewer.
type View struct {
	Month    calendar.Month `json:"month"`
	Revision uint64         `json:"revision"`
	Days     []Day          `json:"days"`
	Own      *model.Claim   `json:"own,omitempty"`
	Roster   []model.Claim  `json:"roster"`
}

// Build merges the month grid with the claim set as seen by ownerID.
func Build(snap model.Snapshot, ownerID string, m calendar.Month) View {
	cells := calendar.Grid(m)
	buckets := ByDate(snap.Claims)

	days := make([]Day, len(cells))
	for i, cell := range cells {
		days[i] = Day{Cell: cell, Claims: []model.Claim{}}
		if cell.InMonth {
			if b, ok := buckets[cell.Date]; ok {
				days[i].Claims = b
			}
		}
	}

	v := View{
		Month:    m,
		Revision: snap.Revision,
		Days:     days,
		Roster:   RosterSortedByDate(snap.Claims),
	}
	if own, ok := OwnClaim(snap.Claims, ownerID); ok {
		v.Own = &own
	}
	return v
}

// Day returns the grid day for date, if date is inside the viewed month.
func (v View) Day(date string) (Day, bool) {
	for _, d := range v.Days {
		if d.InMonth && d.Date == date {
			return d, true
		}
	}
	return Day{}, false
}
