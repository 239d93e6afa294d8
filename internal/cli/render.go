package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"daycal/internal/calendar"
	"daycal/internal/model"
	"daycal/internal/projection"
)

// RenderMonth writes a text calendar for v. The viewer's day is marked
// with '*' and a trailing number counts everyone else on that day.
func RenderMonth(w io.Writer, v projection.View) error {
	var b strings.Builder

	title := fmt.Sprintf("%s %d", v.Month.Month, v.Month.Year)
	fmt.Fprintf(&b, "%*s\n", (calendar.GridColumns*6+len(title))/2, title)
	for _, d := range []string{"Su", "Mo", "Tu", "We", "Th", "Fr", "Sa"} {
		fmt.Fprintf(&b, " %-5s", d)
	}
	b.WriteString("\n")

	for i, day := range v.Days {
		b.WriteString(" " + renderCell(day, v.Own))
		if (i+1)%calendar.GridColumns == 0 {
			b.WriteString("\n")
		}
	}

	if v.Own != nil {
		fmt.Fprintf(&b, "\nyour day: %s\n", v.Own.Date)
	} else {
		b.WriteString("\nyou have not claimed a day\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func renderCell(day projection.Day, own *model.Claim) string {
	if !day.InMonth {
		return fmt.Sprintf("%-5s", "  .")
	}

	mark := " "
	others := len(day.Claims)
	if own != nil && own.Date == day.Date {
		mark = "*"
		others--
	}
	cell := fmt.Sprintf("%2d%s", day.Day, mark)
	if others > 0 {
		cell += fmt.Sprintf("%d", others)
	}
	return fmt.Sprintf("%-5s", cell)
}

// RenderRoster writes one line per claim, ordered by date.
func RenderRoster(w io.Writer, claims []model.Claim) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tNAME\tOWNER")
	for _, c := range projection.RosterSortedByDate(claims) {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Date, c.DisplayName, c.OwnerID)
	}
	return tw.Flush()
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
