// Package ics publishes the claim roster as an iCalendar feed so the board
// can be subscribed to from ordinary calendar apps.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"daycal/internal/calendar"
	appLog "daycal/internal/log"
	"daycal/internal/model"
	"daycal/internal/projection"
)

const (
	productID = "-//daycal//claims//EN"
	uidSuffix = "@daycal"

	propOwner  = ical.ComponentProperty("X-DAYCAL-OWNER")
	propAvatar = ical.ComponentProperty("X-DAYCAL-AVATAR")
)

// FeedOptions controls calendar-level metadata.
type FeedOptions struct {
	// Name is shown by calendar apps (X-WR-CALNAME).
	Name string
}

// Export renders claims as one all-day VEVENT per claim, in roster order.
func Export(claims []model.Claim, opts FeedOptions) (string, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetName(opts.Name)
		cal.SetXWRCalName(opts.Name)
	}

	for _, c := range projection.RosterSortedByDate(claims) {
		day, err := calendar.ParseDate(c.Date)
		if err != nil {
			appLog.Error("ics export: skipping claim with bad date", err, "owner", c.OwnerID)
			continue
		}

		ev := cal.AddEvent(c.OwnerID + uidSuffix)
		ev.SetAllDayStartAt(day)
		ev.SetAllDayEndAt(day.AddDate(0, 0, 1))
		ev.SetSummary(c.DisplayName)
		stamp := c.ClaimedAt
		if stamp.IsZero() {
			stamp = time.Now()
		}
		ev.SetDtStampTime(stamp)
		ev.SetProperty(propOwner, c.OwnerID)
		if c.AvatarRef != "" {
			ev.SetProperty(propAvatar, c.AvatarRef)
		}
	}

	return cal.Serialize(), nil
}

// Parse reads a feed produced by Export back into claims. Events that are
// not claims (no owner) are skipped.
func Parse(body []byte) ([]model.Claim, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse: %w", err)
	}

	claims := make([]model.Claim, 0)
	for _, ev := range cal.Events() {
		c, perr := parseEvent(ev)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr)
			continue
		}
		claims = append(claims, c)
	}
	return claims, nil
}

func parseEvent(ev *ical.VEvent) (model.Claim, error) {
	var c model.Claim

	if p := ev.GetProperty(propOwner); p != nil {
		c.OwnerID = p.Value
	} else if p := ev.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		c.OwnerID = strings.TrimSuffix(p.Value, uidSuffix)
	}
	if c.OwnerID == "" {
		return c, errors.New("missing owner")
	}

	if p := ev.GetProperty(ical.ComponentPropertySummary); p != nil {
		c.DisplayName = p.Value
	}
	if p := ev.GetProperty(propAvatar); p != nil {
		c.AvatarRef = p.Value
	}

	start := ev.GetProperty(ical.ComponentPropertyDtStart)
	if start == nil {
		return c, errors.New("missing DTSTART")
	}
	day, err := time.Parse("20060102", strings.TrimSpace(start.Value))
	if err != nil {
		return c, fmt.Errorf("DTSTART is not a date: %w", err)
	}
	c.Date = day.Format(model.DateLayout)

	if stamp, err := ev.GetDtStampTime(); err == nil {
		c.ClaimedAt = stamp
	}
	return c, nil
}
