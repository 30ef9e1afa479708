// Package ical renders an owner's calendar entries as an iCalendar feed.
package ical

import (
	"io"
	"time"

	goical "github.com/emersion/go-ical"

	"mindcal/internal/domain"
)

const ProductID = "-//mindcal//mindcal calendar//EN"

// Encode writes events as a single VCALENDAR. Times are emitted in UTC.
func Encode(w io.Writer, events []domain.Event, now time.Time) error {
	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropVersion, "2.0")
	cal.Props.SetText(goical.PropProductID, ProductID)
	stamp := now.UTC()
	for _, e := range events {
		ev := goical.NewEvent()
		ev.Props.SetText(goical.PropUID, uid(e))
		ev.Props.SetDateTime(goical.PropDateTimeStamp, stamp)
		ev.Props.SetDateTime(goical.PropDateTimeStart, e.StartDate.UTC())
		ev.Props.SetDateTime(goical.PropDateTimeEnd, e.EndDate.UTC())
		ev.Props.SetText(goical.PropSummary, e.Title)
		if e.Description != "" {
			ev.Props.SetText(goical.PropDescription, e.Description)
		}
		if !e.UpdatedAt.IsZero() {
			ev.Props.SetDateTime(goical.PropLastModified, e.UpdatedAt.UTC())
		}
		if e.IsFromMindMap {
			ev.Props.SetText(goical.PropCategories, "mind-map")
		}
		cal.Children = append(cal.Children, ev.Component)
	}
	return goical.NewEncoder(w).Encode(cal)
}

func uid(e domain.Event) string {
	return e.ID + "@mindcal"
}
