// Package action expands a declarative schedule into a concrete, sorted
// stream of scheduling actions. Expand is pure: it never touches the clock
// or the cluster, so it can be exercised as plain data in to data out.
package action

import (
	"sort"
	"time"

	"github.com/cuemby/nsscheduler/pkg/config"
)

// Kind is the direction of an Action.
type Kind int

const (
	Down Kind = iota
	Up
)

func (k Kind) String() string {
	if k == Up {
		return "UP"
	}
	return "DOWN"
}

// Source identifies what produced an Action.
type Source int

const (
	Manual Source = iota
	Holiday
	Weekday
)

func (s Source) String() string {
	switch s {
	case Manual:
		return "MANUAL"
	case Holiday:
		return "HOLIDAY"
	default:
		return "WEEKDAY"
	}
}

// Action is a scheduled intent to bring an environment Up or Down at a
// specific instant, tagged with the source that produced it.
type Action struct {
	Kind   Kind
	Source Source
	When   time.Time
}

// Less implements the total order of actions: primarily by When, then by
// Source (Manual < Holiday < Weekday), then by Kind (Down < Up). The iota
// values above already encode this order, but Less is hand-written and
// tested against the published order rather than assumed from raw int
// comparison, per the design note on enumerations with order.
func Less(a, b Action) bool {
	if !a.When.Equal(b.When) {
		return a.When.Before(b.When)
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	return a.Kind < b.Kind
}

// Expand materializes every action a schedule implies within the closed
// interval [startingFrom, until]. Both bounds must already be zoned; a naive
// time.Time is a programming error here, not a condition Expand recovers
// from.
func Expand(schedule config.Schedule, startingFrom, until time.Time) []Action {
	var out []Action

	for _, h := range schedule.Holidays {
		if withinClosed(h.Stop, startingFrom, until) {
			out = append(out, Action{Kind: Down, Source: Holiday, When: h.Stop})
		}
		if withinClosed(h.Start, startingFrom, until) {
			out = append(out, Action{Kind: Up, Source: Holiday, When: h.Start})
		}
	}

	for _, rule := range schedule.Weekdays {
		for _, day := range rule.Days {
			for _, occurrence := range weekdayOccurrences(day, startingFrom, until, schedule.Location) {
				for _, tod := range rule.Stop {
					when := time.Date(occurrence.Year(), occurrence.Month(), occurrence.Day(), tod.Hour, tod.Minute, 0, 0, schedule.Location)
					if withinClosed(when, startingFrom, until) && !onHoliday(when, schedule.Holidays) {
						out = append(out, Action{Kind: Down, Source: Weekday, When: when})
					}
				}
				for _, tod := range rule.Start {
					when := time.Date(occurrence.Year(), occurrence.Month(), occurrence.Day(), tod.Hour, tod.Minute, 0, 0, schedule.Location)
					if withinClosed(when, startingFrom, until) && !onHoliday(when, schedule.Holidays) {
						out = append(out, Action{Kind: Up, Source: Weekday, When: when})
					}
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

func withinClosed(t, from, until time.Time) bool {
	return !t.Before(from) && !t.After(until)
}

func onHoliday(t time.Time, holidays []config.HolidayWindow) bool {
	for _, h := range holidays {
		if !t.Before(h.Stop) && !t.After(h.Start) {
			return true
		}
	}
	return false
}

// isoWeekday maps a time.Time to the 1=Monday...7=Sunday convention the
// schedule's WeekdayRule.Days use (time.Weekday itself is 0=Sunday-based).
func isoWeekday(t time.Time) int {
	return ((int(t.Weekday()) + 6) % 7) + 1
}

// weekdayOccurrences returns the midnight instants, in schedule.Location, of
// every occurrence of the given ISO weekday within [startingFrom, until],
// starting from the most recent occurrence on or before startingFrom's date
// and striding 7 days forward — ported from
// `starting_from.date() - timedelta(days=(starting_from.weekday()+1-weekday)%7)`.
func weekdayOccurrences(day int, startingFrom, until time.Time, loc *time.Location) []time.Time {
	from := startingFrom.In(loc)
	diff := ((isoWeekday(from) - day) % 7 + 7) % 7
	date := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -diff)

	var occurrences []time.Time
	for !date.After(until) {
		occurrences = append(occurrences, date)
		date = date.AddDate(0, 0, 7)
	}
	return occurrences
}
