package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sehatsethu/sehatsethu-server/cmd/models"
)

// Slot length is fixed for every doctor; appointments always span one slot.
const SlotMinutes = 30

const (
	DefaultStart = "09:00"
	DefaultEnd   = "17:00"
)

const (
	SectionMorning   = "MORNING"
	SectionAfternoon = "AFTERNOON"
	SectionEvening   = "EVENING"
)

var sectionOrder = []string{SectionMorning, SectionAfternoon, SectionEvening}

// Rule is a doctor's normalized availability window for one weekday.
type Rule struct {
	Enabled bool
	Start   string
	End     string
}

// WeekRules maps ISO weekday (1=Monday .. 7=Sunday) to its rule.
// Missing weekdays are treated as disabled.
type WeekRules map[int]Rule

type Slot struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled"`
}

type Section struct {
	Key   string `json:"key"`
	Slots []Slot `json:"slots"`
}

type DayCalendar struct {
	Date     string    `json:"date"`
	DayNum   int       `json:"dayNum"`
	Enabled  bool      `json:"enabled"`
	Sections []Section `json:"sections"`
}

var timePattern = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?$`)

// NormalizeTime accepts "HH:MM" or "HH:MM:SS" and returns "HH:MM";
// anything else normalizes to "".
func NormalizeTime(t string) string {
	t = strings.TrimSpace(t)
	if !timePattern.MatchString(t) {
		return ""
	}
	return t[:5]
}

func ToMinutes(t string) int {
	t = NormalizeTime(t)
	if t == "" {
		return 0
	}
	var h, m int
	fmt.Sscanf(t, "%d:%d", &h, &m)
	return h*60 + m
}

func FormatMinutes(mins int) string {
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// Label12Hour renders "HH:MM" as a 12-hour clock label, e.g. "1:30 PM".
func Label12Hour(hhmm string) string {
	h := ToMinutes(hhmm) / 60
	m := ToMinutes(hhmm) % 60
	ampm := "AM"
	if h >= 12 {
		ampm = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, m, ampm)
}

// SectionKey buckets a slot time: before noon MORNING, before 17:00
// AFTERNOON, else EVENING.
func SectionKey(hhmm string) string {
	h := ToMinutes(hhmm) / 60
	switch {
	case h < 12:
		return SectionMorning
	case h < 17:
		return SectionAfternoon
	default:
		return SectionEvening
	}
}

// BuildWeek normalizes availability rows into per-weekday rules. A rule
// whose window does not satisfy end > start is disabled. Weekdays with
// no row get a disabled rule carrying the default window, which exists
// for display purposes only.
func BuildWeek(rows []models.DoctorAvailability) WeekRules {
	weekly := WeekRules{}
	for _, r := range rows {
		if r.DayOfWeek < 1 || r.DayOfWeek > 7 {
			continue
		}

		enabled := r.Enabled
		start := NormalizeTime(r.StartTime)
		end := NormalizeTime(r.EndTime)
		if enabled && (start == "" || end == "" || ToMinutes(end) <= ToMinutes(start)) {
			enabled = false
		}
		if start == "" {
			start = DefaultStart
		}
		if end == "" {
			end = DefaultEnd
		}

		weekly[r.DayOfWeek] = Rule{Enabled: enabled, Start: start, End: end}
	}
	for d := 1; d <= 7; d++ {
		if _, ok := weekly[d]; !ok {
			weekly[d] = Rule{Enabled: false, Start: DefaultStart, End: DefaultEnd}
		}
	}
	return weekly
}

// ISOWeekday returns 1=Monday .. 7=Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// ClampDaysAhead bounds the lookahead window to [1,14].
func ClampDaysAhead(n int) int {
	if n < 1 {
		return 1
	}
	if n > 14 {
		return 14
	}
	return n
}

// SlotFits reports whether a requested time lands on the 30-minute grid
// inside the rule's window with the whole slot contained in it. The same
// arithmetic backs calendar generation, keeping the display and booking
// paths consistent.
func SlotFits(rule Rule, hhmm string) bool {
	t := ToMinutes(hhmm)
	start := ToMinutes(rule.Start)
	end := ToMinutes(rule.End)
	if t < start || t+SlotMinutes > end {
		return false
	}
	return (t-start)%SlotMinutes == 0
}

// BuildCalendar expands weekly rules into discrete 30-minute slots for
// each date from today through today+daysAhead-1, ascending. It is a
// pure function of its inputs: no clock reads, no store access. A day is
// enabled only when its rule is enabled and at least one slot fits the
// window; a window shorter than one slot degrades to a disabled day.
func BuildCalendar(rules WeekRules, today time.Time, daysAhead int) []DayCalendar {
	daysAhead = ClampDaysAhead(daysAhead)
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())

	days := make([]DayCalendar, 0, daysAhead)
	for i := 0; i < daysAhead; i++ {
		date := today.AddDate(0, 0, i)
		rule := rules[ISOWeekday(date)]

		sections := map[string][]Slot{}
		total := 0

		if rule.Enabled && ToMinutes(rule.End) > ToMinutes(rule.Start) {
			startMin := ToMinutes(rule.Start)
			endMin := ToMinutes(rule.End)

			// A slot that would overrun the window is never generated.
			for m := startMin; m+SlotMinutes <= endMin; m += SlotMinutes {
				hhmm := FormatMinutes(m)
				key := SectionKey(hhmm)
				sections[key] = append(sections[key], Slot{
					Value: hhmm,
					Label: Label12Hour(hhmm),
				})
				total++
			}
		}

		sectionList := make([]Section, 0, len(sectionOrder))
		for _, key := range sectionOrder {
			slots := sections[key]
			if slots == nil {
				slots = []Slot{}
			}
			sectionList = append(sectionList, Section{Key: key, Slots: slots})
		}

		days = append(days, DayCalendar{
			Date:     date.Format("2006-01-02"),
			DayNum:   date.Day(),
			Enabled:  rule.Enabled && total > 0,
			Sections: sectionList,
		})
	}
	return days
}
