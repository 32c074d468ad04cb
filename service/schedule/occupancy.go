package schedule

import (
	"strings"

	"github.com/sehatsethu/sehatsethu-server/cmd/models"
)

// OccupiedSet indexes taken slots by date ("2006-01-02") and time ("HH:MM").
type OccupiedSet map[string]map[string]bool

// IsBlockingStatus reports whether an appointment status occupies its
// slot. Cancelled and completed appointments never block.
func IsBlockingStatus(status string) bool {
	status = strings.ToUpper(strings.TrimSpace(status))
	for _, s := range models.BlockingStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// BuildOccupied collects the taken slots from existing appointments,
// keeping only those whose status blocks.
func BuildOccupied(appointments []models.Appointment) OccupiedSet {
	occupied := OccupiedSet{}
	for _, a := range appointments {
		if !IsBlockingStatus(a.Status) {
			continue
		}
		date := a.ScheduledAt.Format("2006-01-02")
		hhmm := a.ScheduledAt.Format("15:04")
		if occupied[date] == nil {
			occupied[date] = map[string]bool{}
		}
		occupied[date][hhmm] = true
	}
	return occupied
}

// MarkOccupied flags calendar slots whose exact date and start time have
// an active appointment. Matching is exact on the 30-minute grid; every
// appointment spans one slot, so no overlap logic is needed. Past times
// on the current date are deliberately not filtered here: past-time
// rejection happens at booking, not at display.
func MarkOccupied(days []DayCalendar, occupied OccupiedSet) []DayCalendar {
	for di := range days {
		taken := occupied[days[di].Date]
		if taken == nil {
			continue
		}
		for si := range days[di].Sections {
			slots := days[di].Sections[si].Slots
			for i := range slots {
				if taken[slots[i].Value] {
					slots[i].Disabled = true
				}
			}
		}
	}
	return days
}
