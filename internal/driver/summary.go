package driver

import (
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/records"
)

// summaryLocked derives the summary from current state. "Today" is the
// calendar date of the clock in the store's location. Callers hold s.mu.
func (s *Store) summaryLocked() Summary {
	now := s.clock()
	return computeSummary(s.state.earnings, s.state.expenses, s.state.reminders, now, s.location)
}

func computeSummary(earnings, expenses []records.MoneyEntry, reminders []records.Reminder, now time.Time, location *time.Location) Summary {
	summary := Summary{}
	for _, entry := range earnings {
		if sameCalendarDay(entry.RecordedOn, now, location) {
			summary.TodayIncome += entry.Amount
		}
	}
	for _, entry := range expenses {
		if sameCalendarDay(entry.RecordedOn, now, location) {
			summary.TodayExpenses += entry.Amount
		}
	}
	for _, reminder := range reminders {
		if !reminder.Completed {
			summary.PendingReminders++
		}
	}
	return summary
}

func sameCalendarDay(a, b time.Time, location *time.Location) bool {
	ay, am, ad := a.In(location).Date()
	by, bm, bd := b.In(location).Date()
	return ay == by && am == bm && ad == bd
}
