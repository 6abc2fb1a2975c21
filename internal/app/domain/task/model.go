package task

import "time"

// Task represents a single scheduled item. ScheduledOn is a UTC calendar day
// (midnight UTC); streak evaluation groups tasks by that day.
type Task struct {
	ID          string
	UserID      string
	GoalID      string
	Title       string
	Notes       string
	ScheduledOn time.Time
	Done        bool
	DoneAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
