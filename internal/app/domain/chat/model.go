package chat

import "time"

// Chat represents one AI planning exchange. Each row is also the usage record
// the weekly quota counts, so retention applies to this table directly.
type Chat struct {
	ID        string
	UserID    string
	GoalID    string
	Prompt    string
	Reply     string
	Model     string
	CreatedAt time.Time
}

// Quota reports a user's standing against the weekly chat allowance.
type Quota struct {
	CanCreate bool
	Used      int
	Limit     int
	Unlimited bool
	WeekStart time.Time
	ResetsAt  time.Time
}
