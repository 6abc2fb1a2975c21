package goal

import "time"

// Goal represents a long-running objective a user tracks tasks against.
type Goal struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Category    string
	TargetDate  *time.Time
	Archived    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
