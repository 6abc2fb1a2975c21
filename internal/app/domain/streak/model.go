package streak

import "time"

// Streak tracks a user's run of consecutive productive days. LastCountedDay is
// the most recent UTC day that incremented Current; it survives resets so the
// history of the last counted day is not lost.
type Streak struct {
	UserID         string
	Current        int
	LastCountedDay *time.Time
	UpdatedAt      time.Time
}
