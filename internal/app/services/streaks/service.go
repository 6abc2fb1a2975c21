package streaks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stride-app/backend/internal/app/domain/streak"
	"github.com/stride-app/backend/internal/app/domain/task"
	"github.com/stride-app/backend/internal/app/metrics"
	"github.com/stride-app/backend/internal/app/storage"
	"github.com/stride-app/backend/pkg/logger"
)

// Transition labels for a streak evaluation.
const (
	TransitionIncremented = "incremented"
	TransitionRestarted   = "restarted"
	TransitionReset       = "reset"
	TransitionUnchanged   = "unchanged"
)

// maxGapScan bounds the day-by-day gap walk; a counted day further back than
// this never joins a new run.
const maxGapScan = 366

// Service maintains per-user daily streaks. A day counts toward the streak
// when at least one task was scheduled on it and at least one of those was
// completed; a scheduled day with no completions breaks the run.
type Service struct {
	streaks storage.StreakStore
	tasks   storage.TaskStore
	log     *logger.Logger
}

// New constructs a streak service.
func New(streaks storage.StreakStore, tasks storage.TaskStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("streaks")
	}
	return &Service{streaks: streaks, tasks: tasks, log: log}
}

// Get returns the user's streak, zero-valued when nothing is recorded yet.
func (s *Service) Get(ctx context.Context, userID string) (streak.Streak, error) {
	st, err := s.streaks.GetStreak(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return streak.Streak{UserID: userID}, nil
	}
	return st, err
}

// Record evaluates the streak rule for day after a completion event. The
// returned transition reports what happened to the counter. now supplies the
// current instant; completing a task scheduled on a future day changes
// nothing until that day arrives.
func (s *Service) Record(ctx context.Context, userID string, day, now time.Time) (streak.Streak, string, error) {
	day = task.Day(day)
	today := task.Day(now)

	st, err := s.Get(ctx, userID)
	if err != nil {
		return streak.Streak{}, "", err
	}

	if day.After(today) {
		return st, TransitionUnchanged, nil
	}
	if st.LastCountedDay != nil && !day.After(*st.LastCountedDay) {
		// The day already counted, or precedes counted history.
		return st, TransitionUnchanged, nil
	}

	scheduled, err := s.tasks.CountScheduled(ctx, userID, day)
	if err != nil {
		return streak.Streak{}, "", err
	}
	if scheduled == 0 {
		return st, TransitionUnchanged, nil
	}
	done, err := s.tasks.CountDone(ctx, userID, day)
	if err != nil {
		return streak.Streak{}, "", err
	}
	if done == 0 {
		return st, TransitionUnchanged, nil
	}

	consecutive, err := s.consecutive(ctx, userID, st.LastCountedDay, day)
	if err != nil {
		return streak.Streak{}, "", err
	}

	transition := TransitionIncremented
	if consecutive {
		st.Current++
	} else {
		st.Current = 1
		transition = TransitionRestarted
	}
	st.UserID = userID
	st.LastCountedDay = &day

	st, err = s.streaks.UpsertStreak(ctx, st)
	if err != nil {
		return streak.Streak{}, "", err
	}

	metrics.RecordStreakUpdate(transition)
	s.log.WithField("user_id", userID).
		WithField("day", day.Format("2006-01-02")).
		WithField("current", st.Current).
		WithField("transition", transition).
		Info("streak recorded")
	return st, transition, nil
}

// consecutive reports whether day extends the run ending at last. Days with
// no scheduled tasks are transparent: the run survives them.
func (s *Service) consecutive(ctx context.Context, userID string, last *time.Time, day time.Time) (bool, error) {
	if last == nil {
		return true, nil
	}
	gap := int(day.Sub(*last).Hours() / 24)
	if gap <= 1 {
		return gap == 1, nil
	}
	if gap > maxGapScan {
		return false, nil
	}
	for d := last.AddDate(0, 0, 1); d.Before(day); d = d.AddDate(0, 0, 1) {
		n, err := s.tasks.CountScheduled(ctx, userID, d)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}
	return true, nil
}

// Rollover closes out an ended UTC day: every user who had tasks scheduled on
// it but completed none loses their run. Days nobody scheduled touch nothing.
// It returns the number of streaks reset.
func (s *Service) Rollover(ctx context.Context, day time.Time) (int, error) {
	day = task.Day(day)

	userIDs, err := s.tasks.ListUsersScheduledOn(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("list scheduled users: %w", err)
	}

	resets := 0
	for _, userID := range userIDs {
		done, err := s.tasks.CountDone(ctx, userID, day)
		if err != nil {
			return resets, err
		}
		if done > 0 {
			continue
		}

		st, err := s.Get(ctx, userID)
		if err != nil {
			return resets, err
		}
		if st.Current == 0 {
			continue
		}

		st.Current = 0
		if _, err := s.streaks.UpsertStreak(ctx, st); err != nil {
			return resets, err
		}
		resets++
		metrics.RecordStreakUpdate(TransitionReset)
		s.log.WithField("user_id", userID).
			WithField("day", day.Format("2006-01-02")).
			Info("streak reset")
	}
	return resets, nil
}
