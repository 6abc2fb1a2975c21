package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stride-app/backend/internal/app/domain/task"
	"github.com/stride-app/backend/internal/app/realtime"
	"github.com/stride-app/backend/internal/app/services/streaks"
	"github.com/stride-app/backend/internal/app/storage"
	"github.com/stride-app/backend/pkg/logger"
)

// Service manages scheduled tasks. Completions feed the streak engine and the
// realtime hub when those are attached.
type Service struct {
	store   storage.TaskStore
	goals   storage.GoalStore
	streaks *streaks.Service
	hub     *realtime.Hub
	log     *logger.Logger
	now     func() time.Time
}

// New constructs a task service.
func New(store storage.TaskStore, goals storage.GoalStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tasks")
	}
	return &Service{
		store: store,
		goals: goals,
		log:   log,
		now:   time.Now,
	}
}

// AttachStreaks wires the streak engine into completion events.
func (s *Service) AttachStreaks(st *streaks.Service) { s.streaks = st }

// AttachHub wires the realtime hub into completion events.
func (s *Service) AttachHub(h *realtime.Hub) { s.hub = h }

// Create schedules a task for the user on a calendar day.
func (s *Service) Create(ctx context.Context, userID, goalID, title, notes string, scheduledOn time.Time) (task.Task, error) {
	userID = strings.TrimSpace(userID)
	title = strings.TrimSpace(title)

	if userID == "" {
		return task.Task{}, fmt.Errorf("user_id is required")
	}
	if title == "" {
		return task.Task{}, fmt.Errorf("title is required")
	}
	if scheduledOn.IsZero() {
		return task.Task{}, fmt.Errorf("scheduled_on is required")
	}
	if goalID != "" {
		if err := s.checkGoal(ctx, userID, goalID); err != nil {
			return task.Task{}, err
		}
	}

	t := task.Task{
		UserID:      userID,
		GoalID:      goalID,
		Title:       title,
		Notes:       strings.TrimSpace(notes),
		ScheduledOn: task.Day(scheduledOn),
	}
	t, err := s.store.CreateTask(ctx, t)
	if err != nil {
		return task.Task{}, err
	}
	s.log.WithField("task_id", t.ID).
		WithField("user_id", userID).
		WithField("scheduled_on", t.ScheduledOn.Format("2006-01-02")).
		Info("task created")
	return t, nil
}

func (s *Service) checkGoal(ctx context.Context, userID, goalID string) error {
	g, err := s.goals.GetGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if g.UserID != userID {
		return fmt.Errorf("goal %s: %w", goalID, storage.ErrNotFound)
	}
	return nil
}

// Get returns the user's task by ID.
func (s *Service) Get(ctx context.Context, userID, taskID string) (task.Task, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return task.Task{}, err
	}
	if t.UserID != userID {
		return task.Task{}, fmt.Errorf("task %s: %w", taskID, storage.ErrNotFound)
	}
	return t, nil
}

// ListByDay returns the user's tasks scheduled on a single calendar day.
func (s *Service) ListByDay(ctx context.Context, userID string, day time.Time) ([]task.Task, error) {
	day = task.Day(day)
	return s.store.ListTasks(ctx, userID, day, day)
}

// ListRange returns the user's tasks scheduled within [from, to]. Zero bounds
// leave that side open.
func (s *Service) ListRange(ctx context.Context, userID string, from, to time.Time) ([]task.Task, error) {
	return s.store.ListTasks(ctx, userID, from, to)
}

// Update applies the supplied changes. Nil fields are left alone; an empty
// goal ID pointer unlinks the goal.
func (s *Service) Update(ctx context.Context, userID, taskID string, title, notes, goalID *string, scheduledOn *time.Time) (task.Task, error) {
	t, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return task.Task{}, err
	}

	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return task.Task{}, fmt.Errorf("title cannot be empty")
		}
		t.Title = trimmed
	}
	if notes != nil {
		t.Notes = strings.TrimSpace(*notes)
	}
	if goalID != nil {
		if *goalID != "" {
			if err := s.checkGoal(ctx, userID, *goalID); err != nil {
				return task.Task{}, err
			}
		}
		t.GoalID = *goalID
	}
	if scheduledOn != nil {
		if scheduledOn.IsZero() {
			return task.Task{}, fmt.Errorf("scheduled_on cannot be empty")
		}
		t.ScheduledOn = task.Day(*scheduledOn)
	}

	t, err = s.store.UpdateTask(ctx, t)
	if err != nil {
		return task.Task{}, err
	}
	s.log.WithField("task_id", t.ID).
		WithField("user_id", userID).
		Info("task updated")
	return t, nil
}

// Complete marks the task done, stamps the completion time and feeds the
// streak engine for the task's scheduled day. Completing a completed task is
// a no-op.
func (s *Service) Complete(ctx context.Context, userID, taskID string) (task.Task, error) {
	t, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return task.Task{}, err
	}
	if t.Done {
		return t, nil
	}

	now := s.now().UTC()
	t.Done = true
	t.DoneAt = &now

	t, err = s.store.UpdateTask(ctx, t)
	if err != nil {
		return task.Task{}, err
	}
	s.log.WithField("task_id", t.ID).
		WithField("user_id", userID).
		WithField("scheduled_on", t.ScheduledOn.Format("2006-01-02")).
		Info("task completed")

	s.hub.Broadcast(userID, realtime.Event{
		Type: realtime.EventTaskCompleted,
		Data: map[string]any{
			"task_id":      t.ID,
			"goal_id":      t.GoalID,
			"scheduled_on": t.ScheduledOn.Format("2006-01-02"),
		},
	})

	if s.streaks != nil {
		st, transition, err := s.streaks.Record(ctx, userID, t.ScheduledOn, now)
		if err != nil {
			// The completion is durable; a failed streak write is corrected
			// by the next evaluation.
			s.log.WithError(err).WithField("user_id", userID).Warn("record streak")
		} else if transition != streaks.TransitionUnchanged {
			s.hub.Broadcast(userID, realtime.Event{
				Type: realtime.EventStreakUpdated,
				Data: map[string]any{
					"current":    st.Current,
					"transition": transition,
				},
			})
		}
	}
	return t, nil
}

// Uncomplete clears the done state. The streak counter is left alone; the
// daily rollover settles days that end with no completions.
func (s *Service) Uncomplete(ctx context.Context, userID, taskID string) (task.Task, error) {
	t, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return task.Task{}, err
	}
	if !t.Done {
		return t, nil
	}

	t.Done = false
	t.DoneAt = nil

	t, err = s.store.UpdateTask(ctx, t)
	if err != nil {
		return task.Task{}, err
	}
	s.log.WithField("task_id", t.ID).
		WithField("user_id", userID).
		Info("task uncompleted")
	return t, nil
}

// Delete removes the user's task.
func (s *Service) Delete(ctx context.Context, userID, taskID string) error {
	if _, err := s.Get(ctx, userID, taskID); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.log.WithField("task_id", taskID).
		WithField("user_id", userID).
		Info("task deleted")
	return nil
}
