package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stride-app/backend/internal/app/domain/billing"
	"github.com/stride-app/backend/internal/app/domain/chat"
	"github.com/stride-app/backend/internal/app/domain/goal"
	"github.com/stride-app/backend/internal/app/domain/streak"
	"github.com/stride-app/backend/internal/app/domain/task"
	"github.com/stride-app/backend/internal/app/domain/user"
	"github.com/stride-app/backend/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.ProfileStore = (*Store)(nil)
var _ storage.GoalStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)
var _ storage.ChatStore = (*Store)(nil)
var _ storage.StreakStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// --- ProfileStore -----------------------------------------------------------

type profileRow struct {
	ID             string    `db:"id"`
	Email          string    `db:"email"`
	DisplayName    string    `db:"display_name"`
	PasswordHash   string    `db:"password_hash"`
	Tier           string    `db:"tier"`
	OnboardingDone bool      `db:"onboarding_done"`
	Preferences    []byte    `db:"preferences"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r profileRow) toDomain() user.Profile {
	p := user.Profile{
		ID:             r.ID,
		Email:          r.Email,
		DisplayName:    r.DisplayName,
		PasswordHash:   r.PasswordHash,
		Tier:           user.Tier(r.Tier),
		OnboardingDone: r.OnboardingDone,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if len(r.Preferences) > 0 {
		_ = json.Unmarshal(r.Preferences, &p.Preferences)
	}
	return p
}

func (s *Store) CreateProfile(ctx context.Context, p user.Profile) (user.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	prefsJSON, err := json.Marshal(p.Preferences)
	if err != nil {
		return user.Profile{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_profiles (id, email, display_name, password_hash, tier, onboarding_done, preferences, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Email, p.DisplayName, p.PasswordHash, string(p.Tier), p.OnboardingDone, prefsJSON, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.Profile{}, fmt.Errorf("email %s already registered: %w", p.Email, storage.ErrConflict)
		}
		return user.Profile{}, err
	}
	return p, nil
}

func (s *Store) UpdateProfile(ctx context.Context, p user.Profile) (user.Profile, error) {
	existing, err := s.GetProfile(ctx, p.ID)
	if err != nil {
		return user.Profile{}, err
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	prefsJSON, err := json.Marshal(p.Preferences)
	if err != nil {
		return user.Profile{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_profiles
		SET email = lower($2), display_name = $3, password_hash = $4, tier = $5, onboarding_done = $6, preferences = $7, updated_at = $8
		WHERE id = $1
	`, p.ID, p.Email, p.DisplayName, p.PasswordHash, string(p.Tier), p.OnboardingDone, prefsJSON, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.Profile{}, fmt.Errorf("email %s already registered: %w", p.Email, storage.ErrConflict)
		}
		return user.Profile{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.Profile{}, fmt.Errorf("profile %s: %w", p.ID, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (user.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, email, display_name, password_hash, tier, onboarding_done, preferences, created_at, updated_at
		FROM app_profiles
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return user.Profile{}, fmt.Errorf("profile %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return user.Profile{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (user.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, email, display_name, password_hash, tier, onboarding_done, preferences, created_at, updated_at
		FROM app_profiles
		WHERE email = lower($1)
	`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return user.Profile{}, fmt.Errorf("profile %s: %w", email, storage.ErrNotFound)
	}
	if err != nil {
		return user.Profile{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]user.Profile, error) {
	var rows []profileRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, email, display_name, password_hash, tier, onboarding_done, preferences, created_at, updated_at
		FROM app_profiles
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	result := make([]user.Profile, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_profiles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("profile %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// --- GoalStore --------------------------------------------------------------

type goalRow struct {
	ID          string       `db:"id"`
	UserID      string       `db:"user_id"`
	Title       string       `db:"title"`
	Description string       `db:"description"`
	Category    string       `db:"category"`
	TargetDate  sql.NullTime `db:"target_date"`
	Archived    bool         `db:"archived"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

func (r goalRow) toDomain() goal.Goal {
	return goal.Goal{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		TargetDate:  fromNullTime(r.TargetDate),
		Archived:    r.Archived,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (s *Store) CreateGoal(ctx context.Context, g goal.Goal) (goal.Goal, error) {
	if g.UserID == "" {
		return goal.Goal{}, errors.New("user_id required")
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_goals (id, user_id, title, description, category, target_date, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, g.ID, g.UserID, g.Title, g.Description, g.Category, ptrNullTime(g.TargetDate), g.Archived, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return goal.Goal{}, err
	}
	return g, nil
}

func (s *Store) UpdateGoal(ctx context.Context, g goal.Goal) (goal.Goal, error) {
	existing, err := s.GetGoal(ctx, g.ID)
	if err != nil {
		return goal.Goal{}, err
	}
	g.CreatedAt = existing.CreatedAt
	g.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_goals
		SET title = $2, description = $3, category = $4, target_date = $5, archived = $6, updated_at = $7
		WHERE id = $1
	`, g.ID, g.Title, g.Description, g.Category, ptrNullTime(g.TargetDate), g.Archived, g.UpdatedAt)
	if err != nil {
		return goal.Goal{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return goal.Goal{}, fmt.Errorf("goal %s: %w", g.ID, storage.ErrNotFound)
	}
	return g, nil
}

func (s *Store) GetGoal(ctx context.Context, id string) (goal.Goal, error) {
	var row goalRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, title, description, category, target_date, archived, created_at, updated_at
		FROM app_goals
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return goal.Goal{}, fmt.Errorf("goal %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return goal.Goal{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListGoals(ctx context.Context, userID string, includeArchived bool) ([]goal.Goal, error) {
	var rows []goalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, title, description, category, target_date, archived, created_at, updated_at
		FROM app_goals
		WHERE ($1 = '' OR user_id = $1) AND ($2 OR NOT archived)
		ORDER BY created_at
	`, userID, includeArchived)
	if err != nil {
		return nil, err
	}
	result := make([]goal.Goal, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteGoal(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_goals WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("goal %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// --- TaskStore --------------------------------------------------------------

type taskRow struct {
	ID          string         `db:"id"`
	UserID      string         `db:"user_id"`
	GoalID      sql.NullString `db:"goal_id"`
	Title       string         `db:"title"`
	Notes       string         `db:"notes"`
	ScheduledOn time.Time      `db:"scheduled_on"`
	Done        bool           `db:"done"`
	DoneAt      sql.NullTime   `db:"done_at"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r taskRow) toDomain() task.Task {
	return task.Task{
		ID:          r.ID,
		UserID:      r.UserID,
		GoalID:      r.GoalID.String,
		Title:       r.Title,
		Notes:       r.Notes,
		ScheduledOn: task.Day(r.ScheduledOn),
		Done:        r.Done,
		DoneAt:      fromNullTime(r.DoneAt),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (s *Store) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	if t.UserID == "" {
		return task.Task{}, errors.New("user_id required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.ScheduledOn = task.Day(t.ScheduledOn)
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_tasks (id, user_id, goal_id, title, notes, scheduled_on, done, done_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.UserID, toNullString(t.GoalID), t.Title, t.Notes, t.ScheduledOn, t.Done, ptrNullTime(t.DoneAt), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t task.Task) (task.Task, error) {
	existing, err := s.GetTask(ctx, t.ID)
	if err != nil {
		return task.Task{}, err
	}
	t.CreatedAt = existing.CreatedAt
	t.ScheduledOn = task.Day(t.ScheduledOn)
	t.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_tasks
		SET goal_id = $2, title = $3, notes = $4, scheduled_on = $5, done = $6, done_at = $7, updated_at = $8
		WHERE id = $1
	`, t.ID, toNullString(t.GoalID), t.Title, t.Notes, t.ScheduledOn, t.Done, ptrNullTime(t.DoneAt), t.UpdatedAt)
	if err != nil {
		return task.Task{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return task.Task{}, fmt.Errorf("task %s: %w", t.ID, storage.ErrNotFound)
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (task.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, goal_id, title, notes, scheduled_on, done, done_at, created_at, updated_at
		FROM app_tasks
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return task.Task{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListTasks(ctx context.Context, userID string, from, to time.Time) ([]task.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, goal_id, title, notes, scheduled_on, done, done_at, created_at, updated_at
		FROM app_tasks
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2::timestamptz IS NULL OR scheduled_on >= $2)
		  AND ($3::timestamptz IS NULL OR scheduled_on <= $3)
		ORDER BY scheduled_on, created_at
	`, userID, toNullTime(task.Day(from)), toNullTime(task.Day(to)))
	if err != nil {
		return nil, err
	}
	result := make([]task.Task, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) CountScheduled(ctx context.Context, userID string, day time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM app_tasks WHERE user_id = $1 AND scheduled_on = $2
	`, userID, task.Day(day))
	return count, err
}

func (s *Store) CountDone(ctx context.Context, userID string, day time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM app_tasks WHERE user_id = $1 AND scheduled_on = $2 AND done
	`, userID, task.Day(day))
	return count, err
}

func (s *Store) ListUsersScheduledOn(ctx context.Context, day time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT user_id FROM app_tasks WHERE scheduled_on = $1 ORDER BY user_id
	`, task.Day(day))
	return ids, err
}

// --- ChatStore --------------------------------------------------------------

type chatRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	GoalID    sql.NullString `db:"goal_id"`
	Prompt    string         `db:"prompt"`
	Reply     string         `db:"reply"`
	Model     string         `db:"model"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r chatRow) toDomain() chat.Chat {
	return chat.Chat{
		ID:        r.ID,
		UserID:    r.UserID,
		GoalID:    r.GoalID.String,
		Prompt:    r.Prompt,
		Reply:     r.Reply,
		Model:     r.Model,
		CreatedAt: r.CreatedAt,
	}
}

func (s *Store) CreateChat(ctx context.Context, c chat.Chat) (chat.Chat, error) {
	if c.UserID == "" {
		return chat.Chat{}, errors.New("user_id required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_chats (id, user_id, goal_id, prompt, reply, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.UserID, toNullString(c.GoalID), c.Prompt, c.Reply, c.Model, c.CreatedAt)
	if err != nil {
		return chat.Chat{}, err
	}
	return c, nil
}

func (s *Store) ListChats(ctx context.Context, userID string, limit int) ([]chat.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []chatRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, goal_id, prompt, reply, model, created_at
		FROM app_chats
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	result := make([]chat.Chat, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (s *Store) CountChatsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM app_chats WHERE user_id = $1 AND created_at >= $2
	`, userID, since)
	return count, err
}

func (s *Store) DeleteChatsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_chats WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}

// --- StreakStore ------------------------------------------------------------

type streakRow struct {
	UserID         string       `db:"user_id"`
	Current        int          `db:"current"`
	LastCountedDay sql.NullTime `db:"last_counted_day"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

func (r streakRow) toDomain() streak.Streak {
	st := streak.Streak{
		UserID:    r.UserID,
		Current:   r.Current,
		UpdatedAt: r.UpdatedAt,
	}
	if r.LastCountedDay.Valid {
		day := task.Day(r.LastCountedDay.Time)
		st.LastCountedDay = &day
	}
	return st
}

func (s *Store) GetStreak(ctx context.Context, userID string) (streak.Streak, error) {
	var row streakRow
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, current, last_counted_day, updated_at
		FROM app_streaks
		WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return streak.Streak{}, fmt.Errorf("streak for %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return streak.Streak{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) UpsertStreak(ctx context.Context, st streak.Streak) (streak.Streak, error) {
	if st.UserID == "" {
		return streak.Streak{}, errors.New("user_id required")
	}
	st.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_streaks (user_id, current, last_counted_day, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET current = EXCLUDED.current, last_counted_day = EXCLUDED.last_counted_day, updated_at = EXCLUDED.updated_at
	`, st.UserID, st.Current, ptrNullTime(st.LastCountedDay), st.UpdatedAt)
	if err != nil {
		return streak.Streak{}, err
	}
	return st, nil
}

// --- SubscriptionStore --------------------------------------------------------

type subscriptionRow struct {
	ID                    string    `db:"id"`
	UserID                string    `db:"user_id"`
	ProductID             string    `db:"product_id"`
	OriginalTransactionID string    `db:"original_transaction_id"`
	Environment           string    `db:"environment"`
	Active                bool      `db:"active"`
	ExpiresAt             time.Time `db:"expires_at"`
	LastVerifiedAt        time.Time `db:"last_verified_at"`
	CreatedAt             time.Time `db:"created_at"`
	UpdatedAt             time.Time `db:"updated_at"`
}

func (r subscriptionRow) toDomain() billing.Subscription {
	return billing.Subscription{
		ID:                    r.ID,
		UserID:                r.UserID,
		ProductID:             r.ProductID,
		OriginalTransactionID: r.OriginalTransactionID,
		Environment:           r.Environment,
		Active:                r.Active,
		ExpiresAt:             r.ExpiresAt,
		LastVerifiedAt:        r.LastVerifiedAt,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func (s *Store) UpsertSubscription(ctx context.Context, sub billing.Subscription) (billing.Subscription, error) {
	if sub.UserID == "" {
		return billing.Subscription{}, errors.New("user_id required")
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO app_subscriptions (id, user_id, product_id, original_transaction_id, environment, active, expires_at, last_verified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE
		SET product_id = EXCLUDED.product_id,
		    original_transaction_id = EXCLUDED.original_transaction_id,
		    environment = EXCLUDED.environment,
		    active = EXCLUDED.active,
		    expires_at = EXCLUDED.expires_at,
		    last_verified_at = EXCLUDED.last_verified_at,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, user_id, product_id, original_transaction_id, environment, active, expires_at, last_verified_at, created_at, updated_at
	`, sub.ID, sub.UserID, sub.ProductID, sub.OriginalTransactionID, sub.Environment, sub.Active, sub.ExpiresAt, sub.LastVerifiedAt, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return billing.Subscription{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (billing.Subscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, product_id, original_transaction_id, environment, active, expires_at, last_verified_at, created_at, updated_at
		FROM app_subscriptions
		WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Subscription{}, fmt.Errorf("subscription for %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return billing.Subscription{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListSubscriptionsExpiring(ctx context.Context, before time.Time) ([]billing.Subscription, error) {
	var rows []subscriptionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, product_id, original_transaction_id, environment, active, expires_at, last_verified_at, created_at, updated_at
		FROM app_subscriptions
		WHERE active AND expires_at < $1
		ORDER BY expires_at
	`, before)
	if err != nil {
		return nil, err
	}
	result := make([]billing.Subscription, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

// --- helpers ------------------------------------------------------------------

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func ptrNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return toNullTime(*t)
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
