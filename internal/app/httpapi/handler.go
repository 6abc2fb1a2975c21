package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stride-app/backend/internal/app/domain/chat"
	"github.com/stride-app/backend/internal/app/domain/goal"
	"github.com/stride-app/backend/internal/app/domain/streak"
	"github.com/stride-app/backend/internal/app/domain/task"
	"github.com/stride-app/backend/internal/app/domain/user"
	"github.com/stride-app/backend/internal/app/realtime"
	billingsvc "github.com/stride-app/backend/internal/app/services/billing"
	chatsvc "github.com/stride-app/backend/internal/app/services/chat"
	"github.com/stride-app/backend/internal/app/services/goals"
	"github.com/stride-app/backend/internal/app/services/streaks"
	"github.com/stride-app/backend/internal/app/services/tasks"
	"github.com/stride-app/backend/internal/app/services/users"
	"github.com/stride-app/backend/internal/app/storage"
	"github.com/stride-app/backend/pkg/logger"
)

const dateLayout = "2006-01-02"

// handler bundles HTTP endpoints for the application services.
type handler struct {
	users   *users.Service
	goals   *goals.Service
	tasks   *tasks.Service
	streaks *streaks.Service
	chats   *chatsvc.Service
	billing *billingsvc.Service
	hub     *realtime.Hub
	ping    func(ctx context.Context) error
	origins []string
	audit   *auditLog
	log     *logger.Logger
}

// Response shapes ---------------------------------------------------------------

// profileResponse is the wire form of a profile. The password hash never
// leaves the service layer.
type profileResponse struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	DisplayName string            `json:"display_name"`
	Tier        string            `json:"tier"`
	Onboarded   bool              `json:"onboarded"`
	Preferences map[string]string `json:"preferences,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func toProfileResponse(p user.Profile) profileResponse {
	return profileResponse{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Tier:        string(p.Tier),
		Onboarded:   p.OnboardingDone,
		Preferences: p.Preferences,
		CreatedAt:   p.CreatedAt,
	}
}

type goalResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	TargetDate  *string    `json:"target_date,omitempty"`
	Archived    bool       `json:"archived"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toGoalResponse(g goal.Goal) goalResponse {
	resp := goalResponse{
		ID:          g.ID,
		Title:       g.Title,
		Description: g.Description,
		Category:    g.Category,
		Archived:    g.Archived,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
	if g.TargetDate != nil {
		d := g.TargetDate.Format(dateLayout)
		resp.TargetDate = &d
	}
	return resp
}

func toGoalResponses(gs []goal.Goal) []goalResponse {
	out := make([]goalResponse, len(gs))
	for i, g := range gs {
		out[i] = toGoalResponse(g)
	}
	return out
}

type taskResponse struct {
	ID          string     `json:"id"`
	GoalID      string     `json:"goal_id,omitempty"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	ScheduledOn string     `json:"scheduled_on"`
	Done        bool       `json:"done"`
	DoneAt      *time.Time `json:"done_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toTaskResponse(t task.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		GoalID:      t.GoalID,
		Title:       t.Title,
		Notes:       t.Notes,
		ScheduledOn: t.ScheduledOn.Format(dateLayout),
		Done:        t.Done,
		DoneAt:      t.DoneAt,
		CreatedAt:   t.CreatedAt,
	}
}

func toTaskResponses(ts []task.Task) []taskResponse {
	out := make([]taskResponse, len(ts))
	for i, t := range ts {
		out[i] = toTaskResponse(t)
	}
	return out
}

type streakResponse struct {
	Current        int     `json:"current"`
	LastCountedDay *string `json:"last_counted_day,omitempty"`
}

func toStreakResponse(s streak.Streak) streakResponse {
	resp := streakResponse{Current: s.Current}
	if s.LastCountedDay != nil {
		d := s.LastCountedDay.Format(dateLayout)
		resp.LastCountedDay = &d
	}
	return resp
}

type chatResponse struct {
	ID        string    `json:"id"`
	GoalID    string    `json:"goal_id,omitempty"`
	Prompt    string    `json:"prompt"`
	Reply     string    `json:"reply"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

func toChatResponse(c chat.Chat) chatResponse {
	return chatResponse{
		ID:        c.ID,
		GoalID:    c.GoalID,
		Prompt:    c.Prompt,
		Reply:     c.Reply,
		Model:     c.Model,
		CreatedAt: c.CreatedAt,
	}
}

type quotaResponse struct {
	CanCreate bool      `json:"can_create"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Unlimited bool      `json:"unlimited"`
	WeekStart time.Time `json:"week_start"`
	ResetsAt  time.Time `json:"resets_at"`
}

func toQuotaResponse(q chat.Quota) quotaResponse {
	return quotaResponse{
		CanCreate: q.CanCreate,
		Used:      q.Used,
		Limit:     q.Limit,
		Unlimited: q.Unlimited,
		WeekStart: q.WeekStart,
		ResetsAt:  q.ResetsAt,
	}
}

// verificationResponse keeps the field names the mobile client parses.
type verificationResponse struct {
	Status      int        `json:"status"`
	IsActive    bool       `json:"isActive"`
	Message     string     `json:"message"`
	ProductID   string     `json:"productId,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Environment string     `json:"environment,omitempty"`
}

// Ops ---------------------------------------------------------------------------

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) ready(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Auth --------------------------------------------------------------------------

func (h *handler) register(c *gin.Context) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, err := h.users.Register(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.users.IssueToken(profile)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "profile": toProfileResponse(profile)})
}

func (h *handler) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, token, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "profile": toProfileResponse(profile)})
}

// Profile -----------------------------------------------------------------------

func (h *handler) me(c *gin.Context) {
	profile, err := h.users.Get(c.Request.Context(), currentIdentity(c).UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(profile))
}

func (h *handler) updateMe(c *gin.Context) {
	var req struct {
		DisplayName *string           `json:"display_name"`
		Preferences map[string]string `json:"preferences"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, err := h.users.UpdateProfile(c.Request.Context(), currentIdentity(c).UserID, req.DisplayName, req.Preferences)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(profile))
}

func (h *handler) completeOnboarding(c *gin.Context) {
	var req struct {
		Preferences map[string]string `json:"preferences"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, err := h.users.CompleteOnboarding(c.Request.Context(), currentIdentity(c).UserID, req.Preferences)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(profile))
}

// Goals -------------------------------------------------------------------------

func (h *handler) listGoals(c *gin.Context) {
	includeArchived := c.Query("include_archived") == "true"
	gs, err := h.goals.List(c.Request.Context(), currentIdentity(c).UserID, includeArchived)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toGoalResponses(gs))
}

func (h *handler) createGoal(c *gin.Context) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Category    string `json:"category"`
		TargetDate  string `json:"target_date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	targetDate, err := parseOptionalDate(req.TargetDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_date must be YYYY-MM-DD"})
		return
	}

	g, err := h.goals.Create(c.Request.Context(), currentIdentity(c).UserID, req.Title, req.Description, req.Category, targetDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toGoalResponse(g))
}

func (h *handler) getGoal(c *gin.Context) {
	g, err := h.goals.Get(c.Request.Context(), currentIdentity(c).UserID, c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toGoalResponse(g))
}

func (h *handler) updateGoal(c *gin.Context) {
	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Category    *string `json:"category"`
		TargetDate  *string `json:"target_date"`
		Archived    *bool   `json:"archived"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := currentIdentity(c).UserID
	goalID := c.Param("id")
	ctx := c.Request.Context()

	g, err := h.goals.Get(ctx, userID, goalID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if req.Title != nil || req.Description != nil || req.Category != nil || req.TargetDate != nil {
		var targetDate *time.Time
		if req.TargetDate != nil {
			targetDate, err = parseOptionalDate(*req.TargetDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "target_date must be YYYY-MM-DD"})
				return
			}
		}
		g, err = h.goals.Update(ctx, userID, goalID, req.Title, req.Description, req.Category, targetDate)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
	}

	if req.Archived != nil {
		g, err = h.goals.SetArchived(ctx, userID, goalID, *req.Archived)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, toGoalResponse(g))
}

func (h *handler) deleteGoal(c *gin.Context) {
	if err := h.goals.Delete(c.Request.Context(), currentIdentity(c).UserID, c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Tasks -------------------------------------------------------------------------

func (h *handler) listTasks(c *gin.Context) {
	userID := currentIdentity(c).UserID
	ctx := c.Request.Context()

	from, to := c.Query("from"), c.Query("to")
	if from != "" || to != "" {
		fromDay, err := time.Parse(dateLayout, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
			return
		}
		toDay, err := time.Parse(dateLayout, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
			return
		}
		ts, err := h.tasks.ListRange(ctx, userID, fromDay, toDay)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, toTaskResponses(ts))
		return
	}

	day := time.Now().UTC()
	if d := c.Query("date"); d != "" {
		parsed, err := time.Parse(dateLayout, d)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	ts, err := h.tasks.ListByDay(ctx, userID, day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toTaskResponses(ts))
}

func (h *handler) createTask(c *gin.Context) {
	var req struct {
		GoalID      string `json:"goal_id"`
		Title       string `json:"title"`
		Notes       string `json:"notes"`
		ScheduledOn string `json:"scheduled_on"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scheduledOn, err := time.Parse(dateLayout, req.ScheduledOn)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_on must be YYYY-MM-DD"})
		return
	}

	t, err := h.tasks.Create(c.Request.Context(), currentIdentity(c).UserID, req.GoalID, req.Title, req.Notes, scheduledOn)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toTaskResponse(t))
}

func (h *handler) updateTask(c *gin.Context) {
	var req struct {
		Title       *string `json:"title"`
		Notes       *string `json:"notes"`
		GoalID      *string `json:"goal_id"`
		ScheduledOn *string `json:"scheduled_on"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var scheduledOn *time.Time
	if req.ScheduledOn != nil {
		parsed, err := time.Parse(dateLayout, *req.ScheduledOn)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_on must be YYYY-MM-DD"})
			return
		}
		scheduledOn = &parsed
	}

	t, err := h.tasks.Update(c.Request.Context(), currentIdentity(c).UserID, c.Param("id"), req.Title, req.Notes, req.GoalID, scheduledOn)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(t))
}

func (h *handler) deleteTask(c *gin.Context) {
	if err := h.tasks.Delete(c.Request.Context(), currentIdentity(c).UserID, c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) completeTask(c *gin.Context) {
	t, err := h.tasks.Complete(c.Request.Context(), currentIdentity(c).UserID, c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(t))
}

func (h *handler) uncompleteTask(c *gin.Context) {
	t, err := h.tasks.Uncomplete(c.Request.Context(), currentIdentity(c).UserID, c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(t))
}

// Streaks -----------------------------------------------------------------------

func (h *handler) getStreak(c *gin.Context) {
	s, err := h.streaks.Get(c.Request.Context(), currentIdentity(c).UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toStreakResponse(s))
}

// Chats -------------------------------------------------------------------------

func (h *handler) listChats(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = parsed
	}

	cs, err := h.chats.List(c.Request.Context(), currentIdentity(c).UserID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]chatResponse, len(cs))
	for i, item := range cs {
		out[i] = toChatResponse(item)
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) createChat(c *gin.Context) {
	var req struct {
		GoalID string `json:"goal_id"`
		Prompt string `json:"prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := currentIdentity(c).UserID
	ctx := c.Request.Context()

	created, suggested, err := h.chats.Create(ctx, userID, req.GoalID, req.Prompt)
	if err != nil {
		if errors.Is(err, chatsvc.ErrQuotaExceeded) {
			resp := gin.H{"error": err.Error()}
			if quota, qErr := h.chats.Quota(ctx, userID); qErr == nil {
				resp["quota"] = toQuotaResponse(quota)
			}
			c.JSON(http.StatusTooManyRequests, resp)
			return
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"chat": toChatResponse(created)}
	if len(suggested) > 0 {
		resp["suggested_tasks"] = suggested
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *handler) chatQuota(c *gin.Context) {
	quota, err := h.chats.Quota(c.Request.Context(), currentIdentity(c).UserID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toQuotaResponse(quota))
}

// Billing -----------------------------------------------------------------------

func (h *handler) verifyReceipt(c *gin.Context) {
	var req struct {
		ReceiptData string `json:"receipt_data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.ReceiptData) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receipt_data is required"})
		return
	}

	result, err := h.billing.VerifyReceipt(c.Request.Context(), currentIdentity(c).UserID, req.ReceiptData)
	if err != nil {
		// The App Store could not be reached at all.
		c.JSON(http.StatusBadGateway, gin.H{"error": "receipt verification unavailable"})
		return
	}

	resp := verificationResponse{
		Status:      result.Status,
		IsActive:    result.Active,
		Message:     result.Message,
		ProductID:   result.ProductID,
		Environment: result.Environment,
	}
	if !result.ExpiresAt.IsZero() {
		resp.ExpiresAt = &result.ExpiresAt
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) entitlement(c *gin.Context) {
	ent, err := h.billing.Entitlement(c.Request.Context(), currentIdentity(c).UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"active": ent.Active, "product_id": ent.ProductID}
	if !ent.ExpiresAt.IsZero() {
		resp["expires_at"] = ent.ExpiresAt
	}
	c.JSON(http.StatusOK, resp)
}

// Helpers -----------------------------------------------------------------------

func parseOptionalDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// statusFor maps service errors onto HTTP statuses. Unknown errors are client
// errors: the services validate inputs and wrap storage failures distinctly.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
