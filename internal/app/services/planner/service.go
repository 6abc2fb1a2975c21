package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stride-app/backend/internal/app/domain/goal"
	"github.com/stride-app/backend/internal/app/domain/user"
	"github.com/stride-app/backend/pkg/logger"
)

const systemPromptBase = "You are a goal coach inside a task planner. " +
	"Answer briefly and concretely. When you suggest tasks, include a JSON " +
	`object like {"tasks": ["first task", "second task"]} at the end of the reply.`

// Service turns user prompts into coaching replies and suggested tasks.
type Service struct {
	planner Planner
	log     *logger.Logger
}

// New constructs a planner service. A nil planner falls back to canned
// replies.
func New(p Planner, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("planner")
	}
	if p == nil {
		log.Warn("no completion backend configured; using static replies")
		p = NewStaticPlanner(log)
	}
	return &Service{planner: p, log: log}
}

// Plan sends the prompt with the user's context and returns the reply plus
// any tasks the model proposed.
func (s *Service) Plan(ctx context.Context, profile user.Profile, g *goal.Goal, prompt string) (string, []string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", nil, fmt.Errorf("prompt is required")
	}

	reply, err := s.planner.Complete(ctx, systemPrompt(profile, g), prompt)
	if err != nil {
		return "", nil, err
	}
	return reply, extractTasks(reply), nil
}

func systemPrompt(profile user.Profile, g *goal.Goal) string {
	var b strings.Builder
	b.WriteString(systemPromptBase)

	if profile.DisplayName != "" {
		fmt.Fprintf(&b, " The user is called %s.", profile.DisplayName)
	}
	if len(profile.Preferences) > 0 {
		keys := make([]string, 0, len(profile.Preferences))
		for k := range profile.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+profile.Preferences[k])
		}
		fmt.Fprintf(&b, " Preferences: %s.", strings.Join(pairs, ", "))
	}
	if g != nil {
		fmt.Fprintf(&b, " The conversation is about the goal %q", g.Title)
		if g.Description != "" {
			fmt.Fprintf(&b, " (%s)", g.Description)
		}
		b.WriteString(".")
	}
	return b.String()
}

// extractTasks pulls a "tasks" array out of the reply. The model may answer
// with pure JSON or prose with a trailing JSON fragment; both work. Items are
// either plain strings or objects carrying a title.
func extractTasks(reply string) []string {
	candidate := strings.TrimSpace(reply)
	if !gjson.Valid(candidate) {
		start := strings.Index(candidate, "{")
		end := strings.LastIndex(candidate, "}")
		if start < 0 || end <= start {
			return nil
		}
		candidate = candidate[start : end+1]
		if !gjson.Valid(candidate) {
			return nil
		}
	}

	arr := gjson.Get(candidate, "tasks")
	if !arr.IsArray() {
		return nil
	}

	var tasks []string
	arr.ForEach(func(_, item gjson.Result) bool {
		switch {
		case item.Type == gjson.String:
			if v := strings.TrimSpace(item.String()); v != "" {
				tasks = append(tasks, v)
			}
		case item.IsObject():
			if v := strings.TrimSpace(item.Get("title").String()); v != "" {
				tasks = append(tasks, v)
			}
		}
		return true
	})
	return tasks
}
