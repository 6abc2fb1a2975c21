package planner

import (
	"context"
	"math/rand"
	"time"

	"github.com/stride-app/backend/pkg/logger"
)

// Planner produces an assistant reply for a pair of prompts.
type Planner interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Func adapts a function to the Planner interface.
type Func func(ctx context.Context, system, user string) (string, error)

func (f Func) Complete(ctx context.Context, system, user string) (string, error) {
	if f == nil {
		return "", nil
	}
	return f(ctx, system, user)
}

// StaticPlanner returns canned coaching replies. It stands in when no
// upstream model is configured.
type StaticPlanner struct {
	rand *rand.Rand
	log  *logger.Logger
}

var staticReplies = []string{
	"Break the goal into one small task you can finish today, then schedule it.",
	"Pick the task you have been avoiding and make it tomorrow's first item.",
	"Keep the plan light: three tasks a day is plenty when you complete all three.",
	"Review what you finished this week before adding anything new.",
}

// NewStaticPlanner constructs the fallback planner.
func NewStaticPlanner(log *logger.Logger) *StaticPlanner {
	if log == nil {
		log = logger.NewDefault("planner-static")
	}
	return &StaticPlanner{
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
		log:  log,
	}
}

func (p *StaticPlanner) Complete(context.Context, string, string) (string, error) {
	return staticReplies[p.rand.Intn(len(staticReplies))], nil
}
