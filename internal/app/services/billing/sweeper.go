package billing

import (
	"context"
	"sync"
	"time"

	"github.com/stride-app/backend/internal/app/system"
	"github.com/stride-app/backend/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// Sweeper periodically settles subscriptions that have lapsed so expired
// users lose premium even when they never re-open the app.
type Sweeper struct {
	service   *Service
	log       *logger.Logger
	interval  time.Duration
	lookahead time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSweeper creates a lifecycle-managed subscription sweeper.
func NewSweeper(service *Service, interval, lookahead time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("billing-sweeper")
	}
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if lookahead <= 0 {
		lookahead = 24 * time.Hour
	}
	return &Sweeper{
		service:   service,
		log:       log,
		interval:  interval,
		lookahead: lookahead,
	}
}

func (s *Sweeper) Name() string { return "billing-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.log.Info("billing sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("billing sweeper stopped")
	return nil
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	settled, err := s.service.SettleLapsed(ctx, time.Now().UTC().Add(s.lookahead))
	if err != nil {
		s.log.WithError(err).Warn("billing sweep failed")
		return
	}
	if settled > 0 {
		s.log.WithField("settled", settled).Info("billing sweep settled subscriptions")
	}
}
