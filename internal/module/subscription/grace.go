package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// GraceEnforcer periodically cancels subscriptions whose payment grace has run out,
// so stored state matches what evaluation already enforces.
type GraceEnforcer struct {
	service *Service
	cron    *cron.Cron
	timeout time.Duration
	logger  *zap.Logger
}

// NewGraceEnforcer creates an enforcer running on a cron schedule such as "@hourly".
func NewGraceEnforcer(service *Service, schedule string, logger *zap.Logger) (*GraceEnforcer, error) {
	e := &GraceEnforcer{
		service: service,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout: time.Minute,
		logger:  logger,
	}
	if _, err := e.cron.AddFunc(schedule, e.run); err != nil {
		return nil, fmt.Errorf("schedule grace sweep %q: %w", schedule, err)
	}
	return e, nil
}

// Start begins the schedule in the background.
func (e *GraceEnforcer) Start() {
	e.cron.Start()
	e.logger.Info("grace enforcer started")
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (e *GraceEnforcer) Stop(ctx context.Context) {
	select {
	case <-e.cron.Stop().Done():
	case <-ctx.Done():
	}
	e.logger.Info("grace enforcer stopped")
}

// Sweep cancels expired subscriptions once.
func (e *GraceEnforcer) Sweep(ctx context.Context) (int, error) {
	n, err := e.service.ExpireGrace(ctx)
	if n > 0 {
		e.logger.Info("grace expired subscriptions canceled", zap.Int("count", n))
	}
	if err != nil {
		e.logger.Error("grace sweep failed", zap.Error(err))
	}
	return n, err
}

func (e *GraceEnforcer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	_, _ = e.Sweep(ctx)
}
