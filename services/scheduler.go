package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"infra-rag-platform/utils"
)

const roleSweepTag = "role-vector-sweep"

// RoleScheduler periodically embeds roles that are missing a vector.
type RoleScheduler struct {
	scheduler *gocron.Scheduler
	roles     *RoleService
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
}

func NewRoleScheduler(roles *RoleService, logger *slog.Logger) *RoleScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &RoleScheduler{scheduler: s, roles: roles, ctx: ctx, cancel: cancel, logger: logger}
}

// Start schedules the sweep every interval and starts the scheduler. A zero interval disables it.
func (rs *RoleScheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		rs.logger.Info("role vector sweep disabled")
		return nil
	}
	_, err := rs.scheduler.Every(interval).Tag(roleSweepTag).SingletonMode().Do(rs.sweep)
	if err != nil {
		return err
	}
	rs.scheduler.StartAsync()
	rs.logger.Info("role vector sweep scheduled", "interval", interval)
	return nil
}

func (rs *RoleScheduler) Stop() {
	rs.scheduler.Stop()
	rs.cancel()
}

func (rs *RoleScheduler) sweep() {
	ctx, cancel := utils.WithMaintenanceTimeout(rs.ctx)
	defer cancel()

	n, err := rs.roles.VectorizeMissing(ctx)
	if err != nil {
		rs.logger.Error("role vector sweep failed", "vectorized", n, "error", err)
		return
	}
	if n > 0 {
		rs.logger.Info("role vector sweep finished", "vectorized", n)
	}
}
