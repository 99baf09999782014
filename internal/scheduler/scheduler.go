// Package scheduler runs the ambient maintenance sweeps no §4 component
// names directly but every long-lived store needs: expiring Push
// invitation tokens past their expiry or use count, and reaping stale
// session Nodes left behind when a client disconnects without signing out.
// It wraps gocron the way the teacher's own backup-policy scheduler did,
// repurposed here to a fixed pair of recurring jobs instead of one job per
// user-defined policy.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/identity"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/sync"
)

// Scheduler wraps gocron and coordinates the two maintenance sweeps. The
// zero value is not usable — create instances with New.
type Scheduler struct {
	cron    gocron.Scheduler
	schemas *schema.Registry
	engine  *sync.Engine
	nodes   *identity.Registry
	logger  *zap.Logger

	nodeTTL time.Duration
}

// Config configures the sweep cadence and the staleness threshold applied
// to session Nodes.
type Config struct {
	PushSweepInterval time.Duration
	NodeSweepInterval time.Duration
	NodeTTL           time.Duration
}

func (c Config) withDefaults() Config {
	if c.PushSweepInterval <= 0 {
		c.PushSweepInterval = 5 * time.Minute
	}
	if c.NodeSweepInterval <= 0 {
		c.NodeSweepInterval = 15 * time.Minute
	}
	if c.NodeTTL <= 0 {
		c.NodeTTL = 30 * 24 * time.Hour
	}
	return c
}

// New creates and configures a new Scheduler. Call Start to begin
// processing.
func New(cfg Config, schemas *schema.Registry, engine *sync.Engine, nodes *identity.Registry, logger *zap.Logger) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	sched := &Scheduler{
		cron:    s,
		schemas: schemas,
		engine:  engine,
		nodes:   nodes,
		logger:  logger.Named("scheduler"),
		nodeTTL: cfg.NodeTTL,
	}

	if _, err := s.NewJob(
		gocron.DurationJob(cfg.PushSweepInterval),
		gocron.NewTask(sched.sweepPushes),
		gocron.WithTags("sweep-pushes"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("scheduling push sweep: %w", err)
	}

	if _, err := s.NewJob(
		gocron.DurationJob(cfg.NodeSweepInterval),
		gocron.NewTask(sched.sweepNodes),
		gocron.WithTags("sweep-nodes"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("scheduling node sweep: %w", err)
	}

	return sched, nil
}

// Start begins running the scheduled sweeps. It should be called once at
// server startup, after the store is open.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.Duration("node_ttl", s.nodeTTL),
	)
	return nil
}

// Stop gracefully shuts down the underlying gocron scheduler, waiting for
// any currently running sweep to complete before returning.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown error: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// sweepPushes walks every context's datasets and deletes Push tokens that
// have expired or run out of redemptions, §3's Push lifecycle.
func (s *Scheduler) sweepPushes() {
	contexts, err := s.schemas.List()
	if err != nil {
		s.logger.Error("push sweep: failed to list contexts", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	removed := 0
	for _, ctx := range contexts {
		datasets, err := s.engine.Repo().ListDatasets(ctx.UUID)
		if err != nil {
			s.logger.Warn("push sweep: failed to list datasets",
				zap.String("context", ctx.UUID.String()), zap.Error(err))
			continue
		}
		for _, ds := range datasets {
			pushes, err := s.engine.Repo().ReadPush(ctx.UUID, ds.ID)
			if err != nil {
				s.logger.Warn("push sweep: failed to read pushes",
					zap.String("context", ctx.UUID.String()),
					zap.Uint64("dataset", ds.ID), zap.Error(err))
				continue
			}
			for _, p := range pushes {
				if !p.Expired(now) {
					continue
				}
				if err := s.engine.Repo().DeletePush(ctx.UUID, ds.ID, p.UUID); err != nil {
					s.logger.Warn("push sweep: failed to delete expired push",
						zap.String("push", p.UUID.String()), zap.Error(err))
					continue
				}
				removed++
			}
		}
	}
	if removed > 0 {
		s.logger.Info("push sweep complete", zap.Int("expired_removed", removed))
	}
}

// sweepNodes deletes session Nodes whose CreatedAt is older than the
// configured TTL. The spec defines session lifetime as sign-in to explicit
// sign-out/revocation; this is a backstop for abandoned sessions a client
// never signed out of cleanly.
func (s *Scheduler) sweepNodes() {
	nodes, err := s.nodes.ListNodes()
	if err != nil {
		s.logger.Error("node sweep: failed to list sessions", zap.Error(err))
		return
	}

	cutoff := time.Now().UTC().Add(-s.nodeTTL)
	removed := 0
	for _, n := range nodes {
		if n.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.nodes.DeleteNodeByUUID(n.UUID); err != nil {
			s.logger.Warn("node sweep: failed to delete stale session",
				zap.String("node", n.UUID.String()), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("node sweep complete", zap.Int("stale_removed", removed))
	}
}
