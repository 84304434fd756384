package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/loanpilot/loanpilot/internal/app"
	"github.com/loanpilot/loanpilot/internal/audit"
	"github.com/loanpilot/loanpilot/internal/platform/cache"
	"github.com/loanpilot/loanpilot/internal/platform/db"
	"github.com/loanpilot/loanpilot/internal/rbac"
	"github.com/loanpilot/loanpilot/internal/users"
	"github.com/loanpilot/loanpilot/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	userRepo := users.NewRepository(pool)
	roleRepo := rbac.NewRoleRepository(pool)
	assignmentRepo := rbac.NewAssignmentRepository(pool)
	overrideRepo := rbac.NewOverrideRepository(pool)

	resolver := rbac.NewResolver(userRepo, assignmentRepo, roleRepo, overrideRepo)
	versions := rbac.NewRoleVersions(redisClient)
	permCache := rbac.NewCache(resolver, versions, redisClient, cfg.PermissionCacheTTL, logger)

	auditRepo := audit.NewRepository(pool)

	sweepTask, err := jobs.NewExpirySweepTask(time.Now())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	retentionTask, err := jobs.NewAuditRetentionTask(time.Now())
	if err != nil {
		logger.Error("build retention task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpirySweep, Handler: jobs.NewExpirySweepHandler(assignmentRepo, overrideRepo, permCache, logger)},
			{Type: jobs.TaskAuditRetention, Handler: jobs.NewAuditRetentionHandler(auditRepo, cfg.AuditRetentionDays, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.CronExpirySweep, Task: sweepTask},
			{Spec: jobs.CronAuditRetention, Task: retentionTask},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
