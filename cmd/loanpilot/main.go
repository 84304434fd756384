package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loanpilot/loanpilot/internal/app"
	"github.com/loanpilot/loanpilot/internal/audit"
	"github.com/loanpilot/loanpilot/internal/platform/cache"
	"github.com/loanpilot/loanpilot/internal/platform/db"
	"github.com/loanpilot/loanpilot/internal/rbac"
	"github.com/loanpilot/loanpilot/internal/templates"
	"github.com/loanpilot/loanpilot/internal/users"
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
	catalogRepo := rbac.NewCatalogRepository(pool)

	resolver := rbac.NewResolver(userRepo, assignmentRepo, roleRepo, overrideRepo)
	versions := rbac.NewRoleVersions(redisClient)
	permCache := rbac.NewCache(resolver, versions, redisClient, cfg.PermissionCacheTTL, logger)
	permCache.Listen(ctx)

	recorder := audit.NewRecorder()
	mutationStore := rbac.NewPGMutationStore(pool, roleRepo, assignmentRepo, overrideRepo, recorder)
	rbacService := rbac.NewService(userRepo, roleRepo, overrideRepo, catalogRepo, mutationStore, permCache, logger)
	rbacHandler := rbac.NewHandler(rbacService, logger)

	templateRepo := templates.NewRepository(pool)
	applyStore := templates.NewPGApplyStore(pool, templateRepo, roleRepo, overrideRepo, recorder)
	applier := templates.NewApplier(templateRepo, catalogRepo, roleRepo, userRepo, applyStore, permCache, logger)
	templatesHandler := templates.NewHandler(applier, logger)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)
	auditExporter := audit.NewExporter(auditRepo)
	auditHandler := audit.NewHandler(auditService, auditExporter, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		RBACHandler:      rbacHandler,
		RBACChecker:      rbacService,
		TemplatesHandler: templatesHandler,
		AuditHandler:     auditHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
}
