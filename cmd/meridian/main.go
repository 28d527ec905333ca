package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-cms/meridian/internal/acl"
	"github.com/meridian-cms/meridian/internal/app"
	"github.com/meridian-cms/meridian/internal/audit"
	audithttp "github.com/meridian-cms/meridian/internal/audit/http"
	"github.com/meridian-cms/meridian/internal/auth"
	"github.com/meridian-cms/meridian/internal/dataaccess"
	"github.com/meridian-cms/meridian/internal/groups"
	"github.com/meridian-cms/meridian/internal/observability"
	"github.com/meridian-cms/meridian/internal/pages"
	"github.com/meridian-cms/meridian/internal/permcache"
	"github.com/meridian-cms/meridian/internal/permissions"
	"github.com/meridian-cms/meridian/internal/platform/cache"
	"github.com/meridian-cms/meridian/internal/platform/db"
	"github.com/meridian-cms/meridian/internal/rbac"
	"github.com/meridian-cms/meridian/internal/roles"
	"github.com/meridian-cms/meridian/internal/shared"
	"github.com/meridian-cms/meridian/internal/users"
	"github.com/meridian-cms/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	metrics := observability.NewMetrics()
	permCache := permcache.New(redisClient, cfg.PermissionCacheTTL, logger, permcache.WithRecorder(metrics))

	replayClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := replayClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	auditStore := audit.NewPGStore(dbpool)
	auditLogger := audit.NewLogger(auditStore, logger, replayClient)
	auditService := audit.NewService(auditStore)

	aclResolver := acl.NewResolver(acl.NewRepository(dbpool), permCache, auditLogger, logger, acl.WithDecisionRecorder(metrics))
	routeAuthorizer := rbac.NewAuthorizer(rbac.NewRepository(dbpool), permCache, auditLogger, logger, rbac.WithDecisionRecorder(metrics))
	accessResolver := dataaccess.NewResolver(dataaccess.NewRepository(dbpool), permCache, auditLogger, logger, cfg.AdminRole, dataaccess.WithDecisionRecorder(metrics))

	rbacMiddleware := rbac.Middleware{Authorizer: routeAuthorizer, GuestID: cfg.GuestUserID}

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	pagesService := pages.NewService(pages.NewPGRepository(dbpool), accessResolver, permCache, logger)
	pagesHandler := pages.NewHandler(logger, pagesService, aclResolver, rbacMiddleware, cfg.GuestUserID)

	groupsService := groups.NewService(groups.NewPGRepository(dbpool), permCache, logger)
	groupsHandler := groups.NewHandler(logger, groupsService, rbacMiddleware)

	usersService := users.NewService(users.NewPGRepository(dbpool), permCache, logger)
	usersHandler := users.NewHandler(logger, usersService, rbacMiddleware)

	rolesService := roles.NewService(roles.NewPGRepository(dbpool), permCache, logger)
	rolesHandler := roles.NewHandler(logger, rolesService, rbacMiddleware)

	permissionsService := permissions.NewService(permissions.NewPGRepository(dbpool), permCache, redisClient, logger)
	permissionsHandler := permissions.NewHandler(logger, permissionsService, rbacMiddleware)

	auditHandler := audithttp.NewHandler(logger, auditService, rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		AuthHandler:        authHandler,
		PagesHandler:       pagesHandler,
		GroupsHandler:      groupsHandler,
		UsersHandler:       usersHandler,
		RolesHandler:       rolesHandler,
		PermissionsHandler: permissionsHandler,
		AuditHandler:       auditHandler,
		JobsHandler:        jobsHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
