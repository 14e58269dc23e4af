package app

import (
	"github.com/gin-gonic/gin"

	"github.com/mx-space/portal/internal/middleware"
	"github.com/mx-space/portal/internal/modules/formsession"
	"github.com/mx-space/portal/internal/modules/health"
	"github.com/mx-space/portal/internal/modules/tasks/crontask"
	"github.com/mx-space/portal/internal/modules/upload/ledger"
	"github.com/mx-space/portal/internal/pkg/response"
)

func (a *App) registerRoutes(deps formsession.Deps) {
	r := a.router

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	api := r.Group("/api")
	authMW := middleware.Auth()
	editorMW := middleware.RequireRole(a.cfg.EditorRoles...)

	healthDeps := health.Deps{
		DB:       a.db,
		Sessions: a.sessions.Len,
		LogDir:   a.cfg.LogDir(),
	}
	if a.rc != nil {
		healthDeps.Redis = a.rc
	}
	health.RegisterRoutes(api, healthDeps, authMW, editorMW)

	rdb := a.rc.Raw()
	formsession.NewHandler(a.sessions, deps).RegisterRoutes(api,
		authMW,
		editorMW,
		middleware.RateLimit(rdb, int64(a.cfg.Uploads.RateLimitPerSecond), a.logger.Named("RateLimit")),
		middleware.Idempotence(rdb),
	)

	crontask.NewHandler(a.sched).RegisterRoutes(api, authMW, editorMW)

	if a.ledger != nil {
		ledger.NewHandler(a.ledger, a.gateway, a.sessions.Live, a.cfg.Sessions.StaleUploadAfter(), a.logger.Named("UploadLedger")).
			RegisterRoutes(api, authMW, editorMW)
	}
}
