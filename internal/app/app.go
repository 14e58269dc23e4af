package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mx-space/portal/internal/config"
	"github.com/mx-space/portal/internal/database"
	"github.com/mx-space/portal/internal/middleware"
	"github.com/mx-space/portal/internal/modules/formsession"
	"github.com/mx-space/portal/internal/modules/gallery"
	"github.com/mx-space/portal/internal/modules/notice"
	"github.com/mx-space/portal/internal/modules/upload/gateway"
	"github.com/mx-space/portal/internal/modules/upload/ledger"
	"github.com/mx-space/portal/internal/modules/upload/tracker"
	pkgcron "github.com/mx-space/portal/internal/pkg/cron"
	"github.com/mx-space/portal/internal/pkg/portalapi"
	pkgredis "github.com/mx-space/portal/internal/pkg/redis"
)

// App holds all application dependencies.
type App struct {
	cfg      *config.AppConfig
	router   *gin.Engine
	db       *gorm.DB
	rc       *pkgredis.Client
	logger   *zap.Logger
	cancel   context.CancelFunc
	sched    *pkgcron.Scheduler
	sessions *formsession.Store
	gateway  *gateway.Client
	ledger   *ledger.Service
}

// New initializes the application: settings → DB → Redis → portal client → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := applyRuntimeSettings(cfg, logger); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger}

	if cfg.Database.Enable {
		db, err := database.Connect(cfg, true)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.db = db
		a.ledger = ledger.NewService(db)
	} else {
		logger.Warn("database disabled, uploads are not recorded in the ledger")
	}

	leases := formsession.Leases(formsession.NewMemoryLeases())
	if cfg.Redis.Enable {
		rc, err := pkgredis.Connect(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.rc = rc
		leases = formsession.NewRedisLeases(rc)
	}

	api := portalapi.New(cfg.PortalAPI.BaseURL,
		portalapi.WithTimeout(cfg.PortalAPI.Timeout()),
		portalapi.WithLogger(logger.Named("PortalAPI")),
	)
	a.gateway = gateway.New(api,
		gateway.WithLogger(logger.Named("UploadGateway")),
		gateway.WithPublicBase(cfg.PortalAPI.PublicBaseURL),
	)
	a.sessions = formsession.NewStore(leases, cfg.Sessions.IdleTTL(), logger.Named("FormSessions"))

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger.Named("HTTP")))
	router.Use(cors.New(corsConfig(cfg)))
	a.router = router

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.sched = pkgcron.New(logger.Named("CronService"))
	a.registerCronJobs()
	go a.sched.Start(ctx)

	a.registerRoutes(formsession.Deps{
		Gateway:           a.gateway,
		Notices:           notice.NewService(api),
		Gallery:           gallery.NewService(api),
		Ledger:            a.ledgerOrNil(),
		Placeholders:      cfg.Editor.Placeholders,
		SettleDelay:       cfg.Editor.SettleDelay(),
		DeleteConcurrency: cfg.Uploads.DeleteConcurrency,
		Logger:            logger,
	})
	return a, nil
}

// ledgerOrNil keeps a typed nil *ledger.Service out of the interface.
func (a *App) ledgerOrNil() tracker.Ledger {
	if a.ledger == nil {
		return nil
	}
	return a.ledger
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops background jobs and closes every open form session, which
// sweeps uploads that were never submitted.
func (a *App) Shutdown(ctx context.Context) {
	a.cancel()
	a.sessions.CloseAll(ctx)
	if a.rc != nil {
		if err := a.rc.Close(); err != nil {
			a.logger.Warn("redis close", zap.Error(err))
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
