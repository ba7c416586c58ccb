// Admin HTTP surface for the moderation engine: the review queue, ticket
// decision and flag operations, and subject moderation-status lookups, plus
// the save-notification endpoint hosting applications call when a moderated
// record is written out of process.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"gorm.io/gorm"

	"github.com/warden-project/warden/engine"
	"github.com/warden-project/warden/models"
)

type Server struct {
	engine     *engine.Engine
	db         *gorm.DB
	echo       *echo.Echo
	adminToken string

	log *slog.Logger
}

// serverListenerBootTimeout is how long to wait for the requested server
// socket to become available for use.
const serverListenerBootTimeout = 5 * time.Second

type Config struct {
	// AdminToken guards the /admin endpoints when non-empty (Bearer auth).
	AdminToken string
}

func NewServer(eng *engine.Engine, db *gorm.DB, cfg Config) *Server {
	s := &Server{
		engine:     eng,
		db:         db,
		adminToken: cfg.AdminToken,
		log:        slog.Default().With("system", "server"),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(s.log))
	e.Use(middleware.Recover())
	e.Use(requestMetricsMiddleware)
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/_health", s.HandleHealthCheck)

	admin := e.Group("/admin", s.checkAdminAuth)
	admin.GET("/queue", s.HandleQueue)
	admin.GET("/rejected", s.HandleRejected)
	admin.GET("/tickets/:id", s.HandleGetTicket)
	admin.POST("/tickets/:id/decision", s.HandleDecision)
	admin.POST("/tickets/:id/flag", s.HandleFlag)
	admin.POST("/tickets/:id/unflag", s.HandleUnflag)
	admin.GET("/subjects/:type/:id/moderation", s.HandleSubjectStatus)
	admin.POST("/subjects/:type/:id/save", s.HandleSubjectSave)

	s.echo = e
	return s
}

func (s *Server) RunAPI(addr string) error {
	var lc net.ListenConfig
	ctx, cancel := context.WithTimeout(context.Background(), serverListenerBootTimeout)
	defer cancel()

	li, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("starting moderation admin API", "addr", addr)
	// tell the Echo instance it's already got a listener so tests can boot
	// on random ports and re-use it
	s.echo.Listener = li
	srv := &http.Server{}
	return s.echo.StartServer(srv)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) errorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}
	if he, ok := err.(*echo.HTTPError); ok {
		if err2 := ctx.JSON(he.Code, map[string]any{
			"error": he.Message,
		}); err2 != nil {
			s.log.Error("failed to write http error", "err", err2)
		}
		return
	}

	code := http.StatusInternalServerError
	var ve *models.ValidationError
	switch {
	case errors.Is(err, models.ErrUnknownLabel), errors.As(err, &ve):
		code = http.StatusBadRequest
	case errors.Is(err, gorm.ErrRecordNotFound):
		code = http.StatusNotFound
	default:
		s.log.Warn("handler error", "path", ctx.Path(), "err", err)
	}
	if err2 := ctx.JSON(code, map[string]any{
		"error": err.Error(),
	}); err2 != nil {
		s.log.Error("failed to write http error", "err", err2)
	}
}

func (s *Server) checkAdminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(e echo.Context) error {
		if s.adminToken == "" {
			return next(e)
		}
		authheader := e.Request().Header.Get("Authorization")
		pref := "Bearer "
		if !strings.HasPrefix(authheader, pref) {
			return echo.ErrForbidden
		}
		if authheader[len(pref):] != s.adminToken {
			return echo.ErrForbidden
		}
		return next(e)
	}
}

type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	if err := s.db.Exec("SELECT 1").Error; err != nil {
		s.log.Error("healthcheck can't connect to database", "err", err)
		return c.JSON(500, HealthStatus{Status: "error", Message: "can't connect to database"})
	}
	return c.JSON(200, HealthStatus{Status: "ok"})
}
