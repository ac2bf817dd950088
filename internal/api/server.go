package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/helios/helios/internal/models"
	"github.com/helios/helios/internal/service"
	"github.com/mudler/xlog"
)

// Identity headers set by the authenticating proxy in front of the server
const (
	HeaderUserID      = "X-User-Id"
	HeaderUserName    = "X-User-Name"
	HeaderUserEmail   = "X-User-Email"
	HeaderLoginMethod = "X-User-Login-Method"
)

const localUser = "user"

var errUnauthorized = errors.New("authentication required")

type (
	// handler runs one procedure. user is nil for public procedures called anonymously.
	handler func(c *fiber.Ctx, user *models.User) (any, error)

	procedure struct {
		public bool
		run    handler
	}

	// Server exposes the services as JSON procedures over HTTP
	Server struct {
		svc        *service.Service
		procedures map[string]procedure
		*fiber.App
	}
)

// NewServer builds the HTTP app
func NewServer(svc *service.Service) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "helios",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		svc:        svc,
		procedures: make(map[string]procedure),
		App:        app,
	}

	s.registerProcedures()

	app.Get("/healthz", s.health)
	rpc := app.Group("/rpc", s.identity)
	rpc.Post("/:procedure", s.dispatch)

	return s
}

func (s *Server) handle(name string, run handler) {
	s.procedures[name] = procedure{run: run}
}

func (s *Server) handlePublic(name string, run handler) {
	s.procedures[name] = procedure{public: true, run: run}
}

// identity resolves the caller from the proxy headers and records the sign-in
func (s *Server) identity(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Get(HeaderUserID))
	if id == "" {
		return c.Next()
	}

	user, err := s.svc.SignIn(c.UserContext(), &models.User{
		ID:          id,
		Name:        c.Get(HeaderUserName),
		Email:       c.Get(HeaderUserEmail),
		LoginMethod: c.Get(HeaderLoginMethod),
	})
	if err != nil {
		return err
	}

	c.Locals(localUser, user)
	return c.Next()
}

func (s *Server) dispatch(c *fiber.Ctx) error {
	name := c.Params("procedure")
	proc, ok := s.procedures[name]
	if !ok {
		return writeError(c, http.StatusNotFound, "NOT_FOUND", "unknown procedure "+name)
	}

	user, _ := c.Locals(localUser).(*models.User)
	if user == nil && !proc.public {
		return writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", errUnauthorized.Error())
	}

	result, err := proc.run(c, user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"result": result})
}

func (s *Server) health(c *fiber.Ctx) error {
	if err := s.svc.Health(c.UserContext()); err != nil {
		return writeError(c, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.App.ShutdownWithContext(ctx)
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return writeError(c, fe.Code, http.StatusText(fe.Code), fe.Message)
	case errors.Is(err, service.ErrValidation):
		return writeError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, errUnauthorized):
		return writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errors.Is(err, service.ErrForbidden):
		return writeError(c, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, service.ErrConversationArchived), errors.Is(err, service.ErrInvalidTransition):
		return writeError(c, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, service.ErrIngestionDisabled):
		return writeError(c, http.StatusNotImplemented, "NOT_IMPLEMENTED", err.Error())
	}

	xlog.Error("Procedure failed", "path", c.Path(), "error", err)
	return writeError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error")
}

func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{"code": code, "message": message},
	})
}
