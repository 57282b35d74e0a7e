package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rentalwise/messaging/internal/handler"
	"github.com/rentalwise/messaging/internal/hub"
	"github.com/rentalwise/messaging/internal/listing"
	appmw "github.com/rentalwise/messaging/internal/middleware"
	"github.com/rentalwise/messaging/internal/repository"
	"github.com/rentalwise/messaging/internal/service"
	"gorm.io/gorm"
)

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

type Server struct {
	e        *echo.Echo
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	hub      *hub.Hub
}

func New(db *gorm.DB, sessionSecret string, listings listing.Directory, log *slog.Logger) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		AllowOriginFunc: func(origin string) (bool, error) {
			low := strings.ToLower(origin)
			if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
				strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
				return true, nil
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false, nil
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false, nil
			}
			if strings.HasSuffix(u.Hostname(), "rentalwise.app") {
				return true, nil
			}
			return false, nil
		},
	}))

	authMw, err := appmw.NewAuthMiddleware(sessionSecret)
	if err != nil {
		return nil, err
	}

	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)

	h := hub.New(log, authMw)

	convSvc := service.NewConversationService(convRepo, msgRepo, listings)
	msgSvc := service.NewMessageService(convRepo, msgRepo, h)
	msgHandler := handler.NewMessagingHandler(convSvc, msgSvc)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"ok": "true"})
	})

	// The hub does its own handshake auth: browser websocket dials
	// cannot set an Authorization header.
	e.GET("/ws", h.Handler)

	api := e.Group("/api/messaging", authMw.RequireAuth)
	api.POST("/start", msgHandler.Start)
	api.GET("/conversations", msgHandler.List)
	api.GET("/listing/:listingId/conversation", msgHandler.GetByListing)
	api.GET("/:id", msgHandler.Get)
	api.POST("/:id/archive", msgHandler.Archive)
	api.POST("/:id/participants", msgHandler.AddParticipant)
	api.POST("/:id/leave", msgHandler.Leave)
	api.POST("/:id/read", msgHandler.MarkRead)
	api.GET("/:id/messages", msgHandler.ListMessages)
	api.POST("/:id/messages", msgHandler.CreateMessage)
	api.DELETE("/:id/messages/:msgId", msgHandler.DeleteMessage)

	return &Server{e: e, convRepo: convRepo, msgRepo: msgRepo, hub: h}, nil
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.e
}

func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// SetDB injects a database connection that became ready after startup.
func (s *Server) SetDB(db *gorm.DB) {
	s.convRepo.SetDB(db)
	s.msgRepo.SetDB(db)
}
