package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"frigate-reviewer-go/internal/api/handlers"
	"frigate-reviewer-go/internal/config"
	"frigate-reviewer-go/internal/services"
)

type Server struct {
	config *config.Config
	router *gin.Engine
	server *http.Server

	healthHandler  *handlers.HealthHandler
	recordsHandler *handlers.RecordsHandler
	systemHandler  *handlers.SystemHandler
}

func NewServer(cfg *config.Config, sc *services.ServiceContainer) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	return &Server{
		config:         cfg,
		router:         router,
		healthHandler:  handlers.NewHealthHandler(cfg.WorkerID, cfg.Version),
		recordsHandler: handlers.NewRecordsHandler(sc.Store),
		systemHandler:  handlers.NewSystemHandler(cfg.WorkerID, sc.Store, sc.ReviewSvc),
	}
}

func (s *Server) Setup() error {
	s.setupMiddleware()

	s.setupRoutes()

	s.setupSwagger()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	return nil
}

func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
