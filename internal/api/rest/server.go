package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Saturday-Vinyl/machine-link/internal/api/websocket"
	"github.com/Saturday-Vinyl/machine-link/internal/auth"
	"github.com/Saturday-Vinyl/machine-link/internal/config"
	"github.com/Saturday-Vinyl/machine-link/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.Service
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.Service) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH (PUBLIC) ====================
		v1.POST("/auth/login", s.login)

		// ==================== MACHINE ====================
		mach := v1.Group("/machine")
		mach.Use(s.authService.Middleware())
		{
			// Status and the emergency stop are open to the pendant too:
			// a stop request must never be refused on permission grounds
			// once the caller holds any valid token.
			mach.GET("/status", s.getMachineStatus)
			mach.POST("/estop", s.emergencyStop)

			operator := auth.RequireRole(auth.RoleOperator)
			mach.POST("/connect", operator, s.connect)
			mach.POST("/disconnect", operator, s.disconnect)
			mach.POST("/home", operator, s.home)
			mach.POST("/unlock", operator, s.unlock)
			mach.POST("/zero", operator, s.setZero)
			mach.POST("/command", operator, s.executeMachineCommand)
		}

		// ==================== STREAM (OPERATOR) ====================
		str := v1.Group("/stream")
		str.Use(s.authService.Middleware())
		str.Use(auth.RequireRole(auth.RoleOperator))
		{
			str.POST("", s.startStream)
			str.POST("/pause", s.pauseStream)
			str.POST("/resume", s.resumeStream)
			str.POST("/stop", s.stopStream)
			str.GET("/job", s.getJob)
		}

		// ==================== JOG (OPERATOR + PENDANT) ====================
		jogGroup := v1.Group("/jog")
		jogGroup.Use(s.authService.Middleware())
		jogGroup.Use(auth.RequireRole(auth.RoleOperator, auth.RolePendant))
		{
			jogGroup.POST("/start", s.jogStart)
			jogGroup.POST("/stop", s.jogStop)
			jogGroup.POST("/mode", s.setJogMode)
		}

		// ==================== SYSTEM (OPERATOR) ====================
		systemGroup := v1.Group("/system")
		systemGroup.Use(s.authService.Middleware())
		systemGroup.Use(auth.RequireRole(auth.RoleOperator))
		{
			systemGroup.GET("/status", s.getSystemStatus)
		}

		// ==================== WEBSOCKET (auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	c.JSON(http.StatusOK, gin.H{
		"system":            status,
		"connected_clients": s.wsHub.GetClientCount(),
	})
}
