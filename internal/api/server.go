// Package api exposes the execution core over HTTP: job control, manual
// orders, market data websocket, auth and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/engine"
	"execution-core/internal/events"
	"execution-core/internal/hub"
	"execution-core/internal/monitor"
	"execution-core/pkg/db"
)

// Server wires HTTP endpoints around the engine facade.
type Server struct {
	Router    *gin.Engine
	Engine    *engine.Service
	Hub       *hub.Hub
	Bus       *events.Bus
	DB        *db.Database
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	Venue   string
	Testnet bool
	Symbols []string
	Version string
}

// NewServer builds the router with the full middleware stack and routes.
func NewServer(eng *engine.Service, h *hub.Hub, bus *events.Bus, database *db.Database, metrics *monitor.SystemMetrics, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Engine:    eng,
		Hub:       h,
		Bus:       bus,
		DB:        database,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api/v1")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/jobs", s.listJobs)
			protected.GET("/jobs/:kind/:name", s.getJob)
			protected.POST("/jobs/:kind/:name/start", s.startJob)
			protected.POST("/jobs/:kind/:name/stop", s.stopJob)

			protected.POST("/orders", s.placeOrder)
			protected.DELETE("/orders/:symbol/:id", s.cancelOrder)
			protected.GET("/orders/open", s.getOpenOrders)
			protected.GET("/orders/history", s.getOrderHistory)

			protected.GET("/position/:symbol", s.getPosition)
			protected.GET("/price/:symbol", s.getPrice)

			protected.GET("/strategies/presets", s.listPresets)
			protected.POST("/strategies/presets/:name/start", s.startPreset)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP server until it fails or the process exits.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
