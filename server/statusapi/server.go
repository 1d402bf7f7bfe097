// Package statusapi is the thin HTTP/WebSocket surface spec.md treats
// as an external UI collaborator: it reads the tunnel.Manager's
// snapshot, triggers diagnose/remediate, and streams live traffic
// counters. It carries no tunnel business logic of its own. Adapted
// from the teacher's gin-based server.go -- same middleware/CORS/
// websocket-upgrade setup, trimmed from a multi-tenant project/group/
// host/port-forward CRUD surface down to this broker's single-session
// read/trigger API.
package statusapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sockstun/sockstun/core/diagnose"
	"github.com/sockstun/sockstun/core/remediate"
	"github.com/sockstun/sockstun/core/tunconf"
	"github.com/sockstun/sockstun/core/tunnel"
	"github.com/sockstun/sockstun/core/utils"
	"github.com/sockstun/sockstun/server/history"
)

// Config holds the status API's own listen/CORS settings.
type Config struct {
	Host            string   `json:"host" yaml:"host"`
	Port            int      `json:"port" yaml:"port"`
	Mode            string   `json:"mode" yaml:"mode"` // debug, release, test
	EnableCORS      bool     `json:"enable_cors" yaml:"enable_cors"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins"`
	EnableWebSocket bool     `json:"enable_websocket" yaml:"enable_websocket"`
	History         history.Config
}

func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            8080,
		Mode:            "release",
		EnableCORS:      true,
		CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		EnableWebSocket: true,
		History:         history.DefaultSQLiteConfig(),
	}
}

// Server is the status API's process: one gin.Engine in front of one
// tunnel.Manager and one history.Store.
type Server struct {
	config  Config
	router  *gin.Engine
	manager *tunnel.Manager
	history *history.Store
	logger  utils.Logger
	tunCfg  tunconf.Config
}

func NewServer(cfg Config, tunCfg tunconf.Config, logger utils.Logger) (*Server, error) {
	store, err := history.New(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}

	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s := &Server{
		config:  cfg,
		manager: tunnel.NewManager(tunCfg, logger),
		history: store,
		logger:  logger,
		tunCfg:  tunCfg,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	if s.config.EnableCORS {
		corsCfg := cors.DefaultConfig()
		if len(s.config.CORSOrigins) > 0 {
			corsCfg.AllowOrigins = s.config.CORSOrigins
		} else {
			corsCfg.AllowAllOrigins = true
		}
		corsCfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
		corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		router.Use(cors.New(corsCfg))
	}

	router.GET("/health", s.handleHealth)

	api := router.Group("/api/v1")
	{
		api.GET("/status", s.handleStatus)
		api.POST("/connect", s.handleConnect)
		api.POST("/disconnect", s.handleDisconnect)
		api.POST("/diagnose", s.handleDiagnose)
		api.POST("/remediate", s.handleRemediate)
		api.GET("/history", s.handleHistory)
	}

	if s.config.EnableWebSocket {
		router.GET("/ws/traffic", s.handleTrafficWebSocket)
	}

	s.router = router
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.history.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "healthy"})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.manager.Snapshot()
	c.JSON(http.StatusOK, gin.H{"success": true, "data": snap})
}

func (s *Server) handleConnect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	runID := uuid.New().String()
	_ = s.history.RecordRunStart(ctx, &history.TunnelRunRecord{
		ID:        runID,
		Mode:      string(s.tunCfg.Mode),
		Hop1Addr:  s.tunCfg.Hop1.Addr(),
		Hop2Addr:  s.tunCfg.Hop2.Addr(),
		LocalPort: s.tunCfg.LocalPort,
		StartedAt: time.Now(),
	})

	if err := s.manager.Connect(ctx); err != nil {
		snap := s.manager.Snapshot()
		if snap.Diagnosis != nil {
			_ = s.history.RecordDiagnosis(ctx, &history.DiagnosisRecord{
				RunID:    runID,
				Reason:   snap.Diagnosis.Reason,
				Category: string(snap.Diagnosis.Category),
				Severity: string(snap.Diagnosis.Severity),
				Fixable:  snap.Diagnosis.Fixable,
			})
		}
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "run_id": runID})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	snap := s.manager.Snapshot()
	s.manager.Disconnect()
	_ = s.history.RecordRunEnd(c.Request.Context(), "", "torn_down", snap.LastError, snap.Traffic.TotalBytes, 0)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDiagnose(c *gin.Context) {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	d := diagnose.Diagnose(body.Message)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": d})
}

func (s *Server) handleRemediate(c *gin.Context) {
	var body struct {
		Bridge bool `json:"bridge"`
	}
	_ = c.BindJSON(&body)

	hop := s.tunCfg.Hop1
	if body.Bridge {
		hop = s.tunCfg.Hop2
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	report, err := remediate.Run(ctx, hop)
	for _, phase := range report.Phases {
		_ = s.history.RecordRemediationPhase(ctx, &history.RemediationRecord{
			Phase:   phase.Phase,
			Success: phase.Success,
			Output:  phase.Output,
		})
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error(), "data": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": report})
}

func (s *Server) handleHistory(c *gin.Context) {
	runs, err := s.history.RecentRuns(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": runs})
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleTrafficWebSocket(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("traffic websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		snap := s.manager.Snapshot()
		if err := conn.WriteJSON(snap.Traffic); err != nil {
			return
		}
	}
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully within 30 seconds.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status API server failed", "error", err)
		}
	}()
	s.logger.Info("status API listening", "addr", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.manager.Disconnect()
	return s.history.Close()
}
