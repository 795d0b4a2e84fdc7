// Package server implements the HTTP surface: job creation, status
// polling, artifact download, live progress over websocket, and the
// ambient health/metrics endpoints.
//
// Generalizes internal/server/{router,api,websocket}.go from a Docker
// fleet-migration control plane to a data-movement one: same gin
// wiring, same Hub/Client broadcast pattern, same logging/CORS
// middleware shape, new handlers built on internal/job, internal/export,
// internal/importpipeline and internal/intake instead of internal/docker.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/artemis/databridge/internal/config"
	"github.com/artemis/databridge/internal/errorreport"
	"github.com/artemis/databridge/internal/job"
	"github.com/artemis/databridge/internal/observability"
	"github.com/artemis/databridge/internal/queue"
	"github.com/artemis/databridge/internal/storage"
	"github.com/artemis/databridge/internal/store/postgres"
)

// Deps is everything the HTTP surface needs, wired once at startup in
// cmd/databridge.
type Deps struct {
	Config        *config.Config
	Logger        *observability.Logger
	Health        *observability.HealthChecker
	Metrics       *observability.Metrics
	Engine        *job.Engine
	JobRepo       *postgres.JobRepository
	ExportRepo    *postgres.ExportRepo
	ErrRepo       *postgres.ImportErrorRepository
	Queue         *queue.Client
	ImportStorage storage.Adapter
	ExportStorage storage.Adapter
	ErrorStorage  storage.Adapter
	Report        *errorreport.Generator
}

// Server is the HTTP surface of the data-movement core.
type Server struct {
	cfg     *config.Config
	logger  *observability.Logger
	health  *observability.HealthChecker
	metrics *observability.Metrics

	engine     *job.Engine
	jobRepo    *postgres.JobRepository
	exportRepo *postgres.ExportRepo
	errRepo    *postgres.ImportErrorRepository
	queue      *queue.Client
	report     *errorreport.Generator

	importStorage storage.Adapter
	exportStorage storage.Adapter
	errorStorage  storage.Adapter

	hub    *Hub
	router *gin.Engine
}

// NewServer wires the router and registers this server's hook with the
// job engine, so lifecycle events emitted by this process's engine reach
// the progress websocket. In the serve process that is job.started, at job
// creation; job.completed is emitted by the worker process's engine, which
// has no hook registered, so it does not reach the websocket.
func NewServer(d Deps) *Server {
	if d.Config.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:           d.Config,
		logger:        d.Logger,
		health:        d.Health,
		metrics:       d.Metrics,
		engine:        d.Engine,
		jobRepo:       d.JobRepo,
		exportRepo:    d.ExportRepo,
		errRepo:       d.ErrRepo,
		queue:         d.Queue,
		report:        d.Report,
		importStorage: d.ImportStorage,
		exportStorage: d.ExportStorage,
		errorStorage:  d.ErrorStorage,
		hub:           NewHub(d.Logger),
	}

	s.engine.OnEvent(s.broadcastJobEvent)
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.loggingMiddleware())
	r.Use(s.corsMiddleware())

	r.GET("/healthz", s.health.HealthHandler())
	r.GET("/readyz", s.health.ReadyHandler())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.HandleWebSocket)

	v1 := r.Group("/api/v1")
	v1.Use(ownerMiddleware())
	{
		v1.POST("/imports", s.CreateImport)
		v1.GET("/imports/:jobId", s.GetImport)
		v1.GET("/imports/:jobId/errors/download", s.DownloadImportErrors)
		v1.POST("/imports/:jobId/cancel", s.CancelImport)

		v1.POST("/exports", s.CreateExport)
		v1.GET("/exports/:jobId", s.GetExport)
		v1.GET("/exports/:jobId/download", s.DownloadExport)
		v1.POST("/exports/:jobId/cancel", s.CancelExport)
		v1.GET("/exports", s.StreamExport)
	}

	s.router = r
}

// Start runs the websocket hub and blocks serving HTTP on cfg.HTTPAddr.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("starting HTTP server", zap.String("addr", s.cfg.HTTPAddr))
	return s.router.Run(s.cfg.HTTPAddr)
}

// Stop shuts down the websocket hub. The underlying http.Server's own
// graceful shutdown is managed by the caller (cmd/databridge) since
// gin.Engine.Run does not return a handle to stop early.
func (s *Server) Stop() error {
	s.logger.Info("stopping HTTP server")
	s.hub.Stop()
	return nil
}

// GetRouter returns the gin router for tests and direct route registration.
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
