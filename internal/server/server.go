// Package server implements the container session server: a gin HTTP
// surface over one executor and its namespaces, protected by a bearer
// token. Startup is fail-closed: without a token the server refuses to
// start unless auth is explicitly disabled.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"codemode/internal/errors"
	"codemode/internal/execution"
	"codemode/internal/logging"
	"codemode/internal/namespace"
)

// Config is the server configuration.
type Config struct {
	Listen      string
	Token       string
	DisableAuth bool
}

// Server exposes execute/reset plus skills, artifacts and deps management
// over HTTP. Executor operations are serialized; reads may run concurrently
// with an executing request.
type Server struct {
	cfg    Config
	exec   execution.Executor
	ns     *namespace.Namespaces
	logger logging.Logger
	engine *gin.Engine

	execMu sync.Mutex
	status atomic.Value // health string
}

// New wires the routes. It fails when no token is configured and auth is
// not explicitly disabled.
func New(cfg Config, exec execution.Executor, ns *namespace.Namespaces, logger logging.Logger) (*Server, error) {
	if cfg.Token == "" && !cfg.DisableAuth {
		return nil, errors.New(errors.KindAuthRequired, "auth not configured: set a token or disable auth explicitly")
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8443"
	}

	s := &Server{
		cfg:    cfg,
		exec:   exec,
		ns:     ns,
		logger: logging.OrNop(logger),
	}
	s.status.Store("starting")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))
	engine.Use(s.authMiddleware())

	engine.GET("/health", s.handleHealth)
	engine.GET("/info", s.handleInfo)
	engine.POST("/execute", s.handleExecute)
	engine.POST("/reset", s.handleReset)

	engine.GET("/tools", s.handleListTools)
	engine.GET("/tools/search", s.handleSearchTools)

	engine.GET("/skills", s.handleListSkills)
	engine.GET("/skills/search", s.handleSearchSkills)
	engine.GET("/skills/:name", s.handleGetSkill)
	engine.POST("/skills", s.handleCreateSkill)
	engine.DELETE("/skills/:name", s.handleDeleteSkill)

	engine.GET("/artifacts", s.handleListArtifacts)
	engine.GET("/artifacts/:name", s.handleGetArtifact)
	engine.POST("/artifacts", s.handleSaveArtifact)
	engine.DELETE("/artifacts/:name", s.handleDeleteArtifact)

	engine.GET("/deps", s.handleListDeps)
	engine.POST("/deps", s.handleAddDep)
	engine.DELETE("/deps/:name", s.handleRemoveDep)
	engine.POST("/deps/sync", s.handleSyncDeps)

	s.engine = engine
	s.status.Store("healthy")
	return s, nil
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.engine}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Session server listening on %s", s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.status.Store("unhealthy")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// writeError renders the uniform error body with the kind-mapped status.
func writeError(c *gin.Context, err error) {
	kind := errors.KindOf(err)
	message := err.Error()
	var tagged *errors.Error
	if stdAs(err, &tagged) {
		message = tagged.Message
	}
	c.JSON(errors.HTTPStatus(kind), gin.H{
		"error": gin.H{"kind": string(kind), "message": message},
	})
}
