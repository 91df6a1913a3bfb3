package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"timeflow/internal/domain"
	"timeflow/internal/usecase"
)

type ServerConfig struct {
	Addr                string
	AdminToken          string
	RateLimitFailClosed bool
}

type Server struct {
	cfg       ServerConfig
	processor *usecase.Processor
	rules     usecase.RuleStore
	creds     usecase.CredentialStore
	limiter   domain.RateLimiter
	log       *logrus.Logger
	engine    *gin.Engine
	srv       *http.Server
}

func NewServer(cfg ServerConfig, processor *usecase.Processor, rules usecase.RuleStore, creds usecase.CredentialStore, limiter domain.RateLimiter, log *logrus.Logger) (*Server, error) {
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if rules == nil {
		return nil, errors.New("rule store is required")
	}
	if creds == nil {
		return nil, errors.New("credential store is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		processor: processor,
		rules:     rules,
		creds:     creds,
		limiter:   limiter,
		log:       log,
		engine:    engine,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	v1 := s.engine.Group("/v1")
	v1.POST("/webhooks/:tenantID", s.handleWebhook)

	tenant := v1.Group("/tenants/:tenantID")
	tenant.POST("/dry-run", s.handleDryRun)
	tenant.GET("/rules", s.handleListRules)
	tenant.POST("/rules", s.handleUpsertRule)
	tenant.PUT("/rules/:ruleID", s.handleUpsertRule)
	tenant.DELETE("/rules/:ruleID", s.handleDeleteRule)
	tenant.POST("/credentials/rotate", s.handleRotateCredential)
}

func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}
