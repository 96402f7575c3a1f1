package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dialectica/dialectica/pkg/config"
	"github.com/dialectica/dialectica/pkg/db"
	"github.com/dialectica/dialectica/pkg/event"
	"github.com/dialectica/dialectica/pkg/handler"
	"github.com/dialectica/dialectica/pkg/service"
	"github.com/dialectica/dialectica/pkg/utils"
)

// Server wires the stores, services and HTTP routes together and owns their
// lifecycles.
type Server struct {
	cfg       *config.AppConfig
	ginEngine *gin.Engine
	logger    *slog.Logger

	store   db.SessionStore
	emitter *event.Emitter
	debates *service.DebateService
	replays *service.ReplayService

	httpSrv *http.Server
	port    int
}

// NewServer constructs the full application: store, event emitter, model
// services and routes. The caller must Start it and Shutdown it.
func NewServer(ctx context.Context, cfg *config.AppConfig) (*Server, error) {
	logger := utils.GetLogger()

	store, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	emitter := event.NewEmitter()
	modelService := service.NewModelService(cfg)
	personaService := service.NewPersonaService(modelService)
	synthesisService := service.NewSynthesisService(modelService)
	turnSource := service.NewModelTurnSource(modelService)
	debateService := service.NewDebateService(cfg, emitter, store, turnSource, personaService, synthesisService)
	narrator := service.NewWSNarrator(emitter)
	replayService := service.NewReplayService(cfg, emitter, store, narrator)

	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	ginEngine.Use(corsMiddleware())
	attachStatic(ginEngine)

	s := &Server{
		cfg:       cfg,
		ginEngine: ginEngine,
		logger:    logger,
		store:     store,
		emitter:   emitter,
		debates:   debateService,
		replays:   replayService,
	}
	s.setupRoutes(personaService)
	return s, nil
}

// corsMiddleware allows common localhost dev origins and rejects the rest.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// No Origin header means it's not a browser CORS request.
		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) setupRoutes(personas *service.PersonaService) {
	wsHandler := event.NewWSHandler(s.emitter, s.logger)

	api := s.ginEngine.Group("/api/v1")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Splash screen greeting; also the cheapest way to verify the model
	// provider is reachable.
	api.GET("/welcome", func(c *gin.Context) {
		word, err := personas.WelcomeWord(c.Request.Context())
		if err != nil {
			s.logger.Warn("Welcome word generation failed", "error", err)
			c.JSON(http.StatusOK, gin.H{"word": "Welcome"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"word": word})
	})

	api.GET("/events/ws", wsHandler.Handle)

	handler.NewDebateHandler(s.debates, s.logger).RegisterRoutes(api)
	handler.NewSessionHandler(s.store, s.emitter, s.logger).RegisterRoutes(api)
	handler.NewReplayHandler(s.replays, s.logger).RegisterRoutes(api)
}

// Start binds the listener and serves in the background. Startup failures are
// returned immediately; later failures are logged.
func (s *Server) Start(ctx context.Context) error {
	port := s.cfg.Port()
	// DIALECTICA_PORT overrides the config, useful for launchers and tests.
	if v := os.Getenv("DIALECTICA_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			port = p
		} else {
			s.logger.Warn("Invalid DIALECTICA_PORT value, using config", "value", v)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), port)
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}
	s.httpSrv = srv

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = port
	}
	s.logger.Info("Server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

// Shutdown stops running debates and replays and closes the store.
func (s *Server) Shutdown() {
	s.debates.Close()
	s.replays.CloseAll()
	if err := s.store.Close(); err != nil {
		s.logger.Warn("Failed to close session store", "error", err)
	}
}
