// Package http is the outer surface of the wallet daemon: session, balance and transfer
// endpoints plus a websocket stream of bus events.
package http

import (
	"context"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"moff.io/moff-defi/internal/balance"
	"moff.io/moff-defi/internal/cache"
	"moff.io/moff-defi/internal/config"
	"moff.io/moff-defi/internal/events"
	"moff.io/moff-defi/internal/session"
	"moff.io/moff-defi/pkg/concurrent"
	"moff.io/moff-defi/pkg/log"
	"moff.io/moff-defi/pkg/log/middleware"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	defaultAddress        = ":8080"
	defaultRequestTimeout = time.Minute * 3
	shutdownTimeout       = time.Second * 10
	defaultMaxStreams     = 64
)

type Server struct {
	manager *session.Manager
	tracker *balance.Tracker
	bus     *events.Bus
	limiter cache.Limiter
	streams concurrent.Limiter

	address        string
	requestTimeout time.Duration
	upgrader       websocket.Upgrader

	mu  sync.Mutex
	srv *http.Server
}

type Option func(*Server)

// WithLimiter throttles POST /transfer per client ip.
func WithLimiter(l cache.Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithMaxStreams caps the number of websocket clients served at once.
func WithMaxStreams(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.streams = concurrent.NewLimiter(n)
		}
	}
}

func WithAddress(address string) Option {
	return func(s *Server) {
		if address != "" {
			s.address = address
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

func NewServer(manager *session.Manager, tracker *balance.Tracker, bus *events.Bus, opts ...Option) *Server {
	s := &Server{
		manager:        manager,
		tracker:        tracker,
		bus:            bus,
		address:        defaultAddress,
		requestTimeout: defaultRequestTimeout,
		streams:        concurrent.NewLimiter(defaultMaxStreams),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply takes the listen address and request timeout from the configuration.
func (s *Server) Apply(c *config.Configuration) {
	if c == nil {
		return
	}
	WithAddress(c.HTTP.Address)(s)
	WithRequestTimeout(c.HTTP.RequestTimeout)(s)
}

func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog())
	router.GET("/ws", s.stream)

	api := router.Group("/", middleware.TimeoutHTTP(s.requestTimeout))
	api.GET("/session", s.getSession)
	api.POST("/session/connect", s.connect)
	api.POST("/session/disconnect", s.disconnect)
	api.POST("/session/sign-in", s.signIn)
	api.GET("/balance", s.getBalance)
	api.POST("/transfer", s.rateLimited("transfer"), s.transfer)
	return router
}

// Start serves in the background until ctx ends.
func (s *Server) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:    s.address,
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	go func() {
		log.Infof("http server listening on %v", s.address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("http server shutdown: %v", err)
	}
}

func (s *Server) rateLimited(action string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if s.limiter == nil {
			ctx.Next()
			return
		}
		allowed, retryAfter, err := s.limiter.Allow(ctx.Request.Context(), action+":"+ctx.ClientIP())
		if err != nil {
			// 限流不可用时放行
			log.Warnf("rate limit %v: %v", action, err)
			ctx.Next()
			return
		}
		if !allowed {
			ctx.Header("Retry-After", strconv.Itoa(int(retryAfter/time.Second)+1))
			abort(ctx, http.StatusTooManyRequests, codeRateLimited, "too many requests")
			return
		}
		ctx.Next()
	}
}
