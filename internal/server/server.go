package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Tyrowin/syncchat/internal/logger"
	"github.com/Tyrowin/syncchat/internal/room"
)

// Server owns one chat room and everything that feeds it: the connection
// registry, the inbound event queue, and the dispatcher goroutine.
type Server struct {
	config     Config
	room       *room.Room
	queue      *eventQueue
	hub        *Hub
	dispatcher *Dispatcher
	registry   *prometheus.Registry
	metrics    *metrics
	upgrader   websocket.Upgrader

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New builds a Server from cfg. A nil cfg means defaults. The room starts
// with a greeting message stamped at construction time.
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	c := sanitizeConfig(*cfg)

	s := &Server{
		config:   c,
		queue:    newEventQueue(),
		registry: prometheus.NewRegistry(),
		done:     make(chan struct{}),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = newMetrics(s.registry, func() float64 { return float64(s.queue.len()) })

	s.room = room.New(
		room.WithNameMaxLength(c.NameMaxLength),
		room.WithTolerance(c.Tolerance),
		room.WithGreeting(time.Now().UTC()),
	)
	s.hub = newHub(c, s.queue, s.metrics)
	s.dispatcher = newDispatcher(s.room, s.hub, s.queue, c, s.metrics)

	origins := newOriginPolicy(c.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.checkOrigin,
	}
	return s
}

// Config returns the sanitized configuration the server runs with.
func (s *Server) Config() Config { return s.config }

// Hub returns the connection registry.
func (s *Server) Hub() *Hub { return s.hub }

// Registry returns the Prometheus registry backing /metrics.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// Start launches the dispatcher. It must be called before serving
// connections; later calls are no-ops.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go func() {
			defer close(s.done)
			if err := s.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("dispatcher exited", "error", err)
			}
		}()
	})
}

// Shutdown stops the dispatcher after it drains already queued events, then
// closes every connection and waits for their pumps, up to timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	logger.Info("initiating chat server shutdown")
	s.queue.close()

	if s.cancel != nil {
		select {
		case <-s.done:
		case <-time.After(timeout):
			logger.Warn("dispatcher did not drain before timeout")
			s.cancel()
			<-s.done
		}
		s.cancel()
	}

	return s.hub.Shutdown(timeout)
}
