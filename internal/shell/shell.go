package shell

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mangashell/internal/events"
	"mangashell/internal/ipc"
	"mangashell/internal/query"
	"mangashell/internal/rpc"
	"mangashell/internal/view"
	"mangashell/pkg/utils"
)

var ErrAlreadyStarted = errors.New("shell: already started")

// Shell is the composition root: it owns the procedure client, the query
// cache and the views, and hands them to every route explicitly.
type Shell struct {
	Config utils.ShellConfig
	Client *rpc.Client
	Cache  *query.Cache
	Hooks  *ipc.Hooks
	Hub    *events.Hub
	Views  *view.Views

	engine  *gin.Engine
	logger  *zap.Logger
	started atomic.Bool
	relayWG sync.WaitGroup
}

type Option func(*options)

type options struct {
	now    func() time.Time
	routes []func(*gin.Engine)
}

// WithClock overrides the cache clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRoutes mounts extra routes next to the views.
func WithRoutes(mount func(*gin.Engine)) Option {
	return func(o *options) { o.routes = append(o.routes, mount) }
}

func New(cfg utils.ShellConfig, logger *zap.Logger, transport rpc.Transport, hub *events.Hub, opts ...Option) (*Shell, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hub == nil {
		hub = events.NewHub(logger)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	views, err := view.New()
	if err != nil {
		return nil, err
	}

	client := rpc.NewClient(transport, logger.Named("rpc"))
	cache := query.New(query.Options{
		StaleTime: cfg.Query.StaleTime,
		GCTime:    cfg.Query.GCTime,
		Now:       o.now,
		Logger:    logger.Named("query"),
	})

	s := &Shell{
		Config: cfg,
		Client: client,
		Cache:  cache,
		Hooks:  ipc.NewHooks(client, cache),
		Hub:    hub,
		Views:  views,
		logger: logger,
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestLogger(logger.Named("http")))
	s.routes()
	for _, mount := range o.routes {
		mount(s.engine)
	}
	return s, nil
}

func (s *Shell) Handler() http.Handler {
	return s.engine
}

// Serve listens on the configured UI address until ctx is done. The address
// is fixed: if it is taken Serve fails instead of picking another port.
// A shell serves at most once.
func (s *Shell) Serve(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	lis, err := net.Listen("tcp", s.Config.UIAddr)
	if err != nil {
		return fmt.Errorf("ui listen %s: %w", s.Config.UIAddr, err)
	}

	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	s.startRelay(relayCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ui listening", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stopRelay()
		s.relayWG.Wait()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("ui shutdown", zap.Error(err))
	}
	stopRelay()
	s.relayWG.Wait()
	return <-errCh
}

// Close stops every in-flight fetch.
func (s *Shell) Close() {
	s.Cache.Close()
}

// startRelay keeps the popular titles query mounted for the lifetime of the
// UI and forwards its transitions to websocket clients.
func (s *Shell) startRelay(ctx context.Context) {
	obs := ipc.UseQuery(s.Hooks, ipc.PopularTitles, rpc.NoInput{})

	s.relayWG.Add(1)
	go func() {
		defer s.relayWG.Done()
		defer obs.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-obs.Updates():
				if !ok {
					return
				}
				s.Hub.Broadcast(events.NewEvent(events.TypeQueryState, ipc.PopularTitles.Key, stateEvent{
					Status:     st.Status.String(),
					IsFetching: st.IsFetching,
					FetchCount: st.FetchCount,
				}))
			}
		}
	}()
}

type stateEvent struct {
	Status     string `json:"status"`
	IsFetching bool   `json:"is_fetching"`
	FetchCount int    `json:"fetch_count"`
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
