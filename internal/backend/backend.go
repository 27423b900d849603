package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"mangashell/internal/auth"
	"mangashell/internal/events"
	"mangashell/internal/manga"
	"mangashell/internal/mangadex"
	"mangashell/internal/rpc"
	"mangashell/internal/rpc/grpcbridge"
	"mangashell/pkg/models"
	"mangashell/pkg/utils"
)

// Backend owns the procedures and serves them over the gRPC bridge.
type Backend struct {
	Router *rpc.Router

	addr   string
	grpc   *grpc.Server
	logger *zap.Logger
}

// storeAdapter narrows manga.Repo to what the procedures need.
type storeAdapter struct {
	repo *manga.Repo
}

func (s storeAdapter) Upsert(ctx context.Context, items []models.Manga) error {
	return s.repo.Upsert(ctx, items)
}

func (s storeAdapter) GetByID(ctx context.Context, id string) (*models.Manga, error) {
	snap, err := s.repo.GetByID(ctx, id)
	if err != nil || snap == nil {
		return nil, err
	}
	return &snap.Manga, nil
}

// New wires the MangaDex client, the snapshot store (db may be nil) and hub.
func New(cfg utils.ShellConfig, db *sql.DB, hub *events.Hub, logger *zap.Logger) *Backend {
	source := mangadex.NewClient(
		cfg.MangaDex.BaseURL,
		cfg.MangaDex.RequestTimeout,
		cfg.MangaDex.RateLimit,
		cfg.MangaDex.UserAgent,
	)
	var store Store
	if db != nil {
		store = storeAdapter{repo: manga.NewRepo(db)}
	}
	var emitter Emitter
	if hub != nil {
		emitter = hub
	}
	return NewWithSource(cfg, source, store, emitter, logger)
}

func NewWithSource(cfg utils.ShellConfig, source MangaSource, store Store, hub Emitter, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := rpc.NewRouter()
	p := &procedures{source: source, store: store, events: hub, logger: logger}
	p.register(router)

	tokens := auth.TokenService{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Duration: cfg.Auth.JWTDuration,
	}
	g := grpcbridge.NewGRPCServer(tokens, logger)
	grpcbridge.NewServer(router, logger).Register(g)

	return &Backend{
		Router: router,
		addr:   cfg.BridgeAddr,
		grpc:   g,
		logger: logger,
	}
}

// Listen binds the bridge address. Binding before the shell starts means
// the shell's first call finds the bridge accepting connections.
func (b *Backend) Listen() (net.Listener, error) {
	lis, err := net.Listen("tcp", b.addr)
	if err != nil {
		return nil, fmt.Errorf("bridge listen %s: %w", b.addr, err)
	}
	return lis, nil
}

// Serve listens on the bridge address until ctx is done.
func (b *Backend) Serve(ctx context.Context) error {
	lis, err := b.Listen()
	if err != nil {
		return err
	}
	return b.ServeListener(ctx, lis)
}

func (b *Backend) ServeListener(ctx context.Context, lis net.Listener) error {
	b.logger.Info("bridge listening",
		zap.String("addr", lis.Addr().String()),
		zap.Strings("procedures", b.Router.Keys()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	stopped := make(chan struct{})
	go func() {
		b.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		b.grpc.Stop()
	}
	<-errCh
	b.logger.Info("bridge stopped")
	return nil
}
