package backend

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mangashell/internal/events"
	"mangashell/internal/ipc"
	"mangashell/internal/mangadex"
	"mangashell/internal/rpc"
	"mangashell/pkg/models"
)

// MangaSource is the upstream the procedures read from.
type MangaSource interface {
	PopularTitles(ctx context.Context) (models.Collection[models.Manga], error)
	GetManga(ctx context.Context, id uuid.UUID) (models.Data[models.Manga], error)
}

// Store persists what the procedures fetched.
type Store interface {
	Upsert(ctx context.Context, items []models.Manga) error
	GetByID(ctx context.Context, id string) (*models.Manga, error)
}

// Emitter receives one event per fetched manga.
type Emitter interface {
	Broadcast(ev events.Event)
}

type procedures struct {
	source MangaSource
	store  Store
	events Emitter
	logger *zap.Logger
}

func (p *procedures) register(r *rpc.Router) {
	rpc.Register(r, ipc.PopularTitles, p.popularTitles)
	rpc.Register(r, ipc.MangaByID, p.mangaByID)
}

func (p *procedures) popularTitles(ctx context.Context, _ rpc.NoInput) (models.Collection[models.Manga], error) {
	result, err := p.source.PopularTitles(ctx)
	if err != nil {
		return models.Collection[models.Manga]{}, rpc.NewError(rpc.InternalServerError, "%v", err)
	}

	p.persist(ctx, result.Data)
	for _, m := range result.Data {
		p.emit(m)
	}
	return result, nil
}

func (p *procedures) mangaByID(ctx context.Context, in ipc.MangaQuery) (models.Data[models.Manga], error) {
	id, err := uuid.Parse(strings.TrimSpace(in.ID))
	if err != nil {
		return models.Data[models.Manga]{}, rpc.NewError(rpc.BadRequest, "invalid manga id %q", in.ID)
	}

	result, err := p.source.GetManga(ctx, id)
	switch {
	case err == nil:
		p.persist(ctx, []models.Manga{result.Data})
		p.emit(result.Data)
		return result, nil
	case mangadex.IsNotFound(err):
		return models.Data[models.Manga]{}, rpc.NewError(rpc.NotFound, "manga %s not found", id)
	case errors.Is(err, mangadex.ErrRequest):
		// upstream unreachable: fall back to the last snapshot
		if cached := p.lookup(ctx, id.String()); cached != nil {
			p.logger.Info("serving manga from snapshot", zap.String("id", id.String()), zap.Error(err))
			return models.Data[models.Manga]{Result: "ok", Response: "entity", Data: *cached}, nil
		}
	}
	return models.Data[models.Manga]{}, rpc.NewError(rpc.InternalServerError, "%v", err)
}

func (p *procedures) persist(ctx context.Context, items []models.Manga) {
	if p.store == nil {
		return
	}
	if err := p.store.Upsert(ctx, items); err != nil {
		p.logger.Warn("persist manga snapshot", zap.Int("items", len(items)), zap.Error(err))
	}
}

func (p *procedures) lookup(ctx context.Context, id string) *models.Manga {
	if p.store == nil {
		return nil
	}
	m, err := p.store.GetByID(ctx, id)
	if err != nil {
		p.logger.Warn("read manga snapshot", zap.String("id", id), zap.Error(err))
		return nil
	}
	return m
}

func (p *procedures) emit(m models.Manga) {
	if p.events == nil {
		return
	}
	p.events.Broadcast(events.NewEvent(events.TypeManga, ipc.EventName(m.ID), m))
}
