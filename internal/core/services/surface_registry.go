package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"

	"go.uber.org/zap"
)

const stopVideoInputTimeout = 5 * time.Second

type remoteSurface struct {
	info    domain.ParticipantSurface
	surface ports.Surface
}

// SurfaceRegistry maps tiles to rendering surfaces. It is a SessionObserver
// and never lets an error or inconsistency escape a callback.
type SurfaceRegistry struct {
	session  ports.TileBinder
	surfaces ports.SurfaceProvider
	sink     ports.EventSink
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	remote    map[domain.TileID]remoteSurface
	localTile *domain.ParticipantSurface
	started   bool
}

func NewSurfaceRegistry(
	session ports.TileBinder,
	surfaces ports.SurfaceProvider,
	sink ports.EventSink,
	logger *zap.SugaredLogger,
) *SurfaceRegistry {
	return &SurfaceRegistry{
		session:  session,
		surfaces: surfaces,
		sink:     sink,
		logger:   logger,
		remote:   make(map[domain.TileID]remoteSurface),
	}
}

func (r *SurfaceRegistry) AudioVideoDidStart() {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	r.logger.Infow("audio/video started")
	r.record(ports.EventAudioVideoStarted, nil)
}

// AudioVideoDidStop releases the local video input. Remote surfaces stay
// until their own removal events arrive.
func (r *SurfaceRegistry) AudioVideoDidStop(status domain.SessionStatus) {
	r.mu.Lock()
	r.started = false
	r.mu.Unlock()

	r.logger.Infow("audio/video stopped",
		"status", status.Code,
		"reason", status.Reason,
	)
	r.record(ports.EventAudioVideoStopped, map[string]string{"status": string(status.Code)})

	ctx, cancel := context.WithTimeout(context.Background(), stopVideoInputTimeout)
	defer cancel()
	if err := r.session.StopVideoInput(ctx); err != nil {
		r.logger.Warnw("failed to stop video input after session stop", "error", err)
	}
}

func (r *SurfaceRegistry) VideoTileDidUpdate(tile domain.TileState) {
	if tile.IsLocal {
		r.bindLocal(tile)
		return
	}
	r.bindRemote(tile)
}

func (r *SurfaceRegistry) bindLocal(tile domain.TileState) {
	surface := r.surfaces.LocalSurface()
	if surface == nil {
		r.inconsistent("local surface missing", tile.TileID)
		return
	}

	if err := r.session.BindVideoElement(tile.TileID, surface); err != nil {
		r.logger.Warnw("failed to bind local tile",
			"tile_id", tile.TileID,
			"surface_id", surface.SurfaceID(),
			"error", err,
		)
		return
	}

	r.mu.Lock()
	r.localTile = &domain.ParticipantSurface{
		TileID:    tile.TileID,
		SurfaceID: surface.SurfaceID(),
		IsLocal:   true,
	}
	r.mu.Unlock()
}

func (r *SurfaceRegistry) bindRemote(tile domain.TileState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.remote[tile.TileID]
	if !ok {
		surface, err := r.surfaces.CreateRemoteSurface(tile.TileID)
		if err != nil || surface == nil {
			r.logger.Warnw("failed to create remote surface",
				"tile_id", tile.TileID,
				"attendee_id", tile.AttendeeID,
				"error", err,
			)
			r.record(ports.EventSurfaceInconsistent, map[string]string{"reason": "create_failed"})
			return
		}
		entry = remoteSurface{
			info: domain.ParticipantSurface{
				TileID:    tile.TileID,
				SurfaceID: surface.SurfaceID(),
			},
			surface: surface,
		}
		r.remote[tile.TileID] = entry
		r.logger.Infow("remote surface created",
			"tile_id", tile.TileID,
			"attendee_id", tile.AttendeeID,
			"surface_id", entry.info.SurfaceID,
		)
		r.record(ports.EventSurfaceCreated, nil)
	}

	if err := r.session.BindVideoElement(tile.TileID, entry.surface); err != nil {
		r.logger.Warnw("failed to bind remote tile",
			"tile_id", tile.TileID,
			"surface_id", entry.info.SurfaceID,
			"error", err,
		)
	}
}

// VideoTileWasRemoved destroys the surface for tileID. Unknown ids are
// ignored.
func (r *SurfaceRegistry) VideoTileWasRemoved(tileID domain.TileID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.localTile != nil && r.localTile.TileID == tileID {
		r.localTile = nil
		return
	}

	entry, ok := r.remote[tileID]
	if !ok {
		r.logger.Debugw("removal for unknown tile ignored", "tile_id", tileID)
		return
	}
	delete(r.remote, tileID)

	if err := r.surfaces.RemoveRemoteSurface(tileID); err != nil {
		r.inconsistent("remote surface already gone", tileID)
	}
	r.logger.Infow("remote surface removed",
		"tile_id", tileID,
		"surface_id", entry.info.SurfaceID,
	)
	r.record(ports.EventSurfaceRemoved, nil)
}

// Surfaces lists remote surfaces ordered by tile id.
func (r *SurfaceRegistry) Surfaces() []domain.ParticipantSurface {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.ParticipantSurface, 0, len(r.remote))
	for _, e := range r.remote {
		out = append(out, e.info)
	}
	slices.SortFunc(out, func(a, b domain.ParticipantSurface) int {
		return int(a.TileID) - int(b.TileID)
	})
	return out
}

// LocalTile returns the binding of the local participant's tile.
func (r *SurfaceRegistry) LocalTile() (domain.ParticipantSurface, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.localTile == nil {
		return domain.ParticipantSurface{}, false
	}
	return *r.localTile, true
}

// Clear removes every remote surface. Used on teardown, when no further
// removal events will arrive.
func (r *SurfaceRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.remote {
		if err := r.surfaces.RemoveRemoteSurface(id); err != nil {
			r.logger.Debugw("surface already removed", "tile_id", id, "error", err)
		}
		r.record(ports.EventSurfaceRemoved, nil)
	}
	clear(r.remote)
	r.localTile = nil
}

func (r *SurfaceRegistry) inconsistent(msg string, tileID domain.TileID) {
	r.logger.Warnw(msg, "tile_id", tileID)
	r.record(ports.EventSurfaceInconsistent, map[string]string{"reason": msg})
}

func (r *SurfaceRegistry) record(name string, attrs map[string]string) {
	if r.sink != nil {
		r.sink.RecordEvent(name, attrs)
	}
}
