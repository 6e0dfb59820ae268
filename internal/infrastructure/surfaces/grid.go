package surfaces

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

const (
	LocalSurfaceID    = "video-local"
	PreviewSurfaceID  = "video-preview"
	RemoteCollection  = "remote-grid"
	remoteSurfaceName = "tile-"
)

var (
	ErrSurfaceExists   = errors.New("surface already exists")
	ErrSurfaceNotFound = errors.New("surface not found")
)

// Surface is a headless render target. It accepts RTP packets and keeps
// counters instead of drawing.
type Surface struct {
	id         string
	collection string

	packets    atomic.Uint64
	bytes      atomic.Uint64
	lastPacket atomic.Int64
}

func newSurface(id, collection string) *Surface {
	return &Surface{id: id, collection: collection}
}

func (s *Surface) SurfaceID() string { return s.id }

// WriteRTP counts p against the surface.
func (s *Surface) WriteRTP(p *rtp.Packet) error {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(p.Payload)))
	s.lastPacket.Store(time.Now().UnixNano())
	return nil
}

// SurfaceStats is a point-in-time view of one surface.
type SurfaceStats struct {
	SurfaceID    string     `json:"surface_id"`
	Collection   string     `json:"collection,omitempty"`
	TileID       int        `json:"tile_id,omitempty"`
	Packets      uint64     `json:"packets"`
	Bytes        uint64     `json:"bytes"`
	LastPacketAt *time.Time `json:"last_packet_at,omitempty"`
}

func (s *Surface) stats() SurfaceStats {
	st := SurfaceStats{
		SurfaceID:  s.id,
		Collection: s.collection,
		Packets:    s.packets.Load(),
		Bytes:      s.bytes.Load(),
	}
	if ns := s.lastPacket.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		st.LastPacketAt = &t
	}
	return st
}

// Grid implements ports.SurfaceProvider without a display. The local and
// preview surfaces exist for the lifetime of the grid; remote surfaces are
// created per tile inside the remote collection.
type Grid struct {
	local   *Surface
	preview *Surface
	logger  *zap.SugaredLogger

	mu     sync.RWMutex
	remote map[domain.TileID]*Surface
}

var _ ports.SurfaceProvider = (*Grid)(nil)

func NewGrid(logger *zap.SugaredLogger) *Grid {
	return &Grid{
		local:   newSurface(LocalSurfaceID, ""),
		preview: newSurface(PreviewSurfaceID, ""),
		logger:  logger,
		remote:  make(map[domain.TileID]*Surface),
	}
}

func (g *Grid) LocalSurface() ports.Surface { return g.local }

// PreviewSurface is the target used by the control API for camera preview.
func (g *Grid) PreviewSurface() ports.Surface { return g.preview }

func (g *Grid) CreateRemoteSurface(tileID domain.TileID) (ports.Surface, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.remote[tileID]; ok {
		return nil, fmt.Errorf("tile %d: %w", tileID, ErrSurfaceExists)
	}
	s := newSurface(remoteSurfaceName+tileID.String(), RemoteCollection)
	g.remote[tileID] = s
	g.logger.Debugw("remote surface inserted", "tile_id", tileID, "surface_id", s.id)
	return s, nil
}

func (g *Grid) RemoveRemoteSurface(tileID domain.TileID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.remote[tileID]
	if !ok {
		return fmt.Errorf("tile %d: %w", tileID, ErrSurfaceNotFound)
	}
	delete(g.remote, tileID)
	g.logger.Debugw("remote surface removed", "tile_id", tileID, "surface_id", s.id)
	return nil
}

// RemoteCount returns the number of surfaces in the remote collection.
func (g *Grid) RemoteCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.remote)
}

// Snapshot lists the local and preview surfaces followed by remote surfaces
// in tile order.
func (g *Grid) Snapshot() []SurfaceStats {
	g.mu.RLock()
	ids := make([]domain.TileID, 0, len(g.remote))
	for id := range g.remote {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]SurfaceStats, 0, len(ids)+2)
	out = append(out, g.local.stats(), g.preview.stats())
	for _, id := range ids {
		st := g.remote[id].stats()
		st.TileID = int(id)
		out = append(out, st)
	}
	g.mu.RUnlock()
	return out
}
