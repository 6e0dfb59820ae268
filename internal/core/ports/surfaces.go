package ports

import "meetjoin/internal/core/domain"

// Surface is a rendering target supplied by the UI layer.
type Surface interface {
	SurfaceID() string
}

// SurfaceProvider is implemented by the UI layer. LocalSurface is reserved
// and exists before any session does.
type SurfaceProvider interface {
	LocalSurface() Surface
	CreateRemoteSurface(tileID domain.TileID) (Surface, error)
	RemoveRemoteSurface(tileID domain.TileID) error
}
