package surfaces

import (
	"testing"

	"meetjoin/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGrid_ReservedSurfaces(t *testing.T) {
	g := NewGrid(zap.NewNop().Sugar())

	assert.Equal(t, LocalSurfaceID, g.LocalSurface().SurfaceID())
	assert.Equal(t, PreviewSurfaceID, g.PreviewSurface().SurfaceID())
	assert.Same(t, g.LocalSurface(), g.LocalSurface())
}

func TestGrid_RemoteLifecycle(t *testing.T) {
	g := NewGrid(zap.NewNop().Sugar())

	s, err := g.CreateRemoteSurface(7)
	require.NoError(t, err)
	assert.Equal(t, "tile-7", s.SurfaceID())
	assert.Equal(t, 1, g.RemoteCount())

	_, err = g.CreateRemoteSurface(7)
	assert.ErrorIs(t, err, ErrSurfaceExists)

	require.NoError(t, g.RemoveRemoteSurface(7))
	assert.ErrorIs(t, g.RemoveRemoteSurface(7), ErrSurfaceNotFound)
	assert.Zero(t, g.RemoteCount())
}

func TestGrid_SnapshotCountsPackets(t *testing.T) {
	g := NewGrid(zap.NewNop().Sugar())

	for _, id := range []domain.TileID{9, 3} {
		_, err := g.CreateRemoteSurface(id)
		require.NoError(t, err)
	}
	remote, _ := g.CreateRemoteSurface(5)
	w := remote.(*Surface)
	require.NoError(t, w.WriteRTP(&rtp.Packet{Payload: make([]byte, 100)}))
	require.NoError(t, w.WriteRTP(&rtp.Packet{Payload: make([]byte, 20)}))

	snap := g.Snapshot()
	require.Len(t, snap, 5)
	assert.Equal(t, LocalSurfaceID, snap[0].SurfaceID)
	assert.Equal(t, PreviewSurfaceID, snap[1].SurfaceID)
	assert.Nil(t, snap[0].LastPacketAt)

	var order []string
	for _, st := range snap[2:] {
		order = append(order, st.SurfaceID)
		assert.Equal(t, RemoteCollection, st.Collection)
	}
	assert.Equal(t, []string{"tile-3", "tile-5", "tile-9"}, order)

	assert.Equal(t, uint64(2), snap[3].Packets)
	assert.Equal(t, uint64(120), snap[3].Bytes)
	assert.Equal(t, 5, snap[3].TileID)
	assert.NotNil(t, snap[3].LastPacketAt)
}
