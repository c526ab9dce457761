package llr

import (
	"strings"
	"testing"

	"github.com/fabio-d/rawcompr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRefs(t *testing.T) *PacketReferences {
	refs := NewPacketReferences()
	refs.AddVideoStream("bgr24")
	refs.AddCopyStream()
	return refs
}

func TestAddPacketReferenceKeepsSortedOrder(t *testing.T) {
	refs := newTestRefs(t)

	require.NoError(t, refs.AddPacketReference(0, 1, 40, 5000, 100))
	require.NoError(t, refs.AddPacketReference(0, 0, 0, 1000, 100))
	require.NoError(t, refs.AddPacketReference(1, 0, 0, 3000, 100))

	table := refs.Table()
	require.Len(t, table, 3)
	assert.EqualValues(t, 1000, table[0].OrigPos)
	assert.EqualValues(t, 3000, table[1].OrigPos)
	assert.EqualValues(t, 5000, table[2].OrigPos)
	assert.EqualValues(t, 0, table[0].StreamIndex)
	assert.EqualValues(t, 1, table[1].StreamIndex)
}

func TestAddPacketReferenceDuplicate(t *testing.T) {
	refs := newTestRefs(t)

	require.NoError(t, refs.AddPacketReference(0, 0, 0, 1000, 100))
	err := refs.AddPacketReference(0, 1, 40, 1000, 50)
	assert.ErrorIs(t, err, rawcompr.ErrInternalBug)
}

func TestAddPacketReferenceOverlapWithSuccessor(t *testing.T) {
	refs := newTestRefs(t)

	require.NoError(t, refs.AddPacketReference(0, 0, 0, 1000, 100))
	// [950, 1050) overlaps the start of the existing entry.
	err := refs.AddPacketReference(0, 1, 40, 950, 100)
	assert.ErrorIs(t, err, rawcompr.ErrInternalBug)
}

func TestAddPacketReferenceOverlapWithPredecessor(t *testing.T) {
	refs := newTestRefs(t)

	require.NoError(t, refs.AddPacketReference(0, 0, 0, 1000, 100))
	// [1050, 1150) overlaps the tail of the existing entry.
	err := refs.AddPacketReference(0, 1, 40, 1050, 100)
	assert.ErrorIs(t, err, rawcompr.ErrInternalBug)
}

func TestAddPacketReferenceAdjacentRangesAllowed(t *testing.T) {
	refs := newTestRefs(t)

	require.NoError(t, refs.AddPacketReference(0, 0, 0, 1000, 100))
	assert.NoError(t, refs.AddPacketReference(0, 1, 40, 1100, 100))
	assert.NoError(t, refs.AddPacketReference(0, 2, 80, 900, 100))
}

func TestAddPacketReferenceZeroSize(t *testing.T) {
	refs := newTestRefs(t)
	err := refs.AddPacketReference(0, 0, 0, 1000, 0)
	assert.ErrorIs(t, err, rawcompr.ErrInternalBug)
}

func TestAddPacketReferenceUndeclaredStream(t *testing.T) {
	refs := NewPacketReferences()
	refs.AddCopyStream()

	err := refs.AddPacketReference(1, 0, 0, 1000, 100)
	assert.ErrorIs(t, err, rawcompr.ErrInternalBug)
}

func TestReverseIndex(t *testing.T) {
	refs := newTestRefs(t)

	require.NoError(t, refs.AddPacketReference(0, 0, 0, 1000, 100))
	require.NoError(t, refs.AddPacketReference(0, 1, 40, 3000, 200))
	require.NoError(t, refs.AddPacketReference(1, 0, 0, 2000, 150))

	index := refs.ReverseIndex()
	require.Len(t, index, 3)

	target, ok := index[ReverseKey{StreamIndex: 0, PacketIndex: 1, Pts: 40}]
	require.True(t, ok)
	assert.EqualValues(t, 3000, target.OrigPos)
	assert.EqualValues(t, 200, target.OrigSize)
	assert.Equal(t, 2, target.EntryIndex) // entries are ordered by OrigPos

	target, ok = index[ReverseKey{StreamIndex: 1, PacketIndex: 0, Pts: 0}]
	require.True(t, ok)
	assert.EqualValues(t, 2000, target.OrigPos)
}

func TestDump(t *testing.T) {
	refs := newTestRefs(t)
	require.NoError(t, refs.AddPacketReference(0, 0, 0, 1000, 100))

	var sb strings.Builder
	refs.Dump(&sb)

	assert.Contains(t, sb.String(), "Stream #0:0: video bgr24")
	assert.Contains(t, sb.String(), "Stream #0:1: copy")
	assert.Contains(t, sb.String(), "1000-1100: Stream #0:0 (index 0) - pts 0 size 100")
}
