package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// mapSingle allocates one whole page level and maps its only entry.
func mapSingle(t *testing.T, sceneIface Scene, cardIndex uint32, lock bool, frame uint32) uint32 {
	scs := sceneIface.(*surfaceCacheScene)
	assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 7, lock))
	entryIndex := scs.cards[cardIndex].mipMaps[7].spanOffset
	sceneIface.MapSurfaceCachePage(entryIndex, UpdateContext{Frame: frame})
	return entryIndex
}

func TestMapping(t *testing.T) {

	t.Run("Test map then unmap round trip restores occupancy", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)
		cardIndex := sceneIface.CreateCard(0, 0)

		freeBefore := scs.allocator.FreePageCount()
		entryIndex := mapSingle(t, sceneIface, cardIndex, false, 1)

		entry := scs.pageTable.Entry(entryIndex)
		assert.True(t, entry.IsMapped())
		assert.Equal(t, uint16(entry.PageCoord.X), entry.SampleAtlasBiasX)
		assert.Equal(t, entryIndex, entry.SampleEntry)
		assert.Equal(t, freeBefore-1, scs.allocator.FreePageCount())

		sceneIface.UnmapSurfaceCachePage(entryIndex)
		assert.False(t, entry.IsMapped())
		assert.Equal(t, entryIndex, entry.SampleEntry)
		assert.Equal(t, freeBefore, scs.allocator.FreePageCount())
		assert.Equal(t, 0, scs.reclaimHeap.Len())
	})

	t.Run("Test map is a no-op when already mapped", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)
		cardIndex := sceneIface.CreateCard(0, 0)

		entryIndex := mapSingle(t, sceneIface, cardIndex, false, 1)
		coord := scs.pageTable.Entry(entryIndex).PageCoord

		sceneIface.MapSurfaceCachePage(entryIndex, UpdateContext{Frame: 9})
		assert.Equal(t, coord, scs.pageTable.Entry(entryIndex).PageCoord)
		assert.Equal(t, uint32(1), scs.pageTable.Entry(entryIndex).LastSampledFrame)
	})

	t.Run("Test map on exhausted atlas is a silent no-op", func(t *testing.T) {
		sceneIface := newTestScene(t, 1, 1)
		scs := sceneIface.(*surfaceCacheScene)

		a := sceneIface.CreateCard(0, 0)
		b := sceneIface.CreateCard(0, 0)
		mapSingle(t, sceneIface, a, false, 1)
		entryIndex := mapSingle(t, sceneIface, b, false, 1)

		assert.False(t, scs.pageTable.Entry(entryIndex).IsMapped())
		assert.Equal(t, entryIndex, scs.pageTable.Entry(entryIndex).SampleEntry)
	})

	t.Run("Test unmap is a no-op when unmapped", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)
		cardIndex := sceneIface.CreateCard(0, 0)

		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 7, false))
		entryIndex := scs.cards[cardIndex].mipMaps[7].spanOffset
		freeBefore := scs.allocator.FreePageCount()
		sceneIface.UnmapSurfaceCachePage(entryIndex)
		assert.Equal(t, freeBefore, scs.allocator.FreePageCount())
	})
}

func TestEviction(t *testing.T) {

	t.Run("Test eviction ordering by last sampled frame", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)

		a := sceneIface.CreateCard(0, 0)
		b := sceneIface.CreateCard(0, 0)
		entryA := mapSingle(t, sceneIface, a, false, 10)
		entryB := mapSingle(t, sceneIface, b, false, 20)

		now := UpdateContext{Frame: 30}

		// 20 and 10 frames cold, neither is older than 25
		assert.False(t, sceneIface.EvictOldestAllocation(25, now))
		assert.True(t, scs.pageTable.Entry(entryA).IsMapped())

		assert.True(t, sceneIface.EvictOldestAllocation(5, now))
		assert.False(t, scs.pageTable.Entry(entryA).IsMapped())
		assert.True(t, scs.pageTable.Entry(entryB).IsMapped())

		assert.True(t, sceneIface.EvictOldestAllocation(5, now))
		assert.False(t, scs.pageTable.Entry(entryB).IsMapped())

		assert.False(t, sceneIface.EvictOldestAllocation(5, now))
	})

	t.Run("Test threshold zero evicts unconditionally", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		cardIndex := sceneIface.CreateCard(0, 0)
		mapSingle(t, sceneIface, cardIndex, false, 50)

		// same frame, still reclaimed
		assert.True(t, sceneIface.EvictOldestAllocation(0, UpdateContext{Frame: 50}))
		assert.False(t, sceneIface.EvictOldestAllocation(0, UpdateContext{Frame: 50}))
	})

	t.Run("Test locked entries are never evicted", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)
		cardIndex := sceneIface.CreateCard(0, 0)

		entryIndex := mapSingle(t, sceneIface, cardIndex, true, 0)
		assert.False(t, sceneIface.EvictOldestAllocation(0, UpdateContext{Frame: 100}))
		assert.True(t, scs.pageTable.Entry(entryIndex).IsMapped())

		// unlocking makes it eligible
		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 7, false))
		assert.True(t, sceneIface.EvictOldestAllocation(0, UpdateContext{Frame: 100}))
		assert.False(t, scs.pageTable.Entry(entryIndex).IsMapped())
	})

	t.Run("Test touch refreshes eviction order", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)

		a := sceneIface.CreateCard(0, 0)
		b := sceneIface.CreateCard(0, 0)
		entryA := mapSingle(t, sceneIface, a, false, 10)
		entryB := mapSingle(t, sceneIface, b, false, 20)

		// resampling A at frame 25 makes B the oldest
		scs.touchEntry(entryA, UpdateContext{Frame: 25})

		assert.True(t, sceneIface.EvictOldestAllocation(0, UpdateContext{Frame: 30}))
		assert.False(t, scs.pageTable.Entry(entryB).IsMapped())
		assert.True(t, scs.pageTable.Entry(entryA).IsMapped())
	})
}
