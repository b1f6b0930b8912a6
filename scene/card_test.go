package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/elmachotroso/unreal-devtoolbox-sub009/atlas"
	"github.com/elmachotroso/unreal-devtoolbox-sub009/logging"
)

func newTestScene(t *testing.T, widthPages uint32, heightPages uint32) Scene {
	sceneIface, err := NewScene(*logging.CreateSilentLogger(), &Options{
		Options: atlas.Options{
			AtlasWidthPages:  widthPages,
			AtlasHeightPages: heightPages,
			PageSizeTexels:   128,
		},
	})
	assert.Nil(t, err)
	return sceneIface
}

func TestCardLifecycle(t *testing.T) {

	t.Run("Test card indices are stable and recycled", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		a := sceneIface.CreateCard(0, 0)
		b := sceneIface.CreateCard(0, 0)
		assert.Equal(t, uint32(0), a)
		assert.Equal(t, uint32(1), b)

		assert.Nil(t, sceneIface.DestroyCard(a))
		assert.ErrorIs(t, sceneIface.DestroyCard(a), ErrCardNotFound)

		c := sceneIface.CreateCard(0, 0)
		assert.Equal(t, a, c)
	})

	t.Run("Test destroy force frees every level", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)

		cardIndex := sceneIface.CreateCard(0, 0)
		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 7, false))
		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 8, false))
		mm := scs.cards[cardIndex].mipMaps[7]
		sceneIface.MapSurfaceCachePage(mm.spanOffset, UpdateContext{Frame: 1})

		assert.Nil(t, sceneIface.DestroyCard(cardIndex))
		assert.Equal(t, 16, scs.allocator.FreePageCount())
		assert.Equal(t, 1, scs.pageTable.Len()) // only the reserved slot
		assert.Equal(t, 0, scs.reclaimHeap.Len())
	})
}

func TestVirtualAllocation(t *testing.T) {

	t.Run("Test page grid and span from resolution level", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)
		cardIndex := sceneIface.CreateCard(0, 0)

		// 256 texels on 128 texel pages is a 2x2 grid
		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 8, false))
		mm := scs.cards[cardIndex].mipMaps[8]
		assert.Equal(t, uint32(2), mm.pageGridX)
		assert.Equal(t, uint32(2), mm.pageGridY)
		assert.Equal(t, uint32(4), mm.spanSize)
		assert.Equal(t, uint32(0), mm.elementSize)

		for i := mm.spanOffset; i < mm.spanOffset+mm.spanSize; i++ {
			entry := scs.pageTable.Entry(i)
			assert.Equal(t, cardIndex, entry.CardIndex)
			assert.Equal(t, uint8(8), entry.OwnerLevel)
			assert.False(t, entry.IsMapped())
			assert.Equal(t, i, entry.SampleEntry) // trivial self sample
		}
	})

	t.Run("Test aspect bias clamps each axis independently", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)
		cardIndex := sceneIface.CreateCard(-1, 0)

		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 8, false))
		mm := scs.cards[cardIndex].mipMaps[8]
		assert.Equal(t, uint8(7), mm.resLevelX)
		assert.Equal(t, uint8(8), mm.resLevelY)
		assert.Equal(t, uint32(1), mm.pageGridX)
		assert.Equal(t, uint32(2), mm.pageGridY)
	})

	t.Run("Test sub page eligibility needs a single page grid", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)
		cardIndex := sceneIface.CreateCard(0, 0)

		// 32 texels fits well inside one page, bins at 32
		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 5, false))
		assert.Equal(t, uint32(32), scs.cards[cardIndex].mipMaps[5].elementSize)

		// exactly one page is a whole page entry, not a bin slot
		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 7, false))
		assert.Equal(t, uint32(0), scs.cards[cardIndex].mipMaps[7].elementSize)
	})

	t.Run("Test interior page edges carry the half texel border", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)
		cardIndex := sceneIface.CreateCard(0, 0)

		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 8, false))
		mm := scs.cards[cardIndex].mipMaps[8]
		halfTexel := float32(0.5) / 256

		topLeft := scs.pageTable.Entry(mm.spanOffset).CardUVRect
		assert.Equal(t, float32(0), topLeft[0]) // atlas border stays put
		assert.Equal(t, float32(0), topLeft[1])
		assert.Equal(t, 0.5-halfTexel, topLeft[2]) // interior edges pull in
		assert.Equal(t, 0.5-halfTexel, topLeft[3])

		bottomRight := scs.pageTable.Entry(mm.spanOffset + 3).CardUVRect
		assert.Equal(t, 0.5+halfTexel, bottomRight[0])
		assert.Equal(t, 0.5+halfTexel, bottomRight[1])
		assert.Equal(t, float32(1), bottomRight[2])
		assert.Equal(t, float32(1), bottomRight[3])
	})

	t.Run("Test realloc with same lock value changes nothing", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)
		cardIndex := sceneIface.CreateCard(0, 0)

		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 8, false))
		offset := scs.cards[cardIndex].mipMaps[8].spanOffset
		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 8, false))
		assert.Equal(t, offset, scs.cards[cardIndex].mipMaps[8].spanOffset)
	})

	t.Run("Test lock toggle migrates mapped entries between heaps", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)
		cardIndex := sceneIface.CreateCard(0, 0)

		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 7, false))
		offset := scs.cards[cardIndex].mipMaps[7].spanOffset
		sceneIface.MapSurfaceCachePage(offset, UpdateContext{Frame: 5})
		assert.Equal(t, 1, scs.reclaimHeap.Len())

		// locking removes from the reclaimable heap, span untouched
		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 7, true))
		assert.Equal(t, 0, scs.reclaimHeap.Len())
		assert.Equal(t, offset, scs.cards[cardIndex].mipMaps[7].spanOffset)
		assert.True(t, scs.pageTable.Entry(offset).IsMapped())

		// unlocking re-inserts with the recorded frame
		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 7, false))
		assert.Equal(t, 1, scs.reclaimHeap.Len())
	})

	t.Run("Test min max allocated level bookkeeping", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		scs := sceneIface.(*surfaceCacheScene)
		cardIndex := sceneIface.CreateCard(0, 0)

		assert.Equal(t, LEVEL_NONE, scs.cards[cardIndex].minAllocatedLevel)

		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 5, false))
		assert.Nil(t, sceneIface.ReallocVirtualSurface(cardIndex, 8, false))
		assert.Equal(t, uint8(5), scs.cards[cardIndex].minAllocatedLevel)
		assert.Equal(t, uint8(8), scs.cards[cardIndex].maxAllocatedLevel)

		assert.Nil(t, sceneIface.FreeVirtualSurface(cardIndex, 8, 8))
		assert.Equal(t, uint8(5), scs.cards[cardIndex].minAllocatedLevel)
		assert.Equal(t, uint8(5), scs.cards[cardIndex].maxAllocatedLevel)

		assert.Nil(t, sceneIface.FreeVirtualSurface(cardIndex, 0, MAX_RES_LEVEL))
		assert.Equal(t, LEVEL_NONE, scs.cards[cardIndex].minAllocatedLevel)
		assert.Equal(t, LEVEL_NONE, scs.cards[cardIndex].maxAllocatedLevel)
	})

	t.Run("Test level validation", func(t *testing.T) {
		sceneIface := newTestScene(t, 4, 4)
		cardIndex := sceneIface.CreateCard(0, 0)
		assert.ErrorIs(t, sceneIface.ReallocVirtualSurface(cardIndex, 14, false), ErrBadLevel)
		assert.ErrorIs(t, sceneIface.ReallocVirtualSurface(99, 5, false), ErrCardNotFound)
	})
}
