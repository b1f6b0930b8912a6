package scene

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub009/atlas"
	"github.com/elmachotroso/unreal-devtoolbox-sub009/pagetable"
)

// MapSurfaceCachePage gives one entry physical backing. No-op when
// already mapped. Allocation failure is also a no-op, the caller
// relies on mip hierarchy fallback instead of treating it as fatal.
func (scs *surfaceCacheScene) MapSurfaceCachePage(entryIndex uint32, ctx UpdateContext) {

	entry := scs.pageTable.Entry(entryIndex)
	if entry.CardIndex == pagetable.INVALID_CARD_INDEX || entry.IsMapped() {
		return
	}

	alloc := scs.allocator.Allocate(atlas.EntryDesc{ElementSizeTexels: entry.ElementSizeTexels})
	if !alloc.IsValid() {
		// backpressure, stays unmapped and samples an ancestor
		return
	}

	entry.PageCoord = alloc.PageCoord
	entry.PhysicalRect = alloc.TexelRect
	entry.SampleEntry = entryIndex
	entry.SampleAtlasBiasX = uint16(alloc.PageCoord.X)
	entry.SampleAtlasBiasY = uint16(alloc.PageCoord.Y)
	entry.SampleResLevelX = entry.ResLevelX
	entry.SampleResLevelY = entry.ResLevelY
	entry.LastSampledFrame = ctx.Frame

	mm := &scs.cards[entry.CardIndex].mipMaps[entry.OwnerLevel]
	mm.everMapped = true

	scs.contextHeap(ctx.Context).Update(entryIndex, ctx.Frame)
	if !mm.locked {
		scs.reclaimHeap.Update(entryIndex, ctx.Frame)
	}
}

// UnmapSurfaceCachePage returns an entry's physical backing to the
// allocator and clears it from every heap. No-op when unmapped.
func (scs *surfaceCacheScene) UnmapSurfaceCachePage(entryIndex uint32) {

	entry := scs.pageTable.Entry(entryIndex)
	if !entry.IsMapped() {
		return
	}

	scs.reclaimHeap.Remove(entryIndex)
	for _, heap := range scs.contextHeaps {
		heap.Remove(entryIndex)
	}

	err := scs.allocator.Free(
		atlas.EntryDesc{ElementSizeTexels: entry.ElementSizeTexels},
		atlas.Allocation{PageCoord: entry.PageCoord, TexelRect: entry.PhysicalRect},
	)
	if err != nil {
		scs.logger.Error().Err(err).Msgf("physical free failed for entry %d", entryIndex)
	}

	entry.PageCoord = atlas.InvalidPageCoord()
	entry.PhysicalRect = atlas.Rect{}
	entry.ResetSample(entryIndex)
}

// touchEntry refreshes the LRU clock of an already mapped entry.
func (scs *surfaceCacheScene) touchEntry(entryIndex uint32, ctx UpdateContext) {

	entry := scs.pageTable.Entry(entryIndex)
	entry.LastSampledFrame = ctx.Frame

	scs.contextHeap(ctx.Context).Update(entryIndex, ctx.Frame)
	if scs.reclaimHeap.Contains(entryIndex) {
		scs.reclaimHeap.Update(entryIndex, ctx.Frame)
	}
}

// EvictOldestAllocation reclaims the globally oldest unlocked entry if
// it has been cold for more than maxFramesSinceLastUsed frames. A
// threshold of zero evicts unconditionally, used for full cache
// clears. Returns false without mutating anything otherwise.
func (scs *surfaceCacheScene) EvictOldestAllocation(maxFramesSinceLastUsed uint32, ctx UpdateContext) bool {
	_, ok := scs.evictOldest(maxFramesSinceLastUsed, ctx)
	return ok
}

// evictOldest additionally reports the victim's card so the update pass
// can schedule hierarchy repair for it. Eviction is a structural change
// for the owning card, not just for the card whose demand triggered it.
func (scs *surfaceCacheScene) evictOldest(maxFramesSinceLastUsed uint32, ctx UpdateContext) (uint32, bool) {

	entryIndex, frame, ok := scs.reclaimHeap.Peek()
	if !ok {
		return pagetable.INVALID_CARD_INDEX, false
	}
	if maxFramesSinceLastUsed != 0 && ctx.Frame-frame <= maxFramesSinceLastUsed {
		return pagetable.INVALID_CARD_INDEX, false
	}

	scs.reclaimHeap.Pop()
	victimCard := scs.pageTable.Entry(entryIndex).CardIndex
	if scs.pageTable.Entry(entryIndex).IsMapped() {
		scs.UnmapSurfaceCachePage(entryIndex)
	}
	scs.logger.Debug().Msgf("evicted entry %d last sampled frame %d", entryIndex, frame)
	return victimCard, true
}
