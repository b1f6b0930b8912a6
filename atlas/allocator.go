package atlas

import (
	"github.com/phuslu/log"

	"github.com/elmachotroso/unreal-devtoolbox-sub009/utils/freelist"
)

/*
Physical atlas page grid
┌─────────────┬─────────────┬─────────────┐
| whole page  | bin 32x32   | free        |
| entry       | 4x4 slots   |             |
├─────────────┼─────────────┼─────────────┤
| free        | whole page  | bin 16x16   |
|             | entry       | 8x8 slots   |
└─────────────┴─────────────┴─────────────┘
Every page is either on the free list, exclusively owned by one whole
page entry, or subdivided by exactly one bin allocation.
*/

type surfaceCacheAllocator struct {
	logger log.Logger
	option *Options
	// one occupancy bit per page, slot index y * width + x. A page is
	// free exactly when its slot is free, so a double free is caught
	// at the bitmap.
	freePages *freelist.BitmapFreeList
	bins      []*pageBin // one per distinct element size
}

func NewAllocator(logger log.Logger, option *Options) (Allocator, error) {
	if option.PageSizeTexels == 0 {
		option.PageSizeTexels = 128
	}
	if option.PageSizeTexels < MIN_PAGE_SIZE_TEXELS || option.PageSizeTexels > MAX_PAGE_SIZE_TEXELS ||
		option.PageSizeTexels&(option.PageSizeTexels-1) != 0 {
		return nil, ErrBadAtlasOptions
	}
	if option.AtlasWidthPages == 0 || option.AtlasHeightPages == 0 ||
		option.AtlasWidthPages > MAX_ATLAS_SIZE_PAGES || option.AtlasHeightPages > MAX_ATLAS_SIZE_PAGES {
		return nil, ErrBadAtlasOptions
	}

	sca := &surfaceCacheAllocator{
		logger: logger,
		option: option,
	}
	sca.Init(option.AtlasWidthPages, option.AtlasHeightPages)
	return sca, nil
}

func (sca *surfaceCacheAllocator) Init(widthPages uint32, heightPages uint32) {
	sca.option.AtlasWidthPages = widthPages
	sca.option.AtlasHeightPages = heightPages

	// allocation order is deterministic but callers must not rely on it
	sca.freePages = freelist.NewBitmapFreeList(widthPages * heightPages)
	sca.bins = sca.bins[:0]

	sca.logger.Debug().Msgf("atlas init %dx%d pages of %d texels", widthPages, heightPages, sca.option.PageSizeTexels)
}

func (sca *surfaceCacheAllocator) pageSlot(coord PageCoord) uint32 {
	return coord.Y*sca.option.AtlasWidthPages + coord.X
}

func (sca *surfaceCacheAllocator) popFreePage() (PageCoord, bool) {
	slot, ok := sca.freePages.Take()
	if !ok {
		return InvalidPageCoord(), false
	}
	return PageCoord{
		X: slot % sca.option.AtlasWidthPages,
		Y: slot / sca.option.AtlasWidthPages,
	}, true
}

// releasePage marks a page free again, false when it already was.
func (sca *surfaceCacheAllocator) releasePage(coord PageCoord) bool {
	return sca.freePages.Release(sca.pageSlot(coord))
}

func (sca *surfaceCacheAllocator) wholePageRect(coord PageCoord) Rect {
	pageSize := sca.option.PageSizeTexels
	return Rect{
		MinX: coord.X * pageSize,
		MinY: coord.Y * pageSize,
		MaxX: (coord.X + 1) * pageSize,
		MaxY: (coord.Y + 1) * pageSize,
	}
}

func (sca *surfaceCacheAllocator) Allocate(desc EntryDesc) Allocation {

	if desc.ElementSizeTexels != 0 {
		return sca.allocateBinSlot(desc.ElementSizeTexels)
	}

	coord, ok := sca.popFreePage()
	if !ok {
		// backpressure, caller falls back to a coarser resident level
		sca.logger.Debug().Msg("atlas exhausted, whole page allocation failed")
		return InvalidAllocation()
	}

	return Allocation{
		PageCoord: coord,
		TexelRect: sca.wholePageRect(coord),
	}
}

func (sca *surfaceCacheAllocator) Free(desc EntryDesc, alloc Allocation) error {

	if !alloc.IsValid() {
		return ErrInvalidFree
	}
	if alloc.PageCoord.X >= sca.option.AtlasWidthPages || alloc.PageCoord.Y >= sca.option.AtlasHeightPages {
		return ErrPageOutOfRange
	}

	if desc.ElementSizeTexels != 0 {
		if !validElementSize(desc.ElementSizeTexels, sca.option.PageSizeTexels) {
			return ErrBadElementSize
		}
		return sca.freeBinSlot(desc.ElementSizeTexels, alloc)
	}

	if !sca.releasePage(alloc.PageCoord) {
		return ErrInvalidFree
	}
	return nil
}

func (sca *surfaceCacheAllocator) IsSpaceAvailable(desc EntryDesc, pageCount uint32, singlePageOnly bool) bool {

	if desc.ElementSizeTexels != 0 {
		if bin := sca.findBin(desc.ElementSizeTexels); bin != nil {
			for _, alloc := range bin.allocations {
				if alloc.slots.FreeCount() > 0 {
					return true
				}
			}
		}
		return sca.freePages.FreeCount() > 0
	}

	if singlePageOnly {
		return sca.freePages.FreeCount() > 0
	}
	return sca.freePages.FreeCount() >= pageCount
}

func (sca *surfaceCacheAllocator) FreePageCount() int {
	return int(sca.freePages.FreeCount())
}

func (sca *surfaceCacheAllocator) TotalPageCount() int {
	return int(sca.option.AtlasWidthPages * sca.option.AtlasHeightPages)
}

func (sca *surfaceCacheAllocator) Stats() Stats {
	stats := Stats{
		TotalPages: sca.TotalPageCount(),
		FreePages:  sca.FreePageCount(),
	}
	for _, bin := range sca.bins {
		binStats := BinStats{
			ElementSizeTexels: bin.elementSizeTexels,
			Pages:             len(bin.allocations),
		}
		for _, alloc := range bin.allocations {
			free := alloc.slots.FreeCount()
			binStats.FreeSlots += free
			binStats.UsedSlots += bin.slotsPerPage() - free
		}
		stats.Bins = append(stats.Bins, binStats)
	}
	return stats
}
