package atlas

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub009/utils/freelist"
)

/*
Bin page layout, element size 32 on a 128 texel page
┌──────┬──────┬──────┬──────┐
| s0   | s1   | s2   | s3   |
├──────┼──────┼──────┼──────┤
| s4   | ...  |      |      |
├──────┼──────┼──────┼──────┤
|      |      |      |      |
├──────┼──────┼──────┼──────┤
|      |      |      | s15  |
└──────┴──────┴──────┴──────┘
slot index = sy * elementsPerSide + sx
*/

// pageBin packs sub page allocations of one fixed element size.
type pageBin struct {
	elementSizeTexels uint32
	elementsPerSide   uint32
	allocations       []*pageBinAllocation
}

// pageBinAllocation owns one physical page subdivided into a fixed
// grid of element slots.
type pageBinAllocation struct {
	pageCoord PageCoord
	slots     *freelist.BitmapFreeList
}

func (bin *pageBin) slotsPerPage() uint32 {
	return bin.elementsPerSide * bin.elementsPerSide
}

func (sca *surfaceCacheAllocator) findBin(elementSizeTexels uint32) *pageBin {
	for _, bin := range sca.bins {
		if bin.elementSizeTexels == elementSizeTexels {
			return bin
		}
	}
	return nil
}

func validElementSize(elementSizeTexels uint32, pageSizeTexels uint32) bool {
	return elementSizeTexels < pageSizeTexels &&
		elementSizeTexels&(elementSizeTexels-1) == 0
}

func (sca *surfaceCacheAllocator) allocateBinSlot(elementSizeTexels uint32) Allocation {

	if !validElementSize(elementSizeTexels, sca.option.PageSizeTexels) {
		sca.logger.Error().Msgf("rejected bin allocation for element size %d", elementSizeTexels)
		return InvalidAllocation()
	}

	bin := sca.findBin(elementSizeTexels)
	if bin == nil {
		bin = &pageBin{
			elementSizeTexels: elementSizeTexels,
			elementsPerSide:   sca.option.PageSizeTexels / elementSizeTexels,
		}
		sca.bins = append(sca.bins, bin)
	}

	var target *pageBinAllocation
	for _, alloc := range bin.allocations {
		if alloc.slots.FreeCount() > 0 {
			target = alloc
			break
		}
	}

	if target == nil {
		coord, ok := sca.popFreePage()
		if !ok {
			sca.logger.Debug().Msgf("atlas exhausted, bin %d allocation failed", elementSizeTexels)
			return InvalidAllocation()
		}
		target = &pageBinAllocation{
			pageCoord: coord,
			slots:     freelist.NewBitmapFreeList(bin.slotsPerPage()),
		}
		bin.allocations = append(bin.allocations, target)
	}

	slot, _ := target.slots.Take()
	return Allocation{
		PageCoord: target.pageCoord,
		TexelRect: sca.binSlotRect(bin, target.pageCoord, slot),
	}
}

func (sca *surfaceCacheAllocator) binSlotRect(bin *pageBin, coord PageCoord, slot uint32) Rect {
	pageRect := sca.wholePageRect(coord)
	sx := slot % bin.elementsPerSide
	sy := slot / bin.elementsPerSide
	return Rect{
		MinX: pageRect.MinX + sx*bin.elementSizeTexels,
		MinY: pageRect.MinY + sy*bin.elementSizeTexels,
		MaxX: pageRect.MinX + (sx+1)*bin.elementSizeTexels,
		MaxY: pageRect.MinY + (sy+1)*bin.elementSizeTexels,
	}
}

func (sca *surfaceCacheAllocator) freeBinSlot(elementSizeTexels uint32, alloc Allocation) error {

	bin := sca.findBin(elementSizeTexels)
	if bin == nil {
		return ErrInvalidFree
	}

	for i, binAlloc := range bin.allocations {
		if binAlloc.pageCoord != alloc.PageCoord {
			continue
		}

		pageRect := sca.wholePageRect(binAlloc.pageCoord)
		sx := (alloc.TexelRect.MinX - pageRect.MinX) / bin.elementSizeTexels
		sy := (alloc.TexelRect.MinY - pageRect.MinY) / bin.elementSizeTexels
		if !binAlloc.slots.Release(sy*bin.elementsPerSide + sx) {
			return ErrInvalidFree
		}

		// a fully drained bin page goes back to the free list
		if binAlloc.slots.Full() {
			sca.releasePage(binAlloc.pageCoord)
			bin.allocations = append(bin.allocations[:i], bin.allocations[i+1:]...)
		}
		return nil
	}

	return ErrInvalidFree
}
