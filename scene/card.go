package scene

import (
	"golang.org/x/image/math/f32"
)

// card is one externally visible cacheable surface. Identity is the
// stable slot index, recycled through freeCards on destroy.
type card struct {
	active      bool
	aspectBiasX int8
	aspectBiasY int8

	// sparse ladder of virtual allocations, one slot per level
	mipMaps []mipMap

	// derived, recomputed after every structural change
	minAllocatedLevel uint8
	maxAllocatedLevel uint8
}

// mipMap is the virtual allocation record for one resolution level.
// spanOffset and spanSize are both zero while unallocated, the page
// table reserves slot zero so a real span never starts there.
type mipMap struct {
	locked      bool
	everMapped  bool // hierarchy repair only collapses levels that lost pages
	pageGridX   uint32
	pageGridY   uint32
	resLevelX   uint8
	resLevelY   uint8
	elementSize uint32 // non zero only for sub page entries
	spanOffset  uint32
	spanSize    uint32
}

func (mm *mipMap) allocated() bool {
	return mm.spanSize != 0
}

func (mm *mipMap) elementSizeTexels() uint32 {
	return mm.elementSize
}

// levelLayout is the page grid a (card, level) pair resolves to once
// the card's aspect bias clamps each axis independently.
type levelLayout struct {
	resLevelX         uint8
	resLevelY         uint8
	sizeTexelsX       uint32
	sizeTexelsY       uint32
	pageGridX         uint32
	pageGridY         uint32
	elementSizeTexels uint32
}

func clampLevel(level uint8, bias int8, maxLevel uint8) uint8 {
	clamped := int(level) + int(bias)
	if clamped < 0 {
		clamped = 0
	}
	if clamped > int(maxLevel) {
		clamped = int(maxLevel)
	}
	return uint8(clamped)
}

func (scs *surfaceCacheScene) levelLayout(c *card, level uint8) levelLayout {

	layout := levelLayout{
		resLevelX: clampLevel(level, c.aspectBiasX, scs.option.MaxResLevel),
		resLevelY: clampLevel(level, c.aspectBiasY, scs.option.MaxResLevel),
	}
	layout.sizeTexelsX = uint32(1) << layout.resLevelX
	layout.sizeTexelsY = uint32(1) << layout.resLevelY

	pageSize := scs.option.PageSizeTexels
	layout.pageGridX = 1
	if layout.sizeTexelsX > pageSize {
		layout.pageGridX = layout.sizeTexelsX / pageSize
	}
	layout.pageGridY = 1
	if layout.sizeTexelsY > pageSize {
		layout.pageGridY = layout.sizeTexelsY / pageSize
	}

	// bin eligibility is purely "fits in a single page", the larger
	// axis picks the square slot size
	if layout.pageGridX == 1 && layout.pageGridY == 1 {
		maxSize := layout.sizeTexelsX
		if layout.sizeTexelsY > maxSize {
			maxSize = layout.sizeTexelsY
		}
		if maxSize < pageSize {
			layout.elementSizeTexels = maxSize
		}
	}
	return layout
}

func (scs *surfaceCacheScene) CreateCard(aspectBiasX int8, aspectBiasY int8) uint32 {

	var cardIndex uint32
	if n := len(scs.freeCards); n > 0 {
		cardIndex = scs.freeCards[n-1]
		scs.freeCards = scs.freeCards[:n-1]
	} else {
		cardIndex = uint32(len(scs.cards))
		scs.cards = append(scs.cards, card{})
	}

	scs.cards[cardIndex] = card{
		active:            true,
		aspectBiasX:       aspectBiasX,
		aspectBiasY:       aspectBiasY,
		mipMaps:           make([]mipMap, scs.option.MaxResLevel+1),
		minAllocatedLevel: LEVEL_NONE,
		maxAllocatedLevel: LEVEL_NONE,
	}
	scs.logger.Debug().Msgf("card %d created", cardIndex)
	return cardIndex
}

func (scs *surfaceCacheScene) DestroyCard(cardIndex uint32) error {
	if int(cardIndex) >= len(scs.cards) || !scs.cards[cardIndex].active {
		return ErrCardNotFound
	}

	// force free every owned level, physical backing included
	if err := scs.FreeVirtualSurface(cardIndex, 0, scs.option.MaxResLevel); err != nil {
		return err
	}

	scs.cards[cardIndex].active = false
	scs.freeCards = append(scs.freeCards, cardIndex)
	scs.logger.Debug().Msgf("card %d destroyed", cardIndex)
	return nil
}

// ReallocVirtualSurface allocates the page table span for one level,
// or just toggles the locked flag when called again on an already
// allocated level with a different lockPages value.
func (scs *surfaceCacheScene) ReallocVirtualSurface(cardIndex uint32, level uint8, lockPages bool) error {
	if int(cardIndex) >= len(scs.cards) || !scs.cards[cardIndex].active {
		return ErrCardNotFound
	}
	if level > scs.option.MaxResLevel {
		return ErrBadLevel
	}

	c := &scs.cards[cardIndex]
	mm := &c.mipMaps[level]

	if mm.allocated() {
		if mm.locked == lockPages {
			return nil
		}
		mm.locked = lockPages
		for idx := mm.spanOffset; idx < mm.spanOffset+mm.spanSize; idx++ {
			entry := scs.pageTable.Entry(idx)
			if !entry.IsMapped() {
				continue
			}
			if lockPages {
				scs.reclaimHeap.Remove(idx)
			} else {
				scs.reclaimHeap.Update(idx, entry.LastSampledFrame)
			}
		}
		return nil
	}

	layout := scs.levelLayout(c, level)
	spanSize := layout.pageGridX * layout.pageGridY
	spanOffset := scs.pageTable.AllocateSpan(spanSize)

	for py := uint32(0); py < layout.pageGridY; py++ {
		for px := uint32(0); px < layout.pageGridX; px++ {
			idx := spanOffset + py*layout.pageGridX + px
			entry := scs.pageTable.Entry(idx)
			entry.CardIndex = cardIndex
			entry.OwnerLevel = level
			entry.ResLevelX = layout.resLevelX
			entry.ResLevelY = layout.resLevelY
			entry.LocalPageX = uint16(px)
			entry.LocalPageY = uint16(py)
			entry.ElementSizeTexels = layout.elementSizeTexels
			entry.CardUVRect = pageUVRect(px, py, layout)
			entry.ResetSample(idx)
		}
	}

	*mm = mipMap{
		locked:      lockPages,
		pageGridX:   layout.pageGridX,
		pageGridY:   layout.pageGridY,
		resLevelX:   layout.resLevelX,
		resLevelY:   layout.resLevelY,
		elementSize: layout.elementSizeTexels,
		spanOffset:  spanOffset,
		spanSize:    spanSize,
	}
	scs.recomputeAllocatedLevels(cardIndex)

	scs.logger.Debug().Msgf("card %d level %d virtual alloc %dx%d pages span %d+%d",
		cardIndex, level, layout.pageGridX, layout.pageGridY, spanOffset, spanSize)
	return nil
}

// pageUVRect computes the static virtual UV sub rectangle of one page
// within its level. Interior page edges pull in by half a texel so
// bilinear sampling cannot bleed across page seams.
func pageUVRect(px uint32, py uint32, layout levelLayout) f32.Vec4 {

	minU := float32(px) / float32(layout.pageGridX)
	maxU := float32(px+1) / float32(layout.pageGridX)
	minV := float32(py) / float32(layout.pageGridY)
	maxV := float32(py+1) / float32(layout.pageGridY)

	halfTexelU := 0.5 / float32(layout.sizeTexelsX)
	halfTexelV := 0.5 / float32(layout.sizeTexelsY)
	if px > 0 {
		minU += halfTexelU
	}
	if px < layout.pageGridX-1 {
		maxU -= halfTexelU
	}
	if py > 0 {
		minV += halfTexelV
	}
	if py < layout.pageGridY-1 {
		maxV -= halfTexelV
	}
	return f32.Vec4{minU, minV, maxU, maxV}
}

// FreeVirtualSurface unmaps then releases every allocated level in the
// range as one operation, so unmap before free can never be missed.
func (scs *surfaceCacheScene) FreeVirtualSurface(cardIndex uint32, fromLevel uint8, toLevel uint8) error {
	if int(cardIndex) >= len(scs.cards) || !scs.cards[cardIndex].active {
		return ErrCardNotFound
	}
	if fromLevel > toLevel {
		return ErrBadLevel
	}
	if toLevel > scs.option.MaxResLevel {
		toLevel = scs.option.MaxResLevel
	}

	for level := fromLevel; level <= toLevel; level++ {
		if scs.cards[cardIndex].mipMaps[level].allocated() {
			scs.freeLevel(cardIndex, level)
		}
	}
	scs.recomputeAllocatedLevels(cardIndex)
	return nil
}

func (scs *surfaceCacheScene) freeLevel(cardIndex uint32, level uint8) {
	mm := &scs.cards[cardIndex].mipMaps[level]

	for idx := mm.spanOffset; idx < mm.spanOffset+mm.spanSize; idx++ {
		scs.UnmapSurfaceCachePage(idx)
	}
	if err := scs.pageTable.FreeSpan(mm.spanOffset, mm.spanSize); err != nil {
		scs.logger.Error().Err(err).Msgf("span release failed for card %d level %d", cardIndex, level)
	}
	*mm = mipMap{}
}

func (scs *surfaceCacheScene) recomputeAllocatedLevels(cardIndex uint32) {
	c := &scs.cards[cardIndex]
	c.minAllocatedLevel = LEVEL_NONE
	c.maxAllocatedLevel = LEVEL_NONE
	for level := range c.mipMaps {
		if !c.mipMaps[level].allocated() {
			continue
		}
		if c.minAllocatedLevel == LEVEL_NONE {
			c.minAllocatedLevel = uint8(level)
		}
		c.maxAllocatedLevel = uint8(level)
	}
}
