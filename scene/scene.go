package scene

import (
	"fmt"

	"github.com/phuslu/log"
	"golang.org/x/image/math/f32"

	"github.com/elmachotroso/unreal-devtoolbox-sub009/atlas"
	"github.com/elmachotroso/unreal-devtoolbox-sub009/pagetable"
	"github.com/elmachotroso/unreal-devtoolbox-sub009/utils/frameheap"
)

const LEVEL_NONE = uint8(0xFF)
const MAX_RES_LEVEL = uint8(15) // sample res levels are 4 bit fields

var (
	ErrCardNotFound = fmt.Errorf("card index is not active")
	ErrBadLevel     = fmt.Errorf("resolution level out of range")
	ErrBadOptions   = fmt.Errorf("scene options out of range")
)

/*
What the surface cache scene is for us
- cards are the externally visible cacheable surfaces
- each card owns a sparse ladder of mip levels, each level owns one
  contiguous page table span
- physical pages come from the atlas allocator and are only ever
  borrowed by page table entries, eviction or teardown hands them back
- everything runs single threaded inside one update tick, consumers
  read frozen record snapshots after the tick completes
*/
type Options struct {
	atlas.Options
	MaxResLevel         uint8
	RenderContexts      int
	EvictFrameThreshold uint32 // frames a page must be cold before update evicts it
	ContextHeapWindow   uint32 // frames retained in the per context sampled heaps
}

// UpdateContext carries the frame clock and render context id through
// an update pass. Passed explicitly, never ambient state.
type UpdateContext struct {
	Frame   uint32
	Context int
}

// SurfaceRequest is one render driven demand item.
type SurfaceRequest struct {
	Card      uint32
	ResLevel  uint8
	LockPages bool
}

type Scene interface {
	CreateCard(aspectBiasX int8, aspectBiasY int8) uint32
	DestroyCard(card uint32) error

	ReallocVirtualSurface(card uint32, level uint8, lockPages bool) error
	FreeVirtualSurface(card uint32, fromLevel uint8, toLevel uint8) error

	MapSurfaceCachePage(entry uint32, ctx UpdateContext)
	UnmapSurfaceCachePage(entry uint32)
	EvictOldestAllocation(maxFramesSinceLastUsed uint32, ctx UpdateContext) bool

	UpdateCardMipMapHierarchy(card uint32)

	// Update runs the whole per frame pass: pending resize, demand
	// processing, page mapping with eviction under pressure, then
	// hierarchy repair for every touched card, eviction victims
	// included.
	Update(ctx UpdateContext, requests []SurfaceRequest)

	// RequestResize schedules an atlas resize for the next update.
	// Resizing clears every physical binding first, nothing survives.
	RequestResize(widthPages uint32, heightPages uint32)

	IsSpaceAvailable(card uint32, level uint8, singlePageOnly bool) (bool, error)

	Stats() Stats
	PageTableRecords() [][2]uint32
	CardPageRecords(card uint32) ([][5]f32.Vec4, error)
}

type surfaceCacheScene struct {
	logger    log.Logger
	option    *Options
	allocator atlas.Allocator
	pageTable *pagetable.Table

	cards     []card
	freeCards []uint32

	// strictly unlocked mapped entries, the reclaimable set
	reclaimHeap *frameheap.Heap
	// recently sampled bookkeeping, one heap per render context
	contextHeaps []*frameheap.Heap

	frame         uint32
	pendingResize *[2]uint32
}

func NewScene(logger log.Logger, option *Options) (Scene, error) {
	if option.MaxResLevel == 0 {
		option.MaxResLevel = 11
	}
	if option.MaxResLevel > MAX_RES_LEVEL {
		return nil, ErrBadOptions
	}
	if option.RenderContexts <= 0 {
		option.RenderContexts = 1
	}
	if option.EvictFrameThreshold == 0 {
		option.EvictFrameThreshold = 30
	}
	if option.ContextHeapWindow == 0 {
		option.ContextHeapWindow = 120
	}

	allocator, err := atlas.NewAllocator(logger, &option.Options)
	if err != nil {
		return nil, err
	}

	contextHeaps := make([]*frameheap.Heap, option.RenderContexts)
	for i := range contextHeaps {
		contextHeaps[i] = frameheap.New()
	}

	return &surfaceCacheScene{
		logger:       logger,
		option:       option,
		allocator:    allocator,
		pageTable:    pagetable.NewTable(logger),
		reclaimHeap:  frameheap.New(),
		contextHeaps: contextHeaps,
	}, nil
}

func (scs *surfaceCacheScene) contextHeap(context int) *frameheap.Heap {
	if context < 0 || context >= len(scs.contextHeaps) {
		context = 0
	}
	return scs.contextHeaps[context]
}

func (scs *surfaceCacheScene) Update(ctx UpdateContext, requests []SurfaceRequest) {

	scs.frame = ctx.Frame

	if scs.pendingResize != nil {
		scs.applyResize()
	}

	touched := make(map[uint32]struct{})

	for _, req := range requests {
		if int(req.Card) >= len(scs.cards) || !scs.cards[req.Card].active {
			scs.logger.Debug().Msgf("demand for inactive card %d dropped", req.Card)
			continue
		}
		level := req.ResLevel
		if level > scs.option.MaxResLevel {
			level = scs.option.MaxResLevel
		}

		mm := &scs.cards[req.Card].mipMaps[level]
		if !mm.allocated() || mm.locked != req.LockPages {
			if err := scs.ReallocVirtualSurface(req.Card, level, req.LockPages); err != nil {
				scs.logger.Error().Err(err).Msgf("virtual allocation failed for card %d level %d", req.Card, level)
				continue
			}
		}
		touched[req.Card] = struct{}{}

		mm = &scs.cards[req.Card].mipMaps[level]
		desc := atlas.EntryDesc{ElementSizeTexels: mm.elementSizeTexels()}
		for idx := mm.spanOffset; idx < mm.spanOffset+mm.spanSize; idx++ {
			if scs.pageTable.Entry(idx).IsMapped() {
				scs.touchEntry(idx, ctx)
				continue
			}
			for !scs.allocator.IsSpaceAvailable(desc, 1, true) {
				victim, ok := scs.evictOldest(scs.option.EvictFrameThreshold, ctx)
				if !ok {
					break
				}
				// the victim's card lost a page, it needs repair too
				if victim != pagetable.INVALID_CARD_INDEX {
					touched[victim] = struct{}{}
				}
			}
			scs.MapSurfaceCachePage(idx, ctx)
		}
	}

	for cardIndex := range touched {
		scs.UpdateCardMipMapHierarchy(cardIndex)
	}

	scs.trimContextHeaps(ctx)
}

// trimContextHeaps drops stale bookkeeping so the per context heaps
// stay bounded by the sampling window.
func (scs *surfaceCacheScene) trimContextHeaps(ctx UpdateContext) {
	for _, heap := range scs.contextHeaps {
		for {
			_, frame, ok := heap.Peek()
			if !ok || frame+scs.option.ContextHeapWindow >= ctx.Frame {
				break
			}
			heap.Pop()
		}
	}
}

func (scs *surfaceCacheScene) RequestResize(widthPages uint32, heightPages uint32) {
	if widthPages == scs.option.AtlasWidthPages && heightPages == scs.option.AtlasHeightPages {
		return
	}
	scs.pendingResize = &[2]uint32{widthPages, heightPages}
	scs.logger.Info().Msgf("atlas resize to %dx%d pages scheduled, cache will be cleared", widthPages, heightPages)
}

// applyResize tears down every virtual span (and with it every
// physical binding) before re-initializing the allocator. The cache
// never preserves content across a capacity change.
func (scs *surfaceCacheScene) applyResize() {

	dims := *scs.pendingResize
	scs.pendingResize = nil

	for cardIndex := range scs.cards {
		if !scs.cards[cardIndex].active {
			continue
		}
		for level := range scs.cards[cardIndex].mipMaps {
			if scs.cards[cardIndex].mipMaps[level].allocated() {
				scs.freeLevel(uint32(cardIndex), uint8(level))
			}
		}
		scs.recomputeAllocatedLevels(uint32(cardIndex))
	}

	scs.allocator.Init(dims[0], dims[1])
	scs.logger.Debug().Msgf("atlas resized to %dx%d pages", dims[0], dims[1])
}

func (scs *surfaceCacheScene) IsSpaceAvailable(cardIndex uint32, level uint8, singlePageOnly bool) (bool, error) {
	if int(cardIndex) >= len(scs.cards) || !scs.cards[cardIndex].active {
		return false, ErrCardNotFound
	}
	if level > scs.option.MaxResLevel {
		return false, ErrBadLevel
	}

	c := &scs.cards[cardIndex]
	layout := scs.levelLayout(c, level)
	desc := atlas.EntryDesc{ElementSizeTexels: layout.elementSizeTexels}
	return scs.allocator.IsSpaceAvailable(desc, layout.pageGridX*layout.pageGridY, singlePageOnly), nil
}

func (scs *surfaceCacheScene) PageTableRecords() [][2]uint32 {
	return scs.pageTable.Records()
}

func (scs *surfaceCacheScene) CardPageRecords(cardIndex uint32) ([][5]f32.Vec4, error) {
	if int(cardIndex) >= len(scs.cards) || !scs.cards[cardIndex].active {
		return nil, ErrCardNotFound
	}

	pageSize := scs.option.PageSizeTexels
	atlasW := scs.option.AtlasWidthPages * pageSize
	atlasH := scs.option.AtlasHeightPages * pageSize

	c := &scs.cards[cardIndex]
	var records [][5]f32.Vec4
	for level := range c.mipMaps {
		mm := &c.mipMaps[level]
		if !mm.allocated() {
			continue
		}
		params := pagetable.CardPageParams{
			SpanOffset:        mm.spanOffset,
			PageGridX:         mm.pageGridX,
			PageGridY:         mm.pageGridY,
			PageSizeTexels:    pageSize,
			AtlasWidthTexels:  atlasW,
			AtlasHeightTexels: atlasH,
			Frame:             scs.frame,
		}
		for idx := mm.spanOffset; idx < mm.spanOffset+mm.spanSize; idx++ {
			records = append(records, scs.pageTable.Entry(idx).PackCardPageRecord(params))
		}
	}
	return records, nil
}
