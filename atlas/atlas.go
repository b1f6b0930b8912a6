package atlas

import "fmt"

const MIN_PAGE_SIZE_TEXELS = uint32(8)
const MAX_PAGE_SIZE_TEXELS = uint32(512)
const MAX_ATLAS_SIZE_PAGES = uint32(4096) // page coords must fit 12 bit sample bias fields

const INVALID_PAGE_COORD = ^uint32(0)

var (
	ErrInvalidFree     = fmt.Errorf("free of a page or bin slot that was never allocated")
	ErrPageOutOfRange  = fmt.Errorf("page coordinate outside the atlas grid")
	ErrBadElementSize  = fmt.Errorf("element size must be a power of two below the page size")
	ErrBadAtlasOptions = fmt.Errorf("atlas dimensions out of range")
)

type Options struct {
	AtlasWidthPages  uint32
	AtlasHeightPages uint32
	PageSizeTexels   uint32
}

// PageCoord addresses one physical page in the atlas page grid.
type PageCoord struct {
	X uint32
	Y uint32
}

func InvalidPageCoord() PageCoord {
	return PageCoord{X: INVALID_PAGE_COORD, Y: INVALID_PAGE_COORD}
}

// Rect is a texel rectangle in the physical atlas, max exclusive.
type Rect struct {
	MinX uint32
	MinY uint32
	MaxX uint32
	MaxY uint32
}

func (r Rect) Width() uint32 {
	return r.MaxX - r.MinX
}

func (r Rect) Height() uint32 {
	return r.MaxY - r.MinY
}

func (r Rect) IsEmpty() bool {
	return r.MaxX <= r.MinX || r.MaxY <= r.MinY
}

// EntryDesc describes the physical backing one page table entry needs.
// ElementSizeTexels is zero for whole page entries and the square slot
// size for entries packed into a bin.
type EntryDesc struct {
	ElementSizeTexels uint32
}

// Allocation is the physical assignment handed back to a page table
// entry. An invalid allocation (coordinate out of range) is the normal
// backpressure signal when the atlas is exhausted, not an error.
type Allocation struct {
	PageCoord PageCoord
	TexelRect Rect
}

func InvalidAllocation() Allocation {
	return Allocation{PageCoord: InvalidPageCoord()}
}

func (a Allocation) IsValid() bool {
	return a.PageCoord.X != INVALID_PAGE_COORD
}

type Allocator interface {
	// Init resets the free list to every coordinate in the grid and
	// drops all bins. Resizing requires a prior full eviction by the
	// owner, nothing physical survives Init.
	Init(widthPages uint32, heightPages uint32)

	// Allocate hands out a whole page or a bin slot depending on the
	// descriptor. Returns an invalid allocation when out of space.
	Allocate(desc EntryDesc) Allocation

	// Free returns the allocation's page or bin slot. Bin pages drain
	// back to the free list once their last slot is released.
	Free(desc EntryDesc, alloc Allocation) error

	// IsSpaceAvailable is a read only capacity probe for the given
	// page count, or for any matching bin slot when desc is sub page.
	IsSpaceAvailable(desc EntryDesc, pageCount uint32, singlePageOnly bool) bool

	FreePageCount() int
	TotalPageCount() int
	Stats() Stats
}

// Stats is the capacity / fragmentation snapshot for diagnostics.
type Stats struct {
	TotalPages int        `json:"totalPages"`
	FreePages  int        `json:"freePages"`
	Bins       []BinStats `json:"bins"`
}

type BinStats struct {
	ElementSizeTexels uint32 `json:"elementSizeTexels"`
	Pages             int    `json:"pages"`
	UsedSlots         uint32 `json:"usedSlots"`
	FreeSlots         uint32 `json:"freeSlots"`
}
