package pagetable

import (
	"golang.org/x/image/math/f32"

	"github.com/elmachotroso/unreal-devtoolbox-sub009/atlas"
)

const INVALID_CARD_INDEX = ^uint32(0)
const INVALID_ENTRY_INDEX = ^uint32(0)

// Entry is the atomic addressable cache line of the surface cache.
// The virtual half (owner, UV rect, element size) lives for as long as
// the owning mip level span, the physical half comes and goes with
// map / unmap. Back references are plain indices, never used for
// lifetime (the card / mip tree owns everything).
type Entry struct {
	CardIndex  uint32
	OwnerLevel uint8
	ResLevelX  uint8
	ResLevelY  uint8
	LocalPageX uint16
	LocalPageY uint16

	// virtual UV sub rectangle within the owning level, fixed at span
	// allocation time (includes the half texel interior border)
	CardUVRect f32.Vec4

	// zero for whole page entries
	ElementSizeTexels uint32

	// physical backing, borrowed from the allocator while mapped
	PageCoord    atlas.PageCoord
	PhysicalRect atlas.Rect

	// where to actually read resident data from. Self while mapped,
	// possibly a coarser ancestor after hierarchy repair.
	SampleEntry      uint32
	SampleAtlasBiasX uint16
	SampleAtlasBiasY uint16
	SampleResLevelX  uint8
	SampleResLevelY  uint8

	LastSampledFrame uint32
}

// IsMapped reports whether the entry currently has physical backing.
func (e *Entry) IsMapped() bool {
	return !e.PhysicalRect.IsEmpty()
}

// ResetSample points the sample fields back at the entry itself with
// no bias, the trivial unmapped state.
func (e *Entry) ResetSample(selfIndex uint32) {
	e.SampleEntry = selfIndex
	e.SampleAtlasBiasX = 0
	e.SampleAtlasBiasY = 0
	e.SampleResLevelX = e.ResLevelX
	e.SampleResLevelY = e.ResLevelY
}

/*
Page table record, 2 packed 32 bit words per slot
word 0
┌─────31..28─────┬─────27..24─────┬──23..12──┬──11..0───┐
| sampleResLvlY  | sampleResLvlX  | biasY    | biasX    |
└────────────────┴────────────────┴──────────┴──────────┘
word 1 = index of the entry holding the resident sample
*/
func (e *Entry) PackPageTableRecord() [2]uint32 {
	word0 := uint32(e.SampleAtlasBiasX) & 0xFFF
	word0 |= (uint32(e.SampleAtlasBiasY) & 0xFFF) << 12
	word0 |= (uint32(e.SampleResLevelX) & 0xF) << 24
	word0 |= (uint32(e.SampleResLevelY) & 0xF) << 28
	return [2]uint32{word0, e.SampleEntry}
}

// CardPageParams carries the per level and per atlas context the card
// page record needs beyond the entry itself.
type CardPageParams struct {
	SpanOffset        uint32
	PageGridX         uint32
	PageGridY         uint32
	PageSizeTexels    uint32
	AtlasWidthTexels  uint32
	AtlasHeightTexels uint32
	Frame             uint32
}

// PackCardPageRecord packs the 5 float4 vectors the GPU consumer reads
// per entry. Layout is bit exact, do not reorder.
func (e *Entry) PackCardPageRecord(params CardPageParams) [5]f32.Vec4 {

	sizeTexelsX := uint32(1) << e.ResLevelX
	if sizeTexelsX > params.PageSizeTexels {
		sizeTexelsX = params.PageSizeTexels
	}
	sizeTexelsY := uint32(1) << e.ResLevelY
	if sizeTexelsY > params.PageSizeTexels {
		sizeTexelsY = params.PageSizeTexels
	}

	uvWidth := e.CardUVRect[2] - e.CardUVRect[0]
	uvHeight := e.CardUVRect[3] - e.CardUVRect[1]

	atlasW := float32(params.AtlasWidthTexels)
	atlasH := float32(params.AtlasHeightTexels)

	frame := float32(params.Frame)

	return [5]f32.Vec4{
		{
			float32(e.CardIndex),
			float32(params.SpanOffset),
			float32(sizeTexelsX),
			float32(sizeTexelsY),
		},
		e.CardUVRect,
		{
			float32(e.PhysicalRect.MinX) / atlasW,
			float32(e.PhysicalRect.MinY) / atlasH,
			float32(e.PhysicalRect.MaxX) / atlasW,
			float32(e.PhysicalRect.MaxY) / atlasH,
		},
		{
			uvWidth / float32(sizeTexelsX),
			uvHeight / float32(sizeTexelsY),
			float32(params.PageGridX),
			float32(params.PageGridY),
		},
		{frame, frame, frame, 0},
	}
}
