package scene

import (
	"github.com/sugawarayuuta/sonnet"

	"github.com/elmachotroso/unreal-devtoolbox-sub009/atlas"
)

// Stats is the per frame capacity / fragmentation snapshot for
// diagnostics. The layout is implementation defined, only the packed
// GPU records are bit exact.
type Stats struct {
	Frame            uint32      `json:"frame"`
	Cards            int         `json:"cards"`
	VirtualTexels    uint64      `json:"virtualTexels"`
	MappedTexels     uint64      `json:"mappedTexels"`
	LockedTexels     uint64      `json:"lockedTexels"`
	MappedPages      int         `json:"mappedPages"`
	ReclaimablePages int         `json:"reclaimablePages"`
	Atlas            atlas.Stats `json:"atlas"`
}

func (s Stats) JSON() ([]byte, error) {
	return sonnet.Marshal(s)
}

func (scs *surfaceCacheScene) Stats() Stats {

	stats := Stats{
		Frame:            scs.frame,
		ReclaimablePages: scs.reclaimHeap.Len(),
		Atlas:            scs.allocator.Stats(),
	}

	for cardIndex := range scs.cards {
		c := &scs.cards[cardIndex]
		if !c.active {
			continue
		}
		stats.Cards++

		for level := range c.mipMaps {
			mm := &c.mipMaps[level]
			if !mm.allocated() {
				continue
			}
			stats.VirtualTexels += uint64(1) << (mm.resLevelX + mm.resLevelY)

			for idx := mm.spanOffset; idx < mm.spanOffset+mm.spanSize; idx++ {
				entry := scs.pageTable.Entry(idx)
				if !entry.IsMapped() {
					continue
				}
				texels := uint64(entry.PhysicalRect.Width()) * uint64(entry.PhysicalRect.Height())
				stats.MappedPages++
				stats.MappedTexels += texels
				if mm.locked {
					stats.LockedTexels += texels
				}
			}
		}
	}
	return stats
}
