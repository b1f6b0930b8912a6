package scene

// UpdateCardMipMapHierarchy repairs a card after structural changes in
// two passes. Pass one frees any previously mapped level with no
// mapped pages left, collapsing eviction debris in the level range
// (a freshly allocated level still waiting for its first pages is
// kept so its entries can redirect at a resident ancestor). Pass two
// walks the remaining
// allocated levels from lowest (coarsest) to highest and points every
// still unmapped entry's sample fields at the proportionally mapped
// entry of the nearest lower allocated level. Walking upwards makes
// the copies transitive, so every entry resolves to some resident
// sample at a possibly coarser resolution, never to empty data. The
// coarsest allocated level has no ancestor, its still unmapped entries
// return to the self sampling state instead.
func (scs *surfaceCacheScene) UpdateCardMipMapHierarchy(cardIndex uint32) {
	if int(cardIndex) >= len(scs.cards) || !scs.cards[cardIndex].active {
		return
	}
	c := &scs.cards[cardIndex]

	for level := range c.mipMaps {
		mm := &c.mipMaps[level]
		if !mm.allocated() {
			continue
		}
		anyMapped := false
		for idx := mm.spanOffset; idx < mm.spanOffset+mm.spanSize; idx++ {
			if scs.pageTable.Entry(idx).IsMapped() {
				anyMapped = true
				break
			}
		}
		if !anyMapped && mm.everMapped {
			scs.freeLevel(cardIndex, uint8(level))
		}
	}
	scs.recomputeAllocatedLevels(cardIndex)

	prevLevel := -1
	for level := range c.mipMaps {
		mm := &c.mipMaps[level]
		if !mm.allocated() {
			continue
		}
		if prevLevel >= 0 {
			scs.propagateSamples(&c.mipMaps[prevLevel], mm)
		} else {
			scs.resetUnmappedSamples(mm)
		}
		prevLevel = level
	}
}

// resetUnmappedSamples returns every unmapped entry of the coarsest
// allocated level to the self sampling state. This level has no
// ancestor to redirect at, and a sample left over from an evicted
// coarser level would keep pointing into its freed span.
func (scs *surfaceCacheScene) resetUnmappedSamples(mm *mipMap) {
	for idx := mm.spanOffset; idx < mm.spanOffset+mm.spanSize; idx++ {
		entry := scs.pageTable.Entry(idx)
		if !entry.IsMapped() {
			entry.ResetSample(idx)
		}
	}
}

// propagateSamples copies sample fields (never physical rectangles)
// from the coarser source level into every unmapped entry of the
// finer destination level, mapping page coordinates proportionally
// between the two levels' grids.
func (scs *surfaceCacheScene) propagateSamples(src *mipMap, dst *mipMap) {

	for py := uint32(0); py < dst.pageGridY; py++ {
		for px := uint32(0); px < dst.pageGridX; px++ {
			entry := scs.pageTable.Entry(dst.spanOffset + py*dst.pageGridX + px)
			if entry.IsMapped() {
				continue
			}

			srcPx := px * src.pageGridX / dst.pageGridX
			srcPy := py * src.pageGridY / dst.pageGridY
			srcEntry := scs.pageTable.Entry(src.spanOffset + srcPy*src.pageGridX + srcPx)

			entry.SampleEntry = srcEntry.SampleEntry
			entry.SampleAtlasBiasX = srcEntry.SampleAtlasBiasX
			entry.SampleAtlasBiasY = srcEntry.SampleAtlasBiasY
			entry.SampleResLevelX = srcEntry.SampleResLevelX
			entry.SampleResLevelY = srcEntry.SampleResLevelY
		}
	}
}
