package pagetable

import (
	"fmt"
	"sort"

	"github.com/phuslu/log"
)

var (
	ErrSpanOutOfRange   = fmt.Errorf("span outside the page table arena")
	ErrSpanNotAllocated = fmt.Errorf("free of a span that was never allocated")
)

/*
Page table arena
┌────┬──────────────┬─────────┬──────────────┬────────────┐
| 0  | card 3 lvl 7 | free    | card 1 lvl 9 | free tail  |
└────┴──────────────┴─────────┴──────────────┴────────────┘
Slot 0 is reserved so a (offset, size) pair of (0, 0) always means
"virtually unallocated". External references are slot indices, never
pointers, so arena growth never invalidates an outstanding reference.
*/
type Table struct {
	logger    log.Logger
	entries   []Entry
	freeSpans []span // sorted by offset, coalesced
}

type span struct {
	offset uint32
	size   uint32
}

func NewTable(logger log.Logger) *Table {
	return &Table{
		logger:  logger,
		entries: []Entry{freeEntry()},
	}
}

func freeEntry() Entry {
	return Entry{CardIndex: INVALID_CARD_INDEX}
}

func (t *Table) Len() int {
	return len(t.entries)
}

func (t *Table) Entry(index uint32) *Entry {
	return &t.entries[index]
}

// AllocateSpan hands out a contiguous run of size slots, first fit
// over the free spans, growing the arena when nothing fits. Slots come
// back reset, the caller stamps ownership on every entry before the
// span can be freed again.
func (t *Table) AllocateSpan(size uint32) uint32 {
	if size == 0 {
		return 0
	}

	for i := range t.freeSpans {
		if t.freeSpans[i].size < size {
			continue
		}
		offset := t.freeSpans[i].offset
		if t.freeSpans[i].size == size {
			t.freeSpans = append(t.freeSpans[:i], t.freeSpans[i+1:]...)
		} else {
			t.freeSpans[i].offset += size
			t.freeSpans[i].size -= size
		}
		for j := offset; j < offset+size; j++ {
			t.entries[j] = freeEntry()
		}
		return offset
	}

	offset := uint32(len(t.entries))
	for i := uint32(0); i < size; i++ {
		t.entries = append(t.entries, freeEntry())
	}
	t.logger.Debug().Msgf("page table grown to %d slots", len(t.entries))
	return offset
}

// FreeSpan releases a span back to the free list, coalescing with its
// neighbours. The caller must have unmapped every entry first.
func (t *Table) FreeSpan(offset uint32, size uint32) error {
	if offset == 0 || size == 0 || uint64(offset)+uint64(size) > uint64(len(t.entries)) {
		return ErrSpanOutOfRange
	}
	if t.entries[offset].CardIndex == INVALID_CARD_INDEX {
		return ErrSpanNotAllocated
	}

	for i := offset; i < offset+size; i++ {
		t.entries[i] = freeEntry()
	}

	idx := sort.Search(len(t.freeSpans), func(i int) bool {
		return t.freeSpans[i].offset > offset
	})
	t.freeSpans = append(t.freeSpans, span{})
	copy(t.freeSpans[idx+1:], t.freeSpans[idx:])
	t.freeSpans[idx] = span{offset: offset, size: size}

	// merge with the span behind, then the span ahead
	if idx > 0 && t.freeSpans[idx-1].offset+t.freeSpans[idx-1].size == offset {
		t.freeSpans[idx-1].size += t.freeSpans[idx].size
		t.freeSpans = append(t.freeSpans[:idx], t.freeSpans[idx+1:]...)
		idx--
	}
	if idx+1 < len(t.freeSpans) && t.freeSpans[idx].offset+t.freeSpans[idx].size == t.freeSpans[idx+1].offset {
		t.freeSpans[idx].size += t.freeSpans[idx+1].size
		t.freeSpans = append(t.freeSpans[:idx+1], t.freeSpans[idx+2:]...)
	}

	// a free span touching the arena tail shrinks the arena instead
	last := len(t.freeSpans) - 1
	if t.freeSpans[last].offset+t.freeSpans[last].size == uint32(len(t.entries)) {
		t.entries = t.entries[:t.freeSpans[last].offset]
		t.freeSpans = t.freeSpans[:last]
	}

	return nil
}

// Records packs the whole arena into the 2 word per slot GPU layout.
// Free slots pack to zero.
func (t *Table) Records() [][2]uint32 {
	records := make([][2]uint32, len(t.entries))
	for i := range t.entries {
		if t.entries[i].CardIndex != INVALID_CARD_INDEX {
			records[i] = t.entries[i].PackPageTableRecord()
		}
	}
	return records
}
