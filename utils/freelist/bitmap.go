package freelist

// FreeList tracks free slots inside a fixed capacity range.
// Take always returns the lowest free slot so occupancy stays
// packed towards the start of the range.
type FreeList interface {
	Take() (uint32, bool)
	Release(slot uint32) bool
	FreeCount() uint32
	Full() bool
}

type BitmapFreeList struct {
	bitmap    []byte
	capacity  uint32
	freeCount uint32
}

func NewBitmapFreeList(capacity uint32) *BitmapFreeList {
	return &BitmapFreeList{
		bitmap:    make([]byte, (capacity+7)/8),
		capacity:  capacity,
		freeCount: capacity,
	}
}

// Take pops the lowest free slot. A set bit marks a taken slot.
func (bfl *BitmapFreeList) Take() (uint32, bool) {
	if bfl.freeCount == 0 {
		return 0, false
	}
	for byteIdx, b := range bfl.bitmap {
		if b == 0xFF {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			slot := uint32(byteIdx*8 + bit)
			if slot >= bfl.capacity {
				return 0, false
			}
			if b&(1<<bit) == 0 {
				bfl.bitmap[byteIdx] |= 1 << bit
				bfl.freeCount--
				return slot, true
			}
		}
	}
	return 0, false
}

// Release returns a slot to the free set. Releasing a slot that is
// already free or out of range is a no-op and reports false.
func (bfl *BitmapFreeList) Release(slot uint32) bool {
	if slot >= bfl.capacity {
		return false
	}
	mask := byte(1) << (slot % 8)
	if bfl.bitmap[slot/8]&mask == 0 {
		return false
	}
	bfl.bitmap[slot/8] &^= mask
	bfl.freeCount++
	return true
}

func (bfl *BitmapFreeList) FreeCount() uint32 {
	return bfl.freeCount
}

// Full reports whether every slot is free.
func (bfl *BitmapFreeList) Full() bool {
	return bfl.freeCount == bfl.capacity
}
