package frameheap

// Heap is a min-heap of page table entry indices keyed by the frame
// the entry was last sampled on. Entries are unique within one heap.
// Supports peek/pop of the oldest entry plus keyed removal and
// re-keying, which plain recency lists cannot express.
type Heap struct {
	items []item
	pos   map[uint32]int
}

type item struct {
	entry uint32
	frame uint32
}

func New() *Heap {
	return &Heap{
		pos: make(map[uint32]int),
	}
}

func (h *Heap) Len() int {
	return len(h.items)
}

func (h *Heap) Contains(entry uint32) bool {
	_, ok := h.pos[entry]
	return ok
}

// Update inserts the entry or re-keys it if already present.
func (h *Heap) Update(entry uint32, frame uint32) {
	if idx, ok := h.pos[entry]; ok {
		h.items[idx].frame = frame
		h.siftDown(h.siftUp(idx))
		return
	}
	h.items = append(h.items, item{entry: entry, frame: frame})
	h.pos[entry] = len(h.items) - 1
	h.siftUp(len(h.items) - 1)
}

// Peek returns the entry with the smallest frame without removing it.
func (h *Heap) Peek() (entry uint32, frame uint32, ok bool) {
	if len(h.items) == 0 {
		return 0, 0, false
	}
	return h.items[0].entry, h.items[0].frame, true
}

// Pop removes and returns the entry with the smallest frame.
func (h *Heap) Pop() (entry uint32, frame uint32, ok bool) {
	if len(h.items) == 0 {
		return 0, 0, false
	}
	top := h.items[0]
	h.removeAt(0)
	return top.entry, top.frame, true
}

// Remove drops the entry from the heap if present.
func (h *Heap) Remove(entry uint32) bool {
	idx, ok := h.pos[entry]
	if !ok {
		return false
	}
	h.removeAt(idx)
	return true
}

func (h *Heap) removeAt(idx int) {
	last := len(h.items) - 1
	delete(h.pos, h.items[idx].entry)
	if idx != last {
		h.items[idx] = h.items[last]
		h.pos[h.items[idx].entry] = idx
	}
	h.items = h.items[:last]
	if idx < len(h.items) {
		h.siftDown(h.siftUp(idx))
	}
}

func (h *Heap) siftUp(idx int) int {
	for idx > 0 {
		parent := (idx - 1) / 2
		if h.items[parent].frame <= h.items[idx].frame {
			break
		}
		h.swap(parent, idx)
		idx = parent
	}
	return idx
}

func (h *Heap) siftDown(idx int) {
	for {
		smallest := idx
		left := 2*idx + 1
		right := 2*idx + 2
		if left < len(h.items) && h.items[left].frame < h.items[smallest].frame {
			smallest = left
		}
		if right < len(h.items) && h.items[right].frame < h.items[smallest].frame {
			smallest = right
		}
		if smallest == idx {
			return
		}
		h.swap(smallest, idx)
		idx = smallest
	}
}

func (h *Heap) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.pos[h.items[i].entry] = i
	h.pos[h.items[j].entry] = j
}
