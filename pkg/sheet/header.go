package sheet

// DateHeader is the fixed label of the first header cell.
const DateHeader = "date"

// firstValueColumn is the 1-based column of the first named header cell.
const firstValueColumn = 2

// Header maps column names to sheet columns. Keys are the header cells from
// column 2 onward in left-to-right order; the index map is kept in step so
// lookups do not rescan the header.
type Header struct {
	keys  []string
	index map[string]int
}

// NewHeader builds a Header from the cells of row 1 starting at column 2.
// Blank cells keep their position but cannot be looked up. When a name
// appears twice the leftmost column wins.
func NewHeader(keys []string) *Header {
	h := &Header{
		keys:  make([]string, len(keys)),
		index: make(map[string]int, len(keys)),
	}

	copy(h.keys, keys)

	for i, k := range h.keys {
		if k == "" {
			continue
		}

		if _, exists := h.index[k]; !exists {
			h.index[k] = i
		}
	}

	return h
}

// Keys returns a copy of the header names in column order.
func (h *Header) Keys() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)

	return out
}

// Len returns the number of header cells after the date column.
func (h *Header) Len() int {
	return len(h.keys)
}

// IndexOf returns the 0-based position of key among the header names, or -1.
func (h *Header) IndexOf(key string) int {
	if i, ok := h.index[key]; ok {
		return i
	}

	return -1
}

// Column returns the 1-based sheet column holding key.
func (h *Header) Column(key string) (int, bool) {
	i, ok := h.index[key]
	if !ok {
		return 0, false
	}

	return i + firstValueColumn, true
}

// Contains reports whether key has a column.
func (h *Header) Contains(key string) bool {
	_, ok := h.index[key]

	return ok
}

// Grow returns current extended by every key not yet present, in the order
// the keys are given, together with the keys that were added. Existing names
// never move, so a name keeps its column for the lifetime of the table.
// Growing twice with the same keys adds nothing the second time.
func Grow(current, keys []string) (updated, added []string) {
	h := NewHeader(current)

	updated = make([]string, len(current), len(current)+len(keys))
	copy(updated, current)

	for _, k := range keys {
		if k == "" || h.Contains(k) {
			continue
		}

		h.index[k] = len(updated)
		updated = append(updated, k)
		added = append(added, k)
	}

	return updated, added
}
