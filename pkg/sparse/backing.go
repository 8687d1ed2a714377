package sparse

// Backing is the per-slot value store an Array reads and writes through.
// The array owns only the index set; the host owns the values.
type Backing interface {
	// Load returns the value at index and whether one is stored.
	Load(index uint32) (Value, bool, error)
	// Store writes the value at index, replacing any previous value.
	Store(index uint32, v Value) error
	// Delete removes the value at index. Deleting a missing index is not an error.
	Delete(index uint32) error
}

// MemBacking is a map-backed Backing for arrays that live only in memory.
type MemBacking struct {
	slots map[uint32]Value
}

// NewMemBacking creates an empty in-memory backing.
func NewMemBacking() *MemBacking {
	return &MemBacking{slots: make(map[uint32]Value)}
}

func (m *MemBacking) Load(index uint32) (Value, bool, error) {
	v, ok := m.slots[index]
	return v, ok, nil
}

func (m *MemBacking) Store(index uint32, v Value) error {
	m.slots[index] = v
	return nil
}

func (m *MemBacking) Delete(index uint32) error {
	delete(m.slots, index)
	return nil
}

// Len returns the number of stored slots.
func (m *MemBacking) Len() int {
	return len(m.slots)
}
