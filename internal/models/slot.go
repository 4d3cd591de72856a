package models

// Slot is an embedding dimension. Vectors of different slots are stored and
// searched independently and never compared with each other.
type Slot int

const (
	Slot384  Slot = 384
	Slot768  Slot = 768
	Slot1024 Slot = 1024
	Slot1536 Slot = 1536
)

// Slots lists every supported slot in ascending order.
var Slots = []Slot{Slot384, Slot768, Slot1024, Slot1536}

// SlotForDimension returns the slot for a vector of length n.
func SlotForDimension(n int) (Slot, bool) {
	for _, s := range Slots {
		if int(s) == n {
			return s, true
		}
	}
	return 0, false
}

// Dimensions returns the vector length of the slot.
func (s Slot) Dimensions() int {
	return int(s)
}
