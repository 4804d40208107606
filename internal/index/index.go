// Package index provides the in-memory mapping from key to the location of
// its live entry. It is rebuilt from the log on every open and mutated in
// lockstep with log writes; it is never persisted.
package index

// Location identifies a live logical entry in the log.
type Location struct {
	// Offset is the absolute byte offset of the entry's head fragment.
	Offset uint
	// Size is the total on-flash footprint of the entry across all of its
	// fragments, including headers, checksums and padding.
	Size uint
	// Length is the logical payload length in bytes.
	Length uint
}

// Index maps keys to the location of their current live entry. An absent key
// means "not present". Not safe for concurrent mutation; the store's single
// logical owner serializes access.
type Index struct {
	m map[uint16]Location
}

// New returns an empty index.
func New() *Index {
	return &Index{m: make(map[uint16]Location)}
}

// Insert records loc as the live location for key, superseding any prior
// mapping.
func (x *Index) Insert(key uint16, loc Location) {
	x.m[key] = loc
}

// Remove deletes the mapping for key, if any.
func (x *Index) Remove(key uint16) {
	delete(x.m, key)
}

// Lookup returns the live location for key.
func (x *Index) Lookup(key uint16) (Location, bool) {
	loc, ok := x.m[key]
	return loc, ok
}

// Len returns the number of live keys.
func (x *Index) Len() int {
	return len(x.m)
}

// Used returns the summed on-flash footprint of all live entries. Because it
// is derived from the live set alone, it cannot drift no matter how much
// stale garbage the log holds.
func (x *Index) Used() uint {
	var n uint
	for _, loc := range x.m {
		n += loc.Size
	}
	return n
}

// Range calls fn for every live (key, location) pair until fn returns false.
// Iteration order carries no guarantee beyond covering exactly the live set.
func (x *Index) Range(fn func(key uint16, loc Location) bool) {
	for k, loc := range x.m {
		if !fn(k, loc) {
			return
		}
	}
}

// Reset drops every mapping.
func (x *Index) Reset() {
	x.m = make(map[uint16]Location)
}
