// Package arena implements the bump allocator and string interner shared by
// every later compilation phase (component 4.A).
package arena

const defaultChunkSize = 64 * 1024

// Arena is a bump allocator over a growing list of byte chunks. Nothing
// handed out by Alloc is ever freed individually; the whole arena is
// dropped at once when the owning compilation context is destroyed.
type Arena struct {
	chunks   [][]byte
	cur      []byte
	used     int
	allocBytes int
}

// New returns an empty arena.
func New() *Arena {
	return &Arena{}
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// Alloc returns size bytes of zeroed, uninitialized-to-the-caller memory
// aligned to align (which must be a power of two). Growth is geometric:
// each new chunk at least doubles the previous chunk's size, so earlier
// pointers are never invalidated by a later Alloc.
func (a *Arena) Alloc(size, align int) []byte {
	if size < 0 {
		panic("arena: negative size")
	}
	if size == 0 {
		size = 1
	}
	start := alignUp(a.used, align)
	if a.cur == nil || start+size > len(a.cur) {
		chunkSize := defaultChunkSize
		if len(a.chunks) > 0 {
			chunkSize = len(a.chunks[len(a.chunks)-1]) * 2
		}
		for chunkSize < size+align {
			chunkSize *= 2
		}
		a.cur = make([]byte, chunkSize)
		a.chunks = append(a.chunks, a.cur)
		a.used = 0
		start = 0
	}
	a.used = start + size
	a.allocBytes += size
	return a.cur[start : start+size : start+size]
}

// Bytes returns the total number of bytes handed out so far (not counting
// chunk-internal alignment padding).
func (a *Arena) Bytes() int {
	return a.allocBytes
}

// Interner deduplicates byte strings into a single backing arena, returning
// a canonical string for each distinct input such that two equal inputs
// produce strings backed by the same bytes (see Intern).
type Interner struct {
	arena *Arena
	table map[string]string
}

// NewInterner returns an interner backed by its own arena.
func NewInterner() *Interner {
	return &Interner{arena: New(), table: make(map[string]string)}
}

// Intern returns the canonical stored copy of s. Two calls with equal s
// return string values backed by the same underlying array, so Go's
// built-in == (which special-cases identical data pointer + length) is a
// pointer compare in practice for interned strings.
func (in *Interner) Intern(s string) string {
	if existing, ok := in.table[s]; ok {
		return existing
	}
	buf := in.arena.Alloc(len(s), 1)
	copy(buf, s)
	canonical := string(buf)
	in.table[canonical] = canonical
	return canonical
}

// Len reports how many distinct strings have been interned.
func (in *Interner) Len() int {
	return len(in.table)
}
