package types

// MemberSpec is the pre-layout description of one struct/union member, as
// the parser builds it before LayoutStruct computes offsets (spec ss4.C
// "Aggregate types").
type MemberSpec struct {
	Name      string
	Type      *Type
	BitWidth  int  // -1 means "not a bitfield"
	Anon      bool
}

func alignUp64(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// LayoutStruct computes member offsets, total size, and alignment for a
// non-union struct, honoring bitfield packing and zero-width alignment
// boundaries (spec ss4.C): for each non-bitfield member, align the running
// bit offset up to the member's alignment; for bitfields, pack into the
// same storage unit while they fit, and treat a zero-width bitfield as a
// forced alignment boundary. The trailing member may be a flexible array.
func LayoutStruct(t *Type, specs []MemberSpec, packed bool, explicitAlign int64) {
	var bitCursor int64 // position within the struct, in bits
	var maxAlign int64 = 1
	var members []*Field

	var curUnit *Type   // storage-unit type of an in-progress bitfield run
	var curUnitStart int64
	var curUnitBits int64

	flushUnit := func() {
		curUnit = nil
		curUnitStart = 0
		curUnitBits = 0
	}

	for i, spec := range specs {
		isLast := i == len(specs)-1
		if isLast && spec.Type.Kind == Array && spec.Type.ArrayLen < 0 {
			t.FlexArray = true
			members = append(members, &Field{Name: spec.Name, Type: spec.Type, ByteOff: bitCursor / 8, GEPIndex: i, Anon: spec.Anon})
			continue
		}

		if spec.BitWidth >= 0 {
			if spec.BitWidth == 0 {
				// Zero-width bitfield: force alignment to the next
				// storage-unit boundary and start a fresh unit.
				unitBits := spec.Type.Size * 8
				bitCursor = alignUp64(bitCursor, unitBits)
				flushUnit()
				continue
			}
			align := spec.Type.Align
			if packed {
				align = 1
			}
			unitBits := spec.Type.Size * 8
			fits := curUnit != nil && curUnit == spec.Type && curUnitBits+int64(spec.BitWidth) <= unitBits
			if !fits {
				bitCursor = alignUp64(bitCursor, align*8)
				curUnit = spec.Type
				curUnitStart = bitCursor
				curUnitBits = 0
			}
			bitOffsetInUnit := curUnitBits
			members = append(members, &Field{
				Name: spec.Name, Type: spec.Type,
				ByteOff: curUnitStart / 8, BitOff: int(bitOffsetInUnit), BitWidth: spec.BitWidth,
				GEPIndex: i, Anon: spec.Anon,
			})
			curUnitBits += int64(spec.BitWidth)
			bitCursor = curUnitStart + curUnitBits
			if align > maxAlign {
				maxAlign = align
			}
			continue
		}

		flushUnit()
		align := spec.Type.Align
		if packed {
			align = 1
		}
		bitCursor = alignUp64(bitCursor, align*8)
		members = append(members, &Field{Name: spec.Name, Type: spec.Type, ByteOff: bitCursor / 8, GEPIndex: i, Anon: spec.Anon})
		bitCursor += spec.Type.Size * 8
		if align > maxAlign {
			maxAlign = align
		}
	}

	if explicitAlign > maxAlign {
		maxAlign = explicitAlign
	}
	if packed {
		maxAlign = 1
		if explicitAlign > 0 {
			maxAlign = explicitAlign
		}
	}

	size := alignUp64(bitCursor/8, maxAlign)
	if size == 0 {
		size = maxAlign // empty struct still occupies at least its alignment, matching the original's struct layout
	}

	t.Members = members
	t.Align = maxAlign
	t.Size = size
	t.IsPacked = packed
}

// LayoutUnion computes union size/alignment: alignment is the max member
// alignment, size is the max member size, both aligned up (spec ss4.C).
func LayoutUnion(t *Type, specs []MemberSpec, packed bool, explicitAlign int64) {
	var maxAlign int64 = 1
	var maxSize int64
	var members []*Field
	for i, spec := range specs {
		align := spec.Type.Align
		if packed {
			align = 1
		}
		if align > maxAlign {
			maxAlign = align
		}
		if spec.Type.Size > maxSize {
			maxSize = spec.Type.Size
		}
		members = append(members, &Field{Name: spec.Name, Type: spec.Type, ByteOff: 0, GEPIndex: i, Anon: spec.Anon})
	}
	if explicitAlign > maxAlign {
		maxAlign = explicitAlign
	}
	t.Members = members
	t.Align = maxAlign
	t.Size = alignUp64(maxSize, maxAlign)
	t.IsPacked = packed
}
