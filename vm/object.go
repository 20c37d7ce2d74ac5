package vm

// Struct ids double as the type tag for both builtin heap shapes and
// user-defined small objects. Builtin shapes
// get small reserved ids; user struct ids (registered in the StructTable,
// see symtab.go) start above lastBuiltinStructID.
const (
	NullStructID     uint32 = 0 // marks a free cell
	sentinelStructID uint32 = 1 // page slot 0 guard

	StructIDList        uint32 = 2
	StructIDMap         uint32 = 3
	StructIDString      uint32 = 4
	StructIDLambda      uint32 = 5
	StructIDClosure     uint32 = 6
	StructIDFiber       uint32 = 7
	StructIDSmallObject uint32 = 8
	StructIDBigObject   uint32 = 9

	lastBuiltinStructID = StructIDBigObject
)

// debugChecks enables the extra assertions reserved for debug builds
// (use-after-free detection in retain, release and free; the verification
// rc counter is separate, see Heap.EnableDebugRC). A package-level
// var rather than a build tag keeps it toggleable from tests (see
// refcount.go's EnableDebugChecks).
var debugChecks = false

// HeapObject is the single, uniformly pooled cell shape every builtin and
// user-defined heap value is allocated from. In
// C, the concrete shapes below would overlap the same 40 bytes; Go's
// garbage collector does not let a raw byte array safely hide a live
// pointer (a []Value or []byte backing array stashed as bytes would be
// invisible to the collector and could be reclaimed out from under a live
// cell). HeapObject is therefore one flat struct carrying every shape's
// fields as ordinary, GC-visible Go fields, discriminated by structId —
// same "one shape, fixed layout, pooled via an intrusive free list"
// design, sized to real data instead of a packed 40-byte union. See
// DESIGN.md for the full rationale.
type HeapObject struct {
	structId uint32
	rc       uint32

	// free-list bookkeeping, valid only while structId == NullStructID.
	// Storing the next pointer directly in the freed cell (rather than in
	// an auxiliary node) makes the free list self-referential — no
	// separate allocation needed to track free spans.
	freeLen  uint32
	freeNext *HeapObject

	// List
	listElems      []Value
	listNextIterIdx uint32

	// Map
	mapEntries  []mapEntry
	mapSize     uint32 // live key count
	mapIterIdx  uint32 // cursor for iterate

	// String
	strBytes []byte

	// Lambda / Closure
	funcPc      uint32
	numParams   uint8
	numLocals   uint32
	captured    [3]Value
	numCaptured uint8

	// Fiber
	fiberStack     []Value
	fiberPc        uint32
	fiberFramePtr  uint32
	fiberPrevFiber *HeapObject

	// SmallObject
	smallFields   [4]Value
	smallNumFields uint8

	// BigObject
	bigFields []Value
}

type mapEntry struct {
	used bool
	key  Value
	val  Value
}

func (c *HeapObject) shapeName() string {
	switch c.structId {
	case StructIDList:
		return "list"
	case StructIDMap:
		return "map"
	case StructIDString:
		return "string"
	case StructIDLambda:
		return "lambda"
	case StructIDClosure:
		return "closure"
	case StructIDFiber:
		return "fiber"
	case StructIDSmallObject, StructIDBigObject:
		return "object"
	default:
		return "object"
	}
}

// children returns every Value this object directly owns a reference to,
// for release and cycle detection.
func (c *HeapObject) children() []Value {
	switch c.structId {
	case StructIDList:
		return c.listElems
	case StructIDMap:
		out := make([]Value, 0, len(c.mapEntries)*2)
		for _, e := range c.mapEntries {
			if e.used {
				out = append(out, e.key, e.val)
			}
		}
		return out
	case StructIDClosure:
		return c.captured[:c.numCaptured]
	case StructIDSmallObject:
		return c.smallFields[:c.smallNumFields]
	case StructIDBigObject:
		return c.bigFields
	case StructIDFiber:
		return c.fiberStack
	default:
		if c.structId > lastBuiltinStructID {
			return c.smallFields[:c.smallNumFields] // user-struct small object
		}
		return nil
	}
}
