package vm

// symMapKind discriminates the self-adjusting shape a method or field
// symbol's map is in: empty
// until first registered, a monomorphic one-struct fast path after the
// first registration, promoted to a polymorphic many-structs map (MRU-cached)
// once a second distinct struct id shows up.
type symMapKind uint8

const (
	symMapEmpty symMapKind = iota
	symMapOneStruct
	symMapManyStructs
)

// methodEntry is what a method symbol resolves to: a callable's entry pc
// plus arity, enough for the interpreter to thread a new frame directly
// without a second lookup through the function symbol table.
type methodEntry struct {
	entryPC   uint32
	numParams uint8
	numLocals uint32
}

// MethodSymbolMap is one method name's self-adjusting dispatch table
//.
type MethodSymbolMap struct {
	kind       symMapKind
	oneStruct  uint32
	oneEntry   methodEntry
	mruStruct  uint32
	mruEntry   methodEntry
	aux        map[uint64]methodEntry // key: structId<<32 | methodId
}

func symKey(structID, methodID uint32) uint64 {
	return uint64(structID)<<32 | uint64(methodID)
}

// newMethodSymbolMap returns a map starting in the empty state.
func newMethodSymbolMap() *MethodSymbolMap {
	return &MethodSymbolMap{kind: symMapEmpty}
}

// resolve implements the empty/one-struct/many-structs branching of
// callObjSym. methodID identifies this method name globally
// (used only to key the aux hash once promoted).
func (m *MethodSymbolMap) resolve(methodID uint32, structID uint32) (methodEntry, bool) {
	switch m.kind {
	case symMapEmpty:
		return methodEntry{}, false
	case symMapOneStruct:
		if m.oneStruct == structID {
			return m.oneEntry, true
		}
		return methodEntry{}, false
	default: // symMapManyStructs
		if m.mruStruct == structID {
			return m.mruEntry, true
		}
		if e, ok := m.aux[symKey(structID, methodID)]; ok {
			m.mruStruct, m.mruEntry = structID, e
			return e, true
		}
		return methodEntry{}, false
	}
}

// install registers structID's implementation of methodID, promoting the
// map's kind as needed.
func (m *MethodSymbolMap) install(methodID uint32, structID uint32, e methodEntry) {
	switch m.kind {
	case symMapEmpty:
		m.kind = symMapOneStruct
		m.oneStruct = structID
		m.oneEntry = e
	case symMapOneStruct:
		if m.oneStruct == structID {
			m.oneEntry = e
			return
		}
		m.kind = symMapManyStructs
		m.aux = map[uint64]methodEntry{
			symKey(m.oneStruct, methodID): m.oneEntry,
			symKey(structID, methodID):    e,
		}
		m.mruStruct, m.mruEntry = structID, e
	default:
		m.aux[symKey(structID, methodID)] = e
		m.mruStruct, m.mruEntry = structID, e
	}
}

// fieldEntry is what a field symbol resolves to under the one-struct fast
// path: a slot index plus whether the owning shape is SmallObject (inline
// fields) or BigObject (slice-backed). objectGetField/objectSetField do not
// read isSmallObject; they pick the storage from the cell's structId.
type fieldEntry struct {
	slot          int
	isSmallObject bool
}

// FieldSymbolMap mirrors MethodSymbolMap but only supports the one-struct
// fast path for fields; polymorphic field access falls back to name-based
// map lookup (supporting maps used as records), so there is no aux/MRU
// tier here.
type FieldSymbolMap struct {
	kind      symMapKind
	oneStruct uint32
	oneEntry  fieldEntry
}

func newFieldSymbolMap() *FieldSymbolMap { return &FieldSymbolMap{kind: symMapEmpty} }

func (f *FieldSymbolMap) resolve(structID uint32) (fieldEntry, bool) {
	if f.kind == symMapOneStruct && f.oneStruct == structID {
		return f.oneEntry, true
	}
	return fieldEntry{}, false
}

func (f *FieldSymbolMap) install(structID uint32, e fieldEntry) {
	if f.kind == symMapEmpty {
		f.kind = symMapOneStruct
		f.oneStruct = structID
		f.oneEntry = e
		return
	}
	// A second distinct struct id demotes the fast path to "no cache" —
	// from then on only Map receivers resolve this field (by name-based
	// key lookup); object receivers of either struct get a "missing
	// field" panic.
	f.kind = symMapManyStructs
}

// funcSymbol is one entry of the function symbol table: either a bytecode
// function (entryPC/numParams/numLocals set) or a native function pointer
// (native set), never both.
type funcSymbol struct {
	entryPC   uint32
	numParams uint8
	numLocals uint32
	native    NativeFunc
}

func (s funcSymbol) isNative() bool { return s.native != nil }

// NativeFunc is the host ABI signature:
// receives the VM, a base stack index to read args from, and arg count;
// returns a single Value the call opcode writes into the new frame's
// slot 0.
type NativeFunc func(vm *VM, argsBase uint32, numArgs int) (Value, error)

// StructInfo is a struct table row.
type StructInfo struct {
	Name      string
	NumFields int
}

// SymbolTables bundles the append-only tables: method, field, function,
// struct, and global. All are populated once during program binding and
// never shrink — symbols are append-only during compilation/binding, never
// removed.
type SymbolTables struct {
	methods   map[uint32]*MethodSymbolMap // methodID -> map
	fields    map[uint32]*FieldSymbolMap      // fieldID -> map
	funcs     []funcSymbol                    // indexed by function symbol id
	structs   []StructInfo                    // indexed by struct id
	globals   map[string]uint32               // name -> function symbol id
	methodIDs map[string]uint32               // name -> method id, for registration
	fieldIDs  map[string]uint32                // name -> field id, for registration
}

func NewSymbolTables() *SymbolTables {
	// Ids 0..lastBuiltinStructID belong to the free-cell marker, the page
	// sentinel and the builtin shapes, so user structs are numbered above.
	structs := make([]StructInfo, lastBuiltinStructID+1)
	for id := range structs {
		structs[id].Name = "<builtin>"
	}
	structs[sentinelStructID].Name = "<sentinel>"
	return &SymbolTables{
		methods:   map[uint32]*MethodSymbolMap{},
		fields:    map[uint32]*FieldSymbolMap{},
		globals:   map[string]uint32{},
		methodIDs: map[string]uint32{},
		fieldIDs:  map[string]uint32{},
		structs:   structs,
	}
}

func (t *SymbolTables) methodID(name string) uint32 {
	if id, ok := t.methodIDs[name]; ok {
		return id
	}
	id := uint32(len(t.methodIDs))
	t.methodIDs[name] = id
	t.methods[id] = newMethodSymbolMap()
	return id
}

func (t *SymbolTables) fieldID(name string) uint32 {
	if id, ok := t.fieldIDs[name]; ok {
		return id
	}
	id := uint32(len(t.fieldIDs))
	t.fieldIDs[name] = id
	t.fields[id] = newFieldSymbolMap()
	return id
}

func (t *SymbolTables) RegisterMethod(name string, structID uint32, entryPC uint32, numParams uint8, numLocals uint32) uint32 {
	id := t.methodID(name)
	t.methods[id].install(id, structID, methodEntry{entryPC: entryPC, numParams: numParams, numLocals: numLocals})
	return id
}

func (t *SymbolTables) RegisterField(name string, structID uint32, slot int, isSmallObject bool) uint32 {
	id := t.fieldID(name)
	t.fields[id].install(structID, fieldEntry{slot: slot, isSmallObject: isSmallObject})
	return id
}

func (t *SymbolTables) RegisterFunc(name string, entryPC uint32, numParams uint8, numLocals uint32) uint32 {
	id := uint32(len(t.funcs))
	t.funcs = append(t.funcs, funcSymbol{entryPC: entryPC, numParams: numParams, numLocals: numLocals})
	t.globals[name] = id
	return id
}

func (t *SymbolTables) RegisterNative(name string, fn NativeFunc) uint32 {
	id := uint32(len(t.funcs))
	t.funcs = append(t.funcs, funcSymbol{native: fn})
	t.globals[name] = id
	return id
}

func (t *SymbolTables) RegisterStruct(name string, numFields int) uint32 {
	id := uint32(len(t.structs))
	t.structs = append(t.structs, StructInfo{Name: name, NumFields: numFields})
	return id
}

func (t *SymbolTables) LookupGlobal(name string) (uint32, bool) {
	id, ok := t.globals[name]
	return id, ok
}

func (t *SymbolTables) Func(id uint32) funcSymbol { return t.funcs[id] }

func (t *SymbolTables) StructName(id uint32) string {
	if int(id) < len(t.structs) {
		return t.structs[id].Name
	}
	return "<unknown>"
}
