package vm

import "strconv"

// newString allocates a String heap object. Strings are immutable once
// constructed: every operation below that "modifies" a string
// allocates a fresh cell rather than mutating strBytes in place.
func (h *Heap) newString(b []byte) Value {
	c := h.alloc()
	c.structId = StructIDString
	c.rc = 1
	c.strBytes = b
	return fromPointer(c)
}

func (h *Heap) newStringFromGo(s string) Value {
	return h.newString([]byte(s))
}

func asString(v Value) *HeapObject {
	if !v.isPointer() || v.asPointer().structId != StructIDString {
		panic("vm: value is not a string")
	}
	return v.asPointer()
}

func stringBytes(c *HeapObject) []byte { return c.strBytes }

func stringLen(c *HeapObject) int { return len(c.strBytes) }

// concat implements string concatenation: always a new
// allocation, never appends in place to either operand's backing array.
func (h *Heap) concatStrings(a, b *HeapObject) Value {
	out := make([]byte, len(a.strBytes)+len(b.strBytes))
	copy(out, a.strBytes)
	copy(out[len(a.strBytes):], b.strBytes)
	return h.newString(out)
}

// stringify renders any Value as text for use inside a template
//.
func (h *Heap) stringify(v Value) string {
	switch {
	case v.isNumber():
		return strconv.FormatFloat(v.asF64(), 'g', -1, 64)
	case !v.isPointer():
		switch v.getTag() {
		case TagNone:
			return "none"
		case TagBool:
			if v.asBool() {
				return "true"
			}
			return "false"
		case TagInt:
			return strconv.FormatInt(int64(v.asInt()), 10)
		case TagSymbol:
			return "<symbol>"
		case TagError:
			return "<error>"
		case TagUserTag:
			return "<tag>"
		default:
			return "<value>"
		}
	default:
		p := v.asPointer()
		switch p.structId {
		case StructIDString:
			return string(p.strBytes)
		default:
			return "<" + p.shapeName() + ">"
		}
	}
}

// formatTemplate joins constant-string fragments (looked up in the
// program's constant-string buffer) with the stringified interleaved
// Values, e.g. for `"x = {x}"` style literals compiled down to an
// alternating fragment/value opcode sequence.
func (h *Heap) formatTemplate(fragments []string, values []Value) Value {
	out := fragments[0]
	for i, v := range values {
		out += h.stringify(v)
		if i+1 < len(fragments) {
			out += fragments[i+1]
		}
	}
	return h.newStringFromGo(out)
}
