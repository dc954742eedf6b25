package vm

import (
	"sync"
	"unicode/utf16"
)

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// stringFields caches the java/lang/String layout.
type stringFields struct {
	data, offset, length, hash int
}

func (m *Machine) stringLayout() stringFields {
	s := m.types.String
	return stringFields{
		data:   mustField(s, "data", "Ljava/lang/Object;").Offset,
		offset: mustField(s, "offset", "I").Offset,
		length: mustField(s, "length", "I").Offset,
		hash:   mustField(s, "hashCode", "I").Offset,
	}
}

// MakeString allocates a java/lang/String holding s as UTF-16.
func (m *Machine) MakeString(t *Thread, s string) (*Object, error) {
	return m.MakeStringFromChars(t, utf16.Encode([]rune(s)))
}

// MakeStringFromChars allocates a java/lang/String over a copy of chars.
func (m *Machine) MakeStringFromChars(t *Thread, chars []uint16) (*Object, error) {
	data, err := m.MakeArray(t, m.types.CharArray, len(chars))
	if err != nil {
		return nil, err
	}
	for i, c := range chars {
		data.SetUint16(ArrayBody+2*i, c)
	}
	release := t.Protect(&data)
	defer release()

	str, err := m.Make(t, m.types.String)
	if err != nil {
		return nil, err
	}
	str.SetRef(m.stringFields.data, data)
	str.SetInt32(m.stringFields.length, int32(len(chars)))
	return str, nil
}

// StringChars returns the UTF-16 units of a java/lang/String.
func (m *Machine) StringChars(s *Object) []uint16 {
	data := s.GetRef(m.stringFields.data)
	offset := int(s.GetInt32(m.stringFields.offset))
	n := int(s.GetInt32(m.stringFields.length))
	out := make([]uint16, n)
	if data == nil {
		return out
	}
	if data.Class().ArrayElementSize == 1 {
		for i := range out {
			out[i] = uint16(uint8(data.GetInt8(ArrayBody + offset + i)))
		}
		return out
	}
	for i := range out {
		out[i] = data.GetUint16(ArrayBody + 2*(offset+i))
	}
	return out
}

// StringValue converts a java/lang/String to a Go string. A nil string
// converts to "".
func (m *Machine) StringValue(s *Object) string {
	if s == nil {
		return ""
	}
	return utf16ToString(m.StringChars(s))
}

// StringLength returns the length in UTF-16 units.
func (m *Machine) StringLength(s *Object) int {
	return int(s.GetInt32(m.stringFields.length))
}

// StringHash computes java.lang.String.hashCode, caching it in the
// string.
func (m *Machine) StringHash(s *Object) int32 {
	if h := s.GetInt32(m.stringFields.hash); h != 0 {
		return h
	}
	var h int32
	for _, c := range m.StringChars(s) {
		h = 31*h + int32(c)
	}
	s.SetInt32(m.stringFields.hash, h)
	return h
}

func utf16ToString(units []uint16) string {
	return string(utf16.Decode(units))
}

// ---------------------------------------------------------------------------
// Intern table
// ---------------------------------------------------------------------------

// stringTable maps contents to the canonical interned string. Entries
// are weak: the collector drops strings it finds unreachable.
type stringTable struct {
	mu sync.Mutex
	m  map[string]*Object
}

func newStringTable() *stringTable {
	return &stringTable{m: make(map[string]*Object)}
}

func (st *stringTable) sweep(live func(*Object) bool) int {
	dropped := 0
	for k, o := range st.m {
		if !live(o) {
			delete(st.m, k)
			dropped++
		}
	}
	return dropped
}

// Intern returns the canonical java/lang/String for s.
func (m *Machine) Intern(t *Thread, s string) (*Object, error) {
	unlock := t.acquire(&m.strings.mu)
	if o, ok := m.strings.m[s]; ok {
		unlock()
		return o, nil
	}
	unlock()

	o, err := m.MakeString(t, s)
	if err != nil {
		return nil, err
	}

	unlock = t.acquire(&m.strings.mu)
	defer unlock()
	if existing, ok := m.strings.m[s]; ok {
		return existing, nil
	}
	m.strings.m[s] = o
	return o, nil
}

// InternString returns the canonical instance of the java/lang/String o.
func (m *Machine) InternString(t *Thread, o *Object) (*Object, error) {
	s := m.StringValue(o)
	unlock := t.acquire(&m.strings.mu)
	defer unlock()
	if existing, ok := m.strings.m[s]; ok {
		return existing, nil
	}
	m.strings.m[s] = o
	return o, nil
}
