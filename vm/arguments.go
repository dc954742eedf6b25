package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Value
// ---------------------------------------------------------------------------

// Value is a single Java value: raw primitive bits or a reference.
type Value struct {
	bits uint64
	ref  *Object
}

func IntValue(v int32) Value      { return Value{bits: uint64(uint32(v))} }
func LongValue(v int64) Value     { return Value{bits: uint64(v)} }
func FloatValue(v float32) Value  { return Value{bits: uint64(math.Float32bits(v))} }
func DoubleValue(v float64) Value { return Value{bits: math.Float64bits(v)} }
func RefValue(o *Object) Value    { return Value{ref: o} }
func BitsValue(bits uint64) Value { return Value{bits: bits} }
func CharValue(v uint16) Value    { return Value{bits: uint64(v)} }

// BoolValue encodes b as the int 0 or 1.
func BoolValue(b bool) Value {
	if b {
		return IntValue(1)
	}
	return IntValue(0)
}

func (v Value) Int() int32      { return int32(uint32(v.bits)) }
func (v Value) Long() int64     { return int64(v.bits) }
func (v Value) Float() float32  { return math.Float32frombits(uint32(v.bits)) }
func (v Value) Double() float64 { return math.Float64frombits(v.bits) }
func (v Value) Bool() bool      { return uint32(v.bits) != 0 }
func (v Value) Ref() *Object    { return v.ref }
func (v Value) Bits() uint64    { return v.bits }

// narrow truncates v to the storage width of code, sign or zero
// extending the way the JVM does for sub-int types.
func (v Value) narrow(code FieldCode) Value {
	switch code {
	case ByteField:
		return IntValue(int32(int8(v.bits)))
	case BooleanField:
		return IntValue(int32(uint8(v.bits) & 1))
	case CharField:
		return IntValue(int32(uint16(v.bits)))
	case ShortField:
		return IntValue(int32(int16(v.bits)))
	case IntField, FloatField:
		return Value{bits: uint64(uint32(v.bits))}
	}
	return v
}

// ---------------------------------------------------------------------------
// Arguments
// ---------------------------------------------------------------------------

// Arguments is the marshalled argument array handed to natives. Every
// reference, int-like and float argument takes one slot; long and double
// take two, high half first, on every platform. The receiver, when
// present, is slot 0.
type Arguments struct {
	slots []uint32
	refs  []*Object
}

// MarshalArguments lays out this (nil for static methods) and values
// according to the method descriptor spec.
func MarshalArguments(spec string, this *Object, values []Value) (*Arguments, error) {
	ms, err := ParseMethodSpec(spec)
	if err != nil {
		return nil, err
	}
	return marshalCodes(ms.Codes, this, values, this != nil)
}

func marshalCodes(codes []FieldCode, this *Object, values []Value, hasThis bool) (*Arguments, error) {
	if len(values) != len(codes) {
		return nil, fmt.Errorf("%d arguments for %d parameters", len(values), len(codes))
	}
	n := 0
	if hasThis {
		n++
	}
	for _, c := range codes {
		if c.Wide() {
			n += 2
		} else {
			n++
		}
	}
	a := &Arguments{slots: make([]uint32, n), refs: make([]*Object, n)}
	i := 0
	if hasThis {
		a.refs[0] = this
		i++
	}
	for j, c := range codes {
		v := values[j]
		switch {
		case c == ObjectField:
			a.refs[i] = v.ref
			i++
		case c.Wide():
			a.slots[i] = uint32(v.bits >> 32)
			a.slots[i+1] = uint32(v.bits)
			i += 2
		default:
			a.slots[i] = uint32(v.narrow(c).bits)
			i++
		}
	}
	return a, nil
}

// Len returns the number of slots.
func (a *Arguments) Len() int {
	return len(a.slots)
}

// Slot returns the raw 32 bits of slot i.
func (a *Arguments) Slot(i int) uint32 {
	return a.slots[i]
}

func (a *Arguments) Int(i int) int32      { return int32(a.slots[i]) }
func (a *Arguments) Bool(i int) bool      { return a.slots[i] != 0 }
func (a *Arguments) Float(i int) float32  { return math.Float32frombits(a.slots[i]) }
func (a *Arguments) Object(i int) *Object { return a.refs[i] }

// Long reads the two slots starting at i.
func (a *Arguments) Long(i int) int64 {
	return int64(uint64(a.slots[i])<<32 | uint64(a.slots[i+1]))
}

// Double reads the two slots starting at i.
func (a *Arguments) Double(i int) float64 {
	return math.Float64frombits(uint64(a.Long(i)))
}

// Values unmarshals the arguments of method back into a receiver and one
// Value per declared parameter.
func (a *Arguments) Values(method *Method) (this *Object, values []Value) {
	i := 0
	if !method.IsStatic() {
		this = a.refs[0]
		i++
	}
	values = make([]Value, len(method.ParameterCodes))
	for j, c := range method.ParameterCodes {
		switch {
		case c == ObjectField:
			values[j] = RefValue(a.refs[i])
			i++
		case c.Wide():
			values[j] = LongValue(a.Long(i))
			i += 2
		case c == IntField || c == FloatField:
			values[j] = Value{bits: uint64(a.slots[i])}
			i++
		default:
			values[j] = IntValue(int32(a.slots[i])).narrow(c)
			i++
		}
	}
	return this, values
}

// forEachRef reports every reference argument; used while a native holds
// the array so its references stay reachable.
func (a *Arguments) forEachRef(fn func(*Object)) {
	for _, r := range a.refs {
		if r != nil {
			fn(r)
		}
	}
}
