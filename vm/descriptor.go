package vm

import (
	"fmt"
	"strings"
)

// MethodSpec is a parsed method descriptor such as "(IJLjava/lang/String;)V".
type MethodSpec struct {
	Parameters []string    // one type descriptor per parameter
	Codes      []FieldCode // storage kind per parameter
	Return     string
	ReturnCode FieldCode
}

// Footprint returns the number of argument slots the parameters occupy,
// excluding any receiver. Long and double take two slots.
func (s *MethodSpec) Footprint() int {
	n := 0
	for _, c := range s.Codes {
		if c.Wide() {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// ParseMethodSpec parses a method descriptor.
func ParseMethodSpec(spec string) (*MethodSpec, error) {
	if len(spec) < 3 || spec[0] != '(' {
		return nil, fmt.Errorf("%w: %q", ErrBadDescriptor, spec)
	}
	ms := &MethodSpec{}
	i := 1
	for i < len(spec) && spec[i] != ')' {
		end, err := scanFieldSpec(spec, i)
		if err != nil {
			return nil, err
		}
		p := spec[i:end]
		code, _ := FieldCodeOf(p[0])
		if code == VoidField {
			return nil, fmt.Errorf("%w: void parameter in %q", ErrBadDescriptor, spec)
		}
		ms.Parameters = append(ms.Parameters, p)
		ms.Codes = append(ms.Codes, code)
		i = end
	}
	if i >= len(spec) {
		return nil, fmt.Errorf("%w: unterminated parameters in %q", ErrBadDescriptor, spec)
	}
	i++
	end, err := scanFieldSpec(spec, i)
	if err != nil {
		return nil, err
	}
	if end != len(spec) {
		return nil, fmt.Errorf("%w: trailing data in %q", ErrBadDescriptor, spec)
	}
	ms.Return = spec[i:end]
	ms.ReturnCode, _ = FieldCodeOf(ms.Return[0])
	return ms, nil
}

// scanFieldSpec returns the end index of the field descriptor starting at i.
func scanFieldSpec(spec string, i int) (int, error) {
	if i >= len(spec) {
		return 0, fmt.Errorf("%w: truncated %q", ErrBadDescriptor, spec)
	}
	switch spec[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 'V':
		return i + 1, nil
	case 'L':
		semi := strings.IndexByte(spec[i:], ';')
		if semi < 0 {
			return 0, fmt.Errorf("%w: unterminated class name in %q", ErrBadDescriptor, spec)
		}
		return i + semi + 1, nil
	case '[':
		return scanFieldSpec(spec, i+1)
	}
	return 0, fmt.Errorf("%w: bad type %q in %q", ErrBadDescriptor, spec[i], spec)
}

// FieldSpecCode returns the storage kind of a field descriptor.
func FieldSpecCode(spec string) (FieldCode, error) {
	if spec == "" {
		return VoidField, fmt.Errorf("%w: empty field descriptor", ErrBadDescriptor)
	}
	end, err := scanFieldSpec(spec, 0)
	if err != nil {
		return VoidField, err
	}
	if end != len(spec) || spec[0] == 'V' {
		return VoidField, fmt.Errorf("%w: %q", ErrBadDescriptor, spec)
	}
	code, _ := FieldCodeOf(spec[0])
	return code, nil
}

// ClassNameOfSpec turns "Ljava/lang/String;" into "java/lang/String" and
// leaves array descriptors unchanged.
func ClassNameOfSpec(spec string) string {
	if len(spec) > 2 && spec[0] == 'L' && spec[len(spec)-1] == ';' {
		return spec[1 : len(spec)-1]
	}
	return spec
}

// primitiveSpecs maps descriptor characters to primitive class names.
var primitiveSpecs = map[byte]string{
	'Z': "boolean",
	'B': "byte",
	'C': "char",
	'S': "short",
	'I': "int",
	'F': "float",
	'J': "long",
	'D': "double",
	'V': "void",
}
