package classfile

import (
	"strings"

	"github.com/wippyai/continuations/errors"
)

// ValType is the computational category of a value. Every local slot and
// operand stack entry holds exactly one value of any category.
type ValType byte

const (
	ValInt    ValType = 'I'
	ValFloat  ValType = 'F'
	ValLong   ValType = 'J'
	ValDouble ValType = 'D'
	ValRef    ValType = 'A'
	ValVoid   ValType = 'V'
)

func (v ValType) String() string {
	switch v {
	case ValInt:
		return "int"
	case ValFloat:
		return "float"
	case ValLong:
		return "long"
	case ValDouble:
		return "double"
	case ValRef:
		return "ref"
	case ValVoid:
		return "void"
	}
	return "invalid"
}

// MethodType is a parsed method descriptor.
type MethodType struct {
	Params []ValType
	Result ValType
}

// Class is the in-memory form of a class file.
type Class struct {
	Name    string
	Super   string
	Fields  []Field
	Methods []*Method
	Flags   AccessFlags
}

// Field declares an instance or static field.
type Field struct {
	Name       string
	Descriptor string
	Flags      AccessFlags
}

// Method holds a method declaration and, unless abstract or native, its code.
type Method struct {
	Name       string
	Descriptor string
	Exceptions []string
	Code       []Instruction
	Handlers   []Handler
	Flags      AccessFlags
	MaxLocals  uint32
}

// Handler is an exception table entry. Start and End delimit the protected
// instruction range [Start, End). An empty CatchType catches anything.
type Handler struct {
	CatchType string
	Start     uint32
	End       uint32
	Target    uint32
}

// Method returns the method with the given name and descriptor, or nil.
func (c *Class) Method(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == desc {
			return m
		}
	}
	return nil
}

// Field returns the field with the given name, or nil.
func (c *Class) Field(name string) *Field {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}
	return nil
}

// IsStatic reports whether the method has no receiver.
func (m *Method) IsStatic() bool { return m.Flags.Has(AccStatic) }

// HasCode reports whether the method carries a body.
func (m *Method) HasCode() bool {
	return !m.Flags.Has(AccAbstract) && !m.Flags.Has(AccNative)
}

// IsConstructor reports whether the method is an instance initializer.
func (m *Method) IsConstructor() bool { return m.Name == InitName }

// Type parses the method descriptor.
func (m *Method) Type() (MethodType, error) {
	return ParseMethodDescriptor(m.Descriptor)
}

// ArgSlots returns the number of local slots occupied by the receiver and
// parameters on entry.
func (m *Method) ArgSlots() (int, error) {
	mt, err := m.Type()
	if err != nil {
		return 0, err
	}
	n := len(mt.Params)
	if !m.IsStatic() {
		n++
	}
	return n, nil
}

// Clone returns a deep copy of the method, safe to rewrite in place.
func (m *Method) Clone() *Method {
	out := *m
	out.Exceptions = append([]string(nil), m.Exceptions...)
	out.Handlers = append([]Handler(nil), m.Handlers...)
	out.Code = make([]Instruction, len(m.Code))
	for i, ins := range m.Code {
		out.Code[i] = ins.clone()
	}
	return &out
}

// Key identifies a method within its class.
func (m *Method) Key() string { return m.Name + m.Descriptor }

// ParseMethodDescriptor parses a descriptor such as "(IJLdemo/Point;[D)V".
func ParseMethodDescriptor(desc string) (MethodType, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return MethodType{}, descriptorError(desc, "missing parameter list")
	}
	var mt MethodType
	i := 1
	for i < len(desc) && desc[i] != ')' {
		vt, n, err := parseFieldType(desc, i)
		if err != nil {
			return MethodType{}, err
		}
		mt.Params = append(mt.Params, vt)
		i += n
	}
	if i >= len(desc) {
		return MethodType{}, descriptorError(desc, "unterminated parameter list")
	}
	i++
	if i < len(desc) && desc[i] == 'V' {
		if i+1 != len(desc) {
			return MethodType{}, descriptorError(desc, "trailing characters")
		}
		mt.Result = ValVoid
		return mt, nil
	}
	vt, n, err := parseFieldType(desc, i)
	if err != nil {
		return MethodType{}, err
	}
	if i+n != len(desc) {
		return MethodType{}, descriptorError(desc, "trailing characters")
	}
	mt.Result = vt
	return mt, nil
}

// ParseFieldDescriptor parses a single field type descriptor.
func ParseFieldDescriptor(desc string) (ValType, error) {
	vt, n, err := parseFieldType(desc, 0)
	if err != nil {
		return 0, err
	}
	if n != len(desc) {
		return 0, descriptorError(desc, "trailing characters")
	}
	return vt, nil
}

// ClassOf returns the class name a reference descriptor names, or "" for
// arrays and primitives.
func ClassOf(desc string) string {
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		return desc[1 : len(desc)-1]
	}
	return ""
}

func parseFieldType(desc string, i int) (ValType, int, error) {
	if i >= len(desc) {
		return 0, 0, descriptorError(desc, "unexpected end")
	}
	switch desc[i] {
	case 'Z', 'B', 'C', 'S', 'I':
		return ValInt, 1, nil
	case 'F':
		return ValFloat, 1, nil
	case 'J':
		return ValLong, 1, nil
	case 'D':
		return ValDouble, 1, nil
	case 'L':
		end := strings.IndexByte(desc[i:], ';')
		if end < 2 {
			return 0, 0, descriptorError(desc, "bad class type")
		}
		return ValRef, end + 1, nil
	case '[':
		_, n, err := parseFieldType(desc, i+1)
		if err != nil {
			return 0, 0, err
		}
		return ValRef, n + 1, nil
	}
	return 0, 0, descriptorError(desc, "unknown type character "+string(desc[i]))
}

func descriptorError(desc, detail string) error {
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Value(desc).
		Detail("descriptor %q: %s", desc, detail).
		Build()
}
