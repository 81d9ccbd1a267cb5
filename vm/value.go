package vm

import (
	stderrors "errors"
	"fmt"
	"sync/atomic"

	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/errors"
)

// Values on the operand stack and in locals are int32, float32, int64,
// float64 or a reference. References are nil, string, *Object or *Exception.

var nextObjectID atomic.Uint64

// Object is an instance of a loaded class.
type Object struct {
	class  *class
	fields map[string]any
	id     uint64
}

func newObject(c *class) *Object {
	o := &Object{class: c, fields: make(map[string]any), id: nextObjectID.Add(1)}
	for k := c; k != nil; k = k.super {
		for _, f := range k.instanceFields {
			if _, shadowed := o.fields[f.Name]; !shadowed {
				o.fields[f.Name] = zeroValue(f.Descriptor)
			}
		}
	}
	return o
}

// Class returns the name of the object's class.
func (o *Object) Class() string { return o.class.name }

// Field returns a field value and whether the object has the field.
func (o *Object) Field(name string) (any, bool) {
	v, ok := o.fields[name]
	return v, ok
}

// SetField assigns a field declared by the object's class or a superclass.
func (o *Object) SetField(name string, v any) error {
	if _, ok := o.fields[name]; !ok {
		return errors.NotFound(errors.PhaseRuntime, "field", o.class.name+"."+name)
	}
	o.fields[name] = v
	return nil
}

func (o *Object) String() string {
	return fmt.Sprintf("%s@%d", o.class.name, o.id)
}

// Exception is a thrown value. Bytecode throws carry the thrown Object; faults
// and host function errors carry Err. Host errors are only caught by
// catch-all handlers.
type Exception struct {
	Object *Object
	Err    error
}

func (e *Exception) Error() string {
	if e.Err != nil {
		return "uncaught exception: " + e.Err.Error()
	}
	return "uncaught exception: " + e.Object.String()
}

func (e *Exception) Unwrap() error { return e.Err }

// asException converts any error into a throwable value.
func asException(err error) *Exception {
	var ex *Exception
	if stderrors.As(err, &ex) {
		return ex
	}
	return &Exception{Err: err}
}

func zeroValue(desc string) any {
	vt, err := classfile.ParseFieldDescriptor(desc)
	if err != nil {
		return nil
	}
	return zeroOf(vt)
}

func zeroOf(vt classfile.ValType) any {
	switch vt {
	case classfile.ValInt:
		return int32(0)
	case classfile.ValFloat:
		return float32(0)
	case classfile.ValLong:
		return int64(0)
	case classfile.ValDouble:
		return float64(0)
	}
	return nil
}

// checkValue reports whether v belongs to category vt.
func checkValue(vt classfile.ValType, v any) bool {
	switch vt {
	case classfile.ValInt:
		_, ok := v.(int32)
		return ok
	case classfile.ValFloat:
		_, ok := v.(float32)
		return ok
	case classfile.ValLong:
		_, ok := v.(int64)
		return ok
	case classfile.ValDouble:
		_, ok := v.(float64)
		return ok
	case classfile.ValRef:
		switch v.(type) {
		case nil, string, *Object, *Exception:
			return true
		}
	}
	return false
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func fault(kind errors.Kind, format string, args ...any) error {
	return errors.New(errors.PhaseRuntime, kind).Detail(format, args...).Build()
}
