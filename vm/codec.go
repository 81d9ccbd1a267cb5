package vm

import (
	"math"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/continuations/errors"
)

type wireKind byte

const (
	wireNull wireKind = iota
	wireInt
	wireFloat
	wireLong
	wireDouble
	wireString
	wireObject
)

// wireValue carries integers, object ids and the IEEE 754 bits of floats in
// I, so negative zero and NaN payloads survive.
type wireValue struct {
	K wireKind `cbor:"1,keyasint"`
	I int64    `cbor:"2,keyasint,omitempty"`
	S string   `cbor:"4,keyasint,omitempty"`
}

type wireObj struct {
	Class  string               `cbor:"1,keyasint"`
	Fields map[string]wireValue `cbor:"2,keyasint,omitempty"`
}

type wireGraph struct {
	Objects []wireObj   `cbor:"1,keyasint,omitempty"`
	Refs    []wireValue `cbor:"2,keyasint,omitempty"`
}

var graphEnc = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// GraphCodec encodes the reference stack of a continuation as an object
// graph. Objects reachable from several entries or fields are written once,
// so identity and cycles survive a round trip. Decoding instantiates objects
// of classes loaded in the VM.
type GraphCodec struct {
	vm *VM
}

// ObjectCodec returns a codec for reference stacks holding VM values.
func (vm *VM) ObjectCodec() *GraphCodec {
	return &GraphCodec{vm: vm}
}

type graphEncoder struct {
	ids     map[*Object]int64
	objects []wireObj
}

// EncodeRefs implements continuation.ObjectCodec.
func (g *GraphCodec) EncodeRefs(refs []any) ([]byte, error) {
	e := &graphEncoder{ids: make(map[*Object]int64)}
	graph := wireGraph{Refs: make([]wireValue, len(refs))}
	for i, r := range refs {
		v, err := e.value(r)
		if err != nil {
			return nil, err
		}
		graph.Refs[i] = v
	}
	graph.Objects = e.objects
	return graphEnc.Marshal(graph)
}

func (e *graphEncoder) value(v any) (wireValue, error) {
	switch x := v.(type) {
	case nil:
		return wireValue{K: wireNull}, nil
	case int32:
		return wireValue{K: wireInt, I: int64(x)}, nil
	case int64:
		return wireValue{K: wireLong, I: x}, nil
	case float32:
		return wireValue{K: wireFloat, I: int64(math.Float32bits(x))}, nil
	case float64:
		return wireValue{K: wireDouble, I: int64(math.Float64bits(x))}, nil
	case string:
		return wireValue{K: wireString, S: x}, nil
	case *Object:
		id, err := e.object(x)
		return wireValue{K: wireObject, I: id}, err
	}
	return wireValue{}, errors.New(errors.PhaseCodec, errors.KindUnsupported).
		Detail("cannot encode %T", v).
		Build()
}

func (e *graphEncoder) object(o *Object) (int64, error) {
	if id, ok := e.ids[o]; ok {
		return id, nil
	}
	id := int64(len(e.objects))
	e.ids[o] = id
	e.objects = append(e.objects, wireObj{Class: o.class.name})

	names := make([]string, 0, len(o.fields))
	for name := range o.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make(map[string]wireValue, len(names))
	for _, name := range names {
		v, err := e.value(o.fields[name])
		if err != nil {
			return 0, err
		}
		fields[name] = v
	}
	e.objects[id].Fields = fields
	return id, nil
}

// DecodeRefs implements continuation.ObjectCodec.
func (g *GraphCodec) DecodeRefs(data []byte, n int) ([]any, error) {
	var graph wireGraph
	if err := cbor.Unmarshal(data, &graph); err != nil {
		return nil, errors.Wrap(errors.PhaseCodec, errors.KindInvalidData, err, "object graph")
	}
	if len(graph.Refs) != n {
		return nil, errors.InvalidData(errors.PhaseCodec, nil, "object graph reference count mismatch")
	}

	objects := make([]*Object, len(graph.Objects))
	for i, w := range graph.Objects {
		c, err := g.vm.class(w.Class)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseCodec, errors.KindNotFound, err, "object graph class")
		}
		objects[i] = newObject(c)
	}
	d := graphDecoder{objects: objects}
	for i, w := range graph.Objects {
		o := objects[i]
		for name, fv := range w.Fields {
			if _, ok := o.fields[name]; !ok {
				return nil, errors.InvalidData(errors.PhaseCodec, []string{w.Class, name}, "unknown field")
			}
			v, err := d.value(fv)
			if err != nil {
				return nil, err
			}
			o.fields[name] = v
		}
	}

	out := make([]any, n)
	for i, w := range graph.Refs {
		v, err := d.value(w)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type graphDecoder struct {
	objects []*Object
}

func (d graphDecoder) value(w wireValue) (any, error) {
	switch w.K {
	case wireNull:
		return nil, nil
	case wireInt:
		if w.I < math.MinInt32 || w.I > math.MaxInt32 {
			return nil, errors.InvalidData(errors.PhaseCodec, nil, "int value out of range")
		}
		return int32(w.I), nil
	case wireLong:
		return w.I, nil
	case wireFloat:
		if w.I < 0 || w.I > math.MaxUint32 {
			return nil, errors.InvalidData(errors.PhaseCodec, nil, "float bits out of range")
		}
		return math.Float32frombits(uint32(w.I)), nil
	case wireDouble:
		return math.Float64frombits(uint64(w.I)), nil
	case wireString:
		return w.S, nil
	case wireObject:
		if w.I < 0 || w.I >= int64(len(d.objects)) {
			return nil, errors.OutOfBounds(errors.PhaseCodec, []string{"object"}, int(w.I), len(d.objects))
		}
		return d.objects[w.I], nil
	}
	return nil, errors.InvalidData(errors.PhaseCodec, nil, "unknown value kind")
}
