package continuation

import (
	"io"
	"math"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/continuations/errors"
)

// codecMagic prefixes every encoded continuation.
var codecMagic = [4]byte{'C', 'O', 'N', 'T'}

// ObjectCodec encodes the reference stack. Encoding is batched so an
// implementation can preserve identity between entries that share an object.
type ObjectCodec interface {
	EncodeRefs(refs []any) ([]byte, error)
	DecodeRefs(data []byte, n int) ([]any, error)
}

// CBORCodec encodes references as plain CBOR values. It suits targets whose
// saved references are nil, strings, numbers or other self-describing data.
// int32, int64, float32 and float64 references keep their Go type; other
// integers decode as int64 or uint64 and maps as map[any]any.
type CBORCodec struct{}

var cborEnc = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type refKind byte

const (
	refPlain refKind = iota
	refInt32
	refInt64
	refFloat32
	refFloat64
)

type cborRef struct {
	K refKind `cbor:"1,keyasint,omitempty"`
	V any     `cbor:"2,keyasint"`
}

// EncodeRefs implements ObjectCodec.
func (CBORCodec) EncodeRefs(refs []any) ([]byte, error) {
	wire := make([]cborRef, len(refs))
	for i, r := range refs {
		wire[i] = cborRef{V: r}
		switch r.(type) {
		case int32:
			wire[i].K = refInt32
		case int64:
			wire[i].K = refInt64
		case float32:
			wire[i].K = refFloat32
		case float64:
			wire[i].K = refFloat64
		}
	}
	return cborEnc.Marshal(wire)
}

// DecodeRefs implements ObjectCodec.
func (CBORCodec) DecodeRefs(data []byte, n int) ([]any, error) {
	var wire []cborRef
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	if len(wire) != n {
		return nil, formatError("reference payload holds %d values, header says %d", len(wire), n)
	}
	out := make([]any, n)
	for i, w := range wire {
		v, err := w.value()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r cborRef) value() (any, error) {
	switch r.K {
	case refPlain:
		return r.V, nil
	case refInt32, refInt64:
		n, ok := cborInt(r.V)
		if !ok || (r.K == refInt32 && (n < math.MinInt32 || n > math.MaxInt32)) {
			return nil, formatError("reference %v is not a valid %s", r.V, r.K)
		}
		if r.K == refInt32 {
			return int32(n), nil
		}
		return n, nil
	case refFloat32, refFloat64:
		f, ok := r.V.(float64)
		if !ok {
			return nil, formatError("reference %v is not a valid %s", r.V, r.K)
		}
		if r.K == refFloat32 {
			return float32(f), nil
		}
		return f, nil
	}
	return nil, formatError("unknown reference kind %d", r.K)
}

func (k refKind) String() string {
	switch k {
	case refInt32:
		return "int32"
	case refInt64:
		return "int64"
	case refFloat32:
		return "float32"
	case refFloat64:
		return "float64"
	}
	return "value"
}

func cborInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

// Encode serializes a suspended continuation: for each typed stack a count
// followed by the values in push order, then a trailing lifecycle flag. The
// target is not part of the encoding. A nil codec selects CBORCodec.
func Encode(c *Continuation, codec ObjectCodec) ([]byte, error) {
	if c.state != StateSuspended {
		return nil, illegalState("encode of a %s continuation", c.state)
	}
	if codec == nil {
		codec = CBORCodec{}
	}
	s := c.stack
	b := append([]byte(nil), codecMagic[:]...)

	b = appendCount(b, s.ints.top)
	for _, v := range s.ints.values() {
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
	}
	b = appendCount(b, s.floats.top)
	for _, v := range s.floats.values() {
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	b = appendCount(b, s.longs.top)
	for _, v := range s.longs.values() {
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
	}
	b = appendCount(b, s.doubles.top)
	for _, v := range s.doubles.values() {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}

	b = appendCount(b, s.refs.top)
	payload, err := codec.EncodeRefs(s.refs.values())
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCodec, errors.KindInvalidData, err, "encode references")
	}
	b = protowire.AppendBytes(b, payload)

	return append(b, byte(c.state)), nil
}

func appendCount(b []byte, n int) []byte {
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(n)))
}

// Decode reconstructs a suspended continuation from Encode output. The
// target is supplied by the caller. Decode fails with an error matching
// ErrFormat on negative counts, truncated input, unknown flags or trailing
// bytes.
func Decode(data []byte, target Target, codec ObjectCodec, opts ...Option) (*Continuation, error) {
	if codec == nil {
		codec = CBORCodec{}
	}
	if len(data) < len(codecMagic) || [4]byte(data[:4]) != codecMagic {
		return nil, formatError("missing continuation header")
	}
	d := decoder{buf: data[4:], pos: 4}
	c := New(target, opts...)
	s := c.stack

	n, err := d.count("int", 1)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		v, err := d.varint("int")
		if err != nil {
			return nil, err
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, formatError("int value %d out of range at offset %d", v, d.pos)
		}
		s.PushInt(int32(v))
	}

	if n, err = d.count("float", 4); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		v, m := protowire.ConsumeFixed32(d.buf)
		if m < 0 {
			return nil, d.truncated("float")
		}
		d.advance(m)
		s.PushFloat(math.Float32frombits(v))
	}

	if n, err = d.count("long", 1); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		v, err := d.varint("long")
		if err != nil {
			return nil, err
		}
		s.PushLong(v)
	}

	if n, err = d.count("double", 8); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		v, m := protowire.ConsumeFixed64(d.buf)
		if m < 0 {
			return nil, d.truncated("double")
		}
		d.advance(m)
		s.PushDouble(math.Float64frombits(v))
	}

	if n, err = d.count("ref", 0); err != nil {
		return nil, err
	}
	payload, m := protowire.ConsumeBytes(d.buf)
	if m < 0 {
		return nil, d.truncated("ref payload")
	}
	d.advance(m)
	refs, err := codec.DecodeRefs(payload, n)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCodec, errors.KindInvalidData, err, "decode references")
	}
	if len(refs) != n {
		return nil, formatError("reference codec returned %d values, want %d", len(refs), n)
	}
	for _, r := range refs {
		s.PushRef(r)
	}

	if len(d.buf) == 0 {
		return nil, d.truncated("lifecycle flag")
	}
	if State(d.buf[0]) != StateSuspended {
		return nil, formatError("unexpected lifecycle flag %d", d.buf[0])
	}
	d.advance(1)
	if len(d.buf) != 0 {
		return nil, formatError("%d trailing bytes", len(d.buf))
	}

	c.state = StateSuspended
	return c, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) advance(n int) {
	d.buf = d.buf[n:]
	d.pos += n
}

func (d *decoder) varint(what string) (int64, error) {
	v, n := protowire.ConsumeVarint(d.buf)
	if n < 0 {
		return 0, d.truncated(what)
	}
	d.advance(n)
	return protowire.DecodeZigZag(v), nil
}

// count reads a stack depth and checks it against the remaining input given
// the minimum encoded size of one value.
func (d *decoder) count(what string, minSize int) (int, error) {
	n, err := d.varint(what + " count")
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, formatError("negative %s count %d", what, n)
	}
	if minSize > 0 && n > int64(len(d.buf)/minSize) {
		return 0, d.truncated(what + " values")
	}
	if n > math.MaxInt32 {
		return 0, formatError("%s count %d too large", what, n)
	}
	return int(n), nil
}

func (d *decoder) truncated(what string) error {
	return errors.New(errors.PhaseCodec, errors.KindInvalidData).
		Detail("%s truncated at offset %d", what, d.pos).
		Cause(io.ErrUnexpectedEOF).
		Build()
}

func formatError(format string, args ...any) error {
	return errors.New(errors.PhaseCodec, errors.KindInvalidData).Detail(format, args...).Build()
}
