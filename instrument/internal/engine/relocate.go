// Constructor call relocation.
//
// A capturing call must not run while an uninitialized reference is on the
// operand stack: the restore path cannot rebuild one, only new can. In
//
//	new C; dup; <args>; invokespecial C.<init>
//
// where <args> contains a capturing call, the arguments are evaluated before
// the allocation and spilled to fresh locals:
//
//	<args>; store pN..p0; new C; dup; load p0..pN; invokespecial C.<init>
//
// Loads run in parameter order, so the values reach the constructor as they
// were pushed. Nested allocations are relocated innermost first (highest new
// index), which leaves the evaluation order of every argument unchanged.
package engine

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/errors"
	"github.com/wippyai/continuations/instrument/internal/codegen"
)

// Relocate moves constructor arguments containing capturing calls ahead of
// their allocation. It returns m itself when nothing needs to move, and the
// verified frames of the returned method.
func (e *Engine) Relocate(c *classfile.Class, m *classfile.Method) (*classfile.Method, *classfile.Frames, error) {
	out := m
	for round := 0; ; round++ {
		frames, err := classfile.Analyze(c, out)
		if err != nil {
			return nil, nil, err
		}
		n, ok := innermostNew(out, frames, e.sites(c, out))
		if !ok {
			return out, frames, nil
		}
		if round > len(m.Code) {
			return nil, nil, reject(c, m, n, "constructor relocation does not converge")
		}
		if out == m {
			out = m.Clone()
		}
		if err := relocateAt(c, out, frames, n); err != nil {
			return nil, nil, err
		}
		e.log.Debug("relocated constructor call",
			zap.String("method", c.Name+"."+m.Key()),
			zap.Int("new", n))
	}
}

// innermostNew returns the latest allocation whose uninitialized reference is
// on the stack at a capturing site.
func innermostNew(m *classfile.Method, frames *classfile.Frames, kinds []SiteKind) (int, bool) {
	best := -1
	for pc, k := range kinds {
		if k != SiteCapturing || !frames.Reachable(pc) {
			continue
		}
		for _, t := range frames.In[pc].Stack {
			if t.Kind == classfile.VUninit && int(t.NewAt) > best {
				best = int(t.NewAt)
			}
		}
	}
	return best, best >= 0
}

func relocateAt(c *classfile.Class, m *classfile.Method, frames *classfile.Frames, n int) error {
	code := m.Code
	if n+1 >= len(code) || code[n+1].Opcode != classfile.OpDup {
		return reject(c, m, n, "new is not followed by dup")
	}
	u := classfile.UninitType(uint32(n))
	depth := len(frames.In[n].Stack)

	end := -1
	var mt classfile.MethodType
	for pc := n + 2; pc < len(code) && end < 0; pc++ {
		f := frames.In[pc]
		if f == nil {
			continue
		}
		if len(f.Stack) < depth+2 || f.Stack[depth] != u || f.Stack[depth+1] != u {
			return reject(c, m, n, "allocation escapes its argument sequence at "+strconv.Itoa(pc))
		}
		ref, ok := code[pc].Member()
		if !ok || code[pc].Opcode != classfile.OpInvokespecial || ref.Name != classfile.InitName {
			continue
		}
		t, err := classfile.ParseMethodDescriptor(ref.Descriptor)
		if err != nil {
			return err
		}
		if len(f.Stack)-1-len(t.Params) == depth+1 {
			end, mt = pc, t
		}
	}
	if end < 0 {
		return reject(c, m, n, "no constructor call for allocation")
	}

	inArgs := func(t uint32) bool { return int(t) >= n+2 && int(t) <= end }
	for pc, ins := range code {
		for _, t := range ins.Targets() {
			fromArgs := pc >= n+2 && pc < end
			if fromArgs && !inArgs(t) {
				return reject(c, m, n, "branch leaves constructor arguments at "+strconv.Itoa(pc))
			}
			if !fromArgs && int(t) > n && int(t) <= end {
				return reject(c, m, n, "branch into constructor arguments at "+strconv.Itoa(pc))
			}
		}
	}
	for _, h := range m.Handlers {
		s, t := int(h.Start), int(h.End)
		covers := s <= n && t > end
		disjoint := t <= n || s > end
		inside := s >= n+2 && t <= end
		if int(h.Target) > n && int(h.Target) <= end {
			return reject(c, m, n, "handler target inside constructor arguments")
		}
		if !covers && !disjoint && !inside {
			return reject(c, m, n, "handler range splits a constructor call")
		}
	}

	k := len(mt.Params)
	base := m.MaxLocals
	out := make([]classfile.Instruction, 0, len(code)+2*k)
	out = append(out, code[:n]...)
	out = append(out, code[n+2:end]...)
	for i := k - 1; i >= 0; i-- {
		out = append(out, codegen.StoreOf(mt.Params[i], base+uint32(i)))
	}
	out = append(out, code[n], code[n+1])
	for i := 0; i < k; i++ {
		out = append(out, codegen.LoadOf(mt.Params[i], base+uint32(i)))
	}
	out = append(out, code[end:]...)

	args := end - n - 2
	remap := func(p uint32) uint32 {
		switch q := int(p); {
		case q < n:
			return p
		case q <= n+1:
			return uint32(n)
		case q < end:
			return uint32(q - 2)
		case q == end:
			return uint32(n + args)
		}
		return p + uint32(2*k)
	}
	for i := range out {
		out[i] = out[i].Retarget(remap)
	}
	for i, h := range m.Handlers {
		m.Handlers[i] = classfile.Handler{
			CatchType: h.CatchType,
			Start:     remap(h.Start),
			End:       remap(h.End),
			Target:    remap(h.Target),
		}
	}
	m.Code = out
	m.MaxLocals += uint32(k)
	return nil
}

func reject(c *classfile.Class, m *classfile.Method, pc int, detail string) error {
	return errors.New(errors.PhaseRewrite, errors.KindUnsupported).
		Path(c.Name, m.Key(), strconv.Itoa(pc)).
		Detail("%s", detail).
		Build()
}
