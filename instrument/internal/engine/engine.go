package engine

import (
	"go.uber.org/zap"

	continuations "github.com/wippyai/continuations"
	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/errors"
)

// CallMatcher selects call sites by the member they invoke.
type CallMatcher interface {
	Match(owner, name, desc string) bool
}

// Config configures the rewrite engine.
type Config struct {
	// Exclude names calls left uninstrumented. A method reached through an
	// excluded call runs blocked.
	Exclude CallMatcher
	// Final names virtual calls known to be bound statically.
	Final  CallMatcher
	Logger *zap.Logger
	// SkipVerify disables verification of rewritten methods.
	SkipVerify bool
}

// Engine rewrites methods for suspension. It holds read-only configuration
// and is safe for concurrent use.
type Engine struct {
	exclude    CallMatcher
	final      CallMatcher
	log        *zap.Logger
	skipVerify bool
}

// New creates an engine with the given config.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}
	return &Engine{
		exclude:    cfg.Exclude,
		final:      cfg.Final,
		log:        log,
		skipVerify: cfg.SkipVerify,
	}
}

// RewriteClass returns a copy of c with every method rewritten, and the
// number of methods that changed. c is not modified.
func (e *Engine) RewriteClass(c *classfile.Class) (*classfile.Class, int, error) {
	out := *c
	out.Fields = append([]classfile.Field(nil), c.Fields...)
	out.Methods = make([]*classfile.Method, len(c.Methods))
	changed := 0
	for i, m := range c.Methods {
		rm, ok, err := e.RewriteMethod(c, m)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			changed++
		} else {
			rm = m.Clone()
		}
		out.Methods[i] = rm
	}
	return &out, changed, nil
}

// RewriteMethod rewrites one method of c. It reports false and returns m
// unchanged for methods without code, constructors and methods that make no
// intercepted call. Input that does not verify is rejected.
func (e *Engine) RewriteMethod(c *classfile.Class, m *classfile.Method) (*classfile.Method, bool, error) {
	if !m.HasCode() || m.IsConstructor() {
		return m, false, nil
	}
	if instrumented(m) {
		return nil, false, errors.New(errors.PhaseRewrite, errors.KindInvalidInput).
			Path(c.Name, m.Key()).
			Detail("method is already instrumented").
			Build()
	}
	if !needsRewrite(e.sites(c, m)) {
		if _, err := classfile.Analyze(c, m); err != nil {
			return nil, false, err
		}
		return m, false, nil
	}

	rm, frames, err := e.Relocate(c, m)
	if err != nil {
		return nil, false, err
	}
	t, err := newTransformer(e, c, rm, frames)
	if err != nil {
		return nil, false, err
	}
	out, err := t.run()
	if err != nil {
		return nil, false, err
	}
	if !e.skipVerify {
		if _, err := classfile.Analyze(c, out); err != nil {
			return nil, false, errors.New(errors.PhaseRewrite, errors.KindInvalidData).
				Path(c.Name, m.Key()).
				Cause(err).
				Detail("rewritten method does not verify").
				Build()
		}
	}
	e.log.Debug("rewrote method",
		zap.String("class", c.Name),
		zap.String("method", m.Key()),
		zap.Int("capturing", len(t.captures)),
		zap.Int("blocking", t.blocking),
		zap.Int("code", len(out.Code)))
	return out, true, nil
}

func instrumented(m *classfile.Method) bool {
	for _, ins := range m.Code {
		if ref, ok := ins.Member(); ok && ins.IsInvoke() &&
			continuations.IsRuntimeCall(ref.Owner) && ref.Name == continuations.Enter.Name {
			return true
		}
	}
	return false
}
