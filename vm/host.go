package vm

import (
	"context"
	"sync"

	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/errors"
)

// HostFunc implements a method in Go. Instance methods receive the receiver
// as args[0]. The result must match the descriptor's return category and is
// ignored for void methods. A returned error is thrown into the calling code.
type HostFunc func(ctx context.Context, args []any) (any, error)

// Host is a class implemented in Go.
type Host interface {
	// ClassName returns the internal class name, e.g. "demo/Clock".
	ClassName() string
	// Methods maps name+descriptor keys such as "now()J" to implementations.
	// Static methods are registered with IsStatic.
	Methods() map[string]HostMethod
}

// HostMethod is one registered host implementation.
type HostMethod struct {
	Func     HostFunc
	IsStatic bool
}

// HostRegistry holds host implementations by class and method key. It is
// safe for concurrent registration and lookup.
type HostRegistry struct {
	funcs map[string]map[string]HostMethod
	mu    sync.RWMutex
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs: make(map[string]map[string]HostMethod),
	}
}

// RegisterHost adds every method of h.
func (r *HostRegistry) RegisterHost(h Host) error {
	owner := h.ClassName()
	if owner == "" {
		return errors.InvalidInput(errors.PhaseRuntime, "host class name cannot be empty")
	}
	for key, m := range h.Methods() {
		if err := r.register(owner, key, m); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFunc adds a single host method.
func (r *HostRegistry) RegisterFunc(owner, name, desc string, static bool, fn HostFunc) error {
	if owner == "" || name == "" {
		return errors.InvalidInput(errors.PhaseRuntime, "host owner and name cannot be empty")
	}
	return r.register(owner, name+desc, HostMethod{Func: fn, IsStatic: static})
}

func (r *HostRegistry) register(owner, key string, m HostMethod) error {
	if m.Func == nil {
		return errors.InvalidInput(errors.PhaseRuntime, "nil host function for "+owner+"."+key)
	}
	if _, _, err := splitKey(key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs[owner] == nil {
		r.funcs[owner] = make(map[string]HostMethod)
	}
	r.funcs[owner][key] = m
	return nil
}

// Get looks up a host method.
func (r *HostRegistry) Get(owner, key string) (HostMethod, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.funcs[owner][key]
	return m, ok
}

// Classes returns the names of classes with host methods.
func (r *HostRegistry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	return out
}

func (r *HostRegistry) methods(owner string) map[string]HostMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]HostMethod, len(r.funcs[owner]))
	for k, m := range r.funcs[owner] {
		out[k] = m
	}
	return out
}

// splitKey splits "name(desc)R" into name and descriptor.
func splitKey(key string) (string, string, error) {
	for i := 0; i < len(key); i++ {
		if key[i] == '(' {
			if i == 0 {
				break
			}
			desc := key[i:]
			if _, err := classfile.ParseMethodDescriptor(desc); err != nil {
				return "", "", err
			}
			return key[:i], desc, nil
		}
	}
	return "", "", errors.InvalidInput(errors.PhaseRuntime, "malformed method key "+key)
}
