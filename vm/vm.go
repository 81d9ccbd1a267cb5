package vm

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/errors"
)

// DefaultMaxDepth bounds the interpreter call depth.
const DefaultMaxDepth = 1024

type class struct {
	super          *class
	def            *classfile.Class
	methods        map[string]*method
	statics        map[string]any
	name           string
	superName      string
	instanceFields []classfile.Field
	flags          classfile.AccessFlags
}

type method struct {
	owner *class
	def   *classfile.Method
	host  HostFunc
	name  string
	desc  string
	mt    classfile.MethodType
	flags classfile.AccessFlags
}

func (m *method) key() string { return m.name + m.desc }
func (m *method) isStatic() bool { return m.flags.Has(classfile.AccStatic) }
func (m *method) String() string { return m.owner.name + "." + m.name + m.desc }
func (m *method) overridable() bool {
	return !m.flags.Has(classfile.AccStatic) && !m.flags.Has(classfile.AccPrivate) &&
		!m.flags.Has(classfile.AccFinal) && !m.owner.flags.Has(classfile.AccFinal) &&
		m.name != classfile.InitName
}

// Option configures a VM.
type Option func(*VM)

// WithLogger sets the logger for class loading, dispatch and unwinding.
func WithLogger(l *zap.Logger) Option {
	return func(vm *VM) {
		if l != nil {
			vm.log = l
		}
	}
}

// WithOutput sets the writer behind the sys/Out host class.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithMaxDepth bounds the call depth of a single thread of execution.
func WithMaxDepth(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxDepth = n
		}
	}
}

// WithHosts registers host classes at construction.
func WithHosts(hosts ...Host) Option {
	return func(vm *VM) { vm.initHosts = append(vm.initHosts, hosts...) }
}

// VM interprets loaded classes. Loading and invocation may be called from
// multiple goroutines; each invocation runs on its own logical thread and
// threads synchronize only through monitors.
type VM struct {
	classes   map[string]*class
	hosts     *HostRegistry
	log       *zap.Logger
	out       io.Writer
	monitors  *monitorTable
	descs     sync.Map
	initHosts []Host
	maxDepth  int
	mu        sync.RWMutex
}

// New creates a VM with the built-in classes Object, String, sys/Out and the
// continuation runtime.
func New(opts ...Option) (*VM, error) {
	vm := &VM{
		classes:  make(map[string]*class),
		hosts:    NewHostRegistry(),
		log:      Logger(),
		out:      io.Discard,
		monitors: newMonitorTable(),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.classes[classfile.ObjectClass] = &class{
		name:    classfile.ObjectClass,
		methods: make(map[string]*method),
		statics: make(map[string]any),
	}
	for _, h := range append(builtinHosts(vm), vm.initHosts...) {
		if err := vm.RegisterHost(h); err != nil {
			return nil, err
		}
	}
	return vm, nil
}

// RegisterHost installs a host class. A class of that name that does not yet
// exist is created as a direct subclass of Object.
func (vm *VM) RegisterHost(h Host) error {
	if err := vm.hosts.RegisterHost(h); err != nil {
		return err
	}
	return vm.attachHost(h.ClassName())
}

// RegisterFunc installs a single host method.
func (vm *VM) RegisterFunc(owner, name, desc string, static bool, fn HostFunc) error {
	if err := vm.hosts.RegisterFunc(owner, name, desc, static, fn); err != nil {
		return err
	}
	return vm.attachHost(owner)
}

func (vm *VM) attachHost(owner string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	c := vm.classes[owner]
	if c == nil {
		c = &class{
			name:      owner,
			superName: classfile.ObjectClass,
			super:     vm.classes[classfile.ObjectClass],
			methods:   make(map[string]*method),
			statics:   make(map[string]any),
		}
		if owner == classfile.ObjectClass {
			c.super, c.superName = nil, ""
		}
		vm.classes[owner] = c
	}
	for key, hm := range vm.hosts.methods(owner) {
		name, desc, err := splitKey(key)
		if err != nil {
			return err
		}
		mt, err := classfile.ParseMethodDescriptor(desc)
		if err != nil {
			return err
		}
		flags := classfile.AccPublic | classfile.AccNative
		if hm.IsStatic {
			flags |= classfile.AccStatic
		}
		if existing := c.methods[key]; existing != nil && existing.def != nil {
			// A native declaration in bytecode binds to the host function.
			existing.host = hm.Func
			continue
		}
		c.methods[key] = &method{owner: c, host: hm.Func, name: name, desc: desc, mt: mt, flags: flags}
	}
	return nil
}

// LoadBytes decodes and loads classes in their binary form.
func (vm *VM) LoadBytes(data ...[]byte) error {
	classes := make([]*classfile.Class, 0, len(data))
	for _, d := range data {
		c, err := classfile.Decode(d)
		if err != nil {
			return err
		}
		classes = append(classes, c)
	}
	return vm.Load(classes...)
}

// Load verifies and links classes. Classes in one call may refer to each
// other in any order; superclasses outside the batch must already be loaded.
func (vm *VM) Load(classes ...*classfile.Class) error {
	for _, c := range classes {
		for _, m := range c.Methods {
			if !m.HasCode() {
				continue
			}
			if _, err := classfile.Analyze(c, m); err != nil {
				return err
			}
		}
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	batch := make(map[string]*class, len(classes))
	for _, def := range classes {
		if _, dup := batch[def.Name]; dup {
			return loadError(def.Name, "defined twice")
		}
		if existing := vm.classes[def.Name]; existing != nil && existing.def != nil {
			return loadError(def.Name, "already loaded")
		}
		c := &class{
			name:      def.Name,
			superName: def.Super,
			def:       def,
			flags:     def.Flags,
			methods:   make(map[string]*method),
			statics:   make(map[string]any),
		}
		if existing := vm.classes[def.Name]; existing != nil {
			// host methods registered before the bytecode was loaded
			for k, m := range existing.methods {
				m.owner = c
				c.methods[k] = m
			}
		}
		for _, f := range def.Fields {
			if _, err := classfile.ParseFieldDescriptor(f.Descriptor); err != nil {
				return err
			}
			if f.Flags.Has(classfile.AccStatic) {
				c.statics[f.Name] = zeroValue(f.Descriptor)
			} else {
				c.instanceFields = append(c.instanceFields, f)
			}
		}
		for _, md := range def.Methods {
			mt, err := md.Type()
			if err != nil {
				return err
			}
			m := &method{owner: c, def: md, name: md.Name, desc: md.Descriptor, mt: mt, flags: md.Flags}
			if prev := c.methods[md.Key()]; prev != nil && prev.host != nil {
				m.host = prev.host
			}
			c.methods[md.Key()] = m
		}
		batch[def.Name] = c
	}

	for _, c := range batch {
		if c.superName == "" {
			return loadError(c.name, "missing superclass")
		}
		super := batch[c.superName]
		if super == nil {
			super = vm.classes[c.superName]
		}
		if super == nil {
			return loadError(c.name, fmt.Sprintf("superclass %s not loaded", c.superName))
		}
		if super.flags.Has(classfile.AccFinal) {
			return loadError(c.name, "extends final class "+c.superName)
		}
		c.super = super
	}
	for _, c := range batch {
		seen := map[*class]bool{}
		for k := c; k != nil; k = k.super {
			if seen[k] {
				return loadError(c.name, "circular superclass chain")
			}
			seen[k] = true
		}
	}
	for name, c := range batch {
		vm.classes[name] = c
		vm.log.Debug("class loaded",
			zap.String("class", name),
			zap.String("super", c.superName),
			zap.Int("methods", len(c.methods)))
	}
	return nil
}

func loadError(name, detail string) error {
	return errors.New(errors.PhaseRuntime, errors.KindLinkage).Path(name).Detail("%s", detail).Build()
}

func (vm *VM) class(name string) (*class, error) {
	vm.mu.RLock()
	c := vm.classes[name]
	vm.mu.RUnlock()
	if c == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindLinkage).
			Path(name).
			Detail("class %s not loaded", name).
			Build()
	}
	return c, nil
}

// HasClass reports whether a class is loaded or registered as a host class.
func (vm *VM) HasClass(name string) bool {
	_, err := vm.class(name)
	return err == nil
}

func (c *class) lookup(key string) *method {
	for k := c; k != nil; k = k.super {
		if m := k.methods[key]; m != nil {
			return m
		}
	}
	return nil
}

func (c *class) isSubclassOf(name string) bool {
	for k := c; k != nil; k = k.super {
		if k.name == name {
			return true
		}
	}
	return false
}

func (vm *VM) methodType(desc string) (classfile.MethodType, error) {
	if mt, ok := vm.descs.Load(desc); ok {
		return mt.(classfile.MethodType), nil
	}
	mt, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return mt, err
	}
	vm.descs.Store(desc, mt)
	return mt, nil
}

// classOf returns the runtime class of a non-null reference.
func (vm *VM) classOf(v any) (*class, error) {
	switch r := v.(type) {
	case *Object:
		return r.class, nil
	case string:
		return vm.class(classfile.StringClass)
	case *Exception:
		if r.Object != nil {
			return r.Object.class, nil
		}
		return vm.class(classfile.ObjectClass)
	case nil:
		return nil, nullPointer("dispatch on null")
	}
	return nil, fault(errors.KindTypeMismatch, "%T is not a reference", v)
}

func (vm *VM) instanceOf(v any, target string) bool {
	if v == nil {
		return false
	}
	c, err := vm.classOf(v)
	if err != nil {
		return false
	}
	return c.isSubclassOf(target)
}

func nullPointer(what string) error {
	return fault(errors.KindInvalidData, "null pointer: %s", what)
}

// resolve finds the method an invoke instruction calls.
func (vm *VM) resolve(op byte, ref classfile.MemberImm, receiver any) (*method, error) {
	key := ref.Name + ref.Descriptor
	var start *class
	var err error
	switch op {
	case classfile.OpInvokevirtual, classfile.OpInvokeinterface:
		start, err = vm.classOf(receiver)
	default:
		start, err = vm.class(ref.Owner)
	}
	if err != nil {
		return nil, err
	}
	m := start.lookup(key)
	if m == nil {
		return nil, errors.Linkage(ref.Owner, ref.Name, ref.Descriptor)
	}
	if (op == classfile.OpInvokestatic) != m.isStatic() {
		return nil, errors.New(errors.PhaseRuntime, errors.KindLinkage).
			Path(ref.Owner, ref.Name).
			Detail("%s used on %s", classfile.OpcodeName(op), m).
			Build()
	}
	return m, nil
}

// Invoke calls a method. For instance methods args[0] is the receiver and
// dispatch is virtual; static methods are called directly.
func (vm *VM) Invoke(ctx context.Context, owner, name, desc string, args ...any) (any, error) {
	c, err := vm.class(owner)
	if err != nil {
		return nil, err
	}
	m := c.lookup(name + desc)
	if m == nil {
		return nil, errors.Linkage(owner, name, desc)
	}
	if !m.isStatic() {
		if len(args) == 0 {
			return nil, errors.InvalidInput(errors.PhaseRuntime, "missing receiver for "+m.String())
		}
		rc, err := vm.classOf(args[0])
		if err != nil {
			return nil, err
		}
		if !rc.isSubclassOf(owner) {
			return nil, errors.TypeMismatch(errors.PhaseRuntime, []string{owner, name}, owner, rc.name)
		}
		if m.name != classfile.InitName {
			m = rc.lookup(name + desc)
		}
	}
	if err := checkArgs(m, args); err != nil {
		return nil, err
	}
	ctx, th := threadFrom(ctx)
	return vm.invoke(ctx, th, m, args)
}

func checkArgs(m *method, args []any) error {
	params := m.mt.Params
	off := 0
	if !m.isStatic() {
		off = 1
	}
	if len(args) != len(params)+off {
		return errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("%s takes %d arguments, got %d", m, len(params)+off, len(args)))
	}
	for i, p := range params {
		if !checkValue(p, args[i+off]) {
			return errors.TypeMismatch(errors.PhaseRuntime, []string{m.String(), fmt.Sprint(i)}, p.String(), fmt.Sprintf("%T", args[i+off]))
		}
	}
	return nil
}

// Instantiate allocates an object and runs the constructor with descriptor
// desc.
func (vm *VM) Instantiate(ctx context.Context, className, desc string, args ...any) (*Object, error) {
	c, err := vm.class(className)
	if err != nil {
		return nil, err
	}
	o := newObject(c)
	if _, err := vm.Invoke(ctx, className, classfile.InitName, desc, append([]any{o}, args...)...); err != nil {
		return nil, err
	}
	return o, nil
}

// Static returns the value of a static field.
func (vm *VM) Static(owner, name string) (any, error) {
	c, err := vm.class(owner)
	if err != nil {
		return nil, err
	}
	sc, err := staticOwner(c, owner, name)
	if err != nil {
		return nil, err
	}
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return sc.statics[name], nil
}

func staticOwner(c *class, owner, name string) (*class, error) {
	for k := c; k != nil; k = k.super {
		if _, ok := k.statics[name]; ok {
			return k, nil
		}
	}
	return nil, errors.New(errors.PhaseRuntime, errors.KindLinkage).
		Path(owner, name).
		Detail("no static field %s.%s", owner, name).
		Build()
}
