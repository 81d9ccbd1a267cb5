package vm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wippyai/continuations/classfile"
)

// OutClass is the built-in console class.
const OutClass = "sys/Out"

// hostClass is a Host assembled from a method table.
type hostClass struct {
	methods map[string]HostMethod
	name    string
}

func (h *hostClass) ClassName() string { return h.name }
func (h *hostClass) Methods() map[string]HostMethod { return h.methods }

func static(fn HostFunc) HostMethod { return HostMethod{Func: fn, IsStatic: true} }
func virtual(fn HostFunc) HostMethod { return HostMethod{Func: fn} }

func builtinHosts(vm *VM) []Host {
	return []Host{
		&hostClass{name: classfile.ObjectClass, methods: map[string]HostMethod{
			"<init>()V": virtual(func(context.Context, []any) (any, error) {
				return nil, nil
			}),
			"equals(LObject;)Z": virtual(func(_ context.Context, args []any) (any, error) {
				return boolValue(args[0] == args[1]), nil
			}),
			"toString()LString;": virtual(func(_ context.Context, args []any) (any, error) {
				return display(args[0]), nil
			}),
		}},
		&hostClass{name: classfile.StringClass, methods: map[string]HostMethod{
			"length()I": virtual(func(_ context.Context, args []any) (any, error) {
				return int32(len(args[0].(string))), nil
			}),
			"concat(LString;)LString;": virtual(func(_ context.Context, args []any) (any, error) {
				s, ok := args[1].(string)
				if !ok {
					return nil, nullPointer("String.concat")
				}
				return args[0].(string) + s, nil
			}),
			"valueOf(I)LString;": static(func(_ context.Context, args []any) (any, error) {
				return strconv.Itoa(int(args[0].(int32))), nil
			}),
		}},
		vm.outHost(),
		vm.runtimeHost(),
	}
}

func (vm *VM) outHost() Host {
	h := &hostClass{name: OutClass, methods: map[string]HostMethod{}}
	for _, desc := range []string{"(I)V", "(J)V", "(F)V", "(D)V", "(LString;)V", "(LObject;)V"} {
		h.methods["println"+desc] = static(func(_ context.Context, args []any) (any, error) {
			_, err := fmt.Fprintln(vm.out, display(args[0]))
			return nil, err
		})
		h.methods["print"+desc] = static(func(_ context.Context, args []any) (any, error) {
			_, err := fmt.Fprint(vm.out, display(args[0]))
			return nil, err
		})
	}
	return h
}

func display(v any) string {
	switch r := v.(type) {
	case nil:
		return "null"
	case string:
		return r
	case *Exception:
		return r.Error()
	}
	return fmt.Sprint(v)
}
