package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wippyai/continuations/casm"
	"github.com/wippyai/continuations/checkpoint"
	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/instrument"
)

func isSource(path string) bool {
	return strings.HasSuffix(path, ".casm")
}

// readClassBytes returns the binary form of a class file or assembler source.
func readClassBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if !isSource(path) {
		return data, nil
	}
	out, err := casm.Compile(string(data))
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", path, err)
	}
	return out, nil
}

func readClass(path string) (*classfile.Class, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var c *classfile.Class
	if isSource(path) {
		c, err = casm.Parse(string(data))
	} else {
		c, err = classfile.Decode(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// instrumented reports whether a class was already rewritten, so run
// accepts the output of rewrite as well as plain classes.
func instrumented(c *classfile.Class) bool {
	data, err := classfile.Encode(c)
	return err == nil && instrument.IsInstrumented(data)
}

// findMethod looks up the entry method by name. A name declared with more
// than one descriptor is ambiguous.
func findMethod(classes []*classfile.Class, owner, name string) (*classfile.Method, error) {
	for _, c := range classes {
		if c.Name != owner {
			continue
		}
		var found *classfile.Method
		for _, m := range c.Methods {
			if m.Name != name {
				continue
			}
			if found != nil {
				return nil, fmt.Errorf("%s.%s is overloaded", owner, name)
			}
			found = m
		}
		if found == nil {
			return nil, fmt.Errorf("no method %s.%s", owner, name)
		}
		return found, nil
	}
	return nil, fmt.Errorf("no class %s", owner)
}

// parseArgs converts comma-separated text to values of the method's
// parameter types. Only primitive and String parameters are accepted.
func parseArgs(m *classfile.Method, text string) ([]any, error) {
	mt, err := m.Type()
	if err != nil {
		return nil, err
	}
	var fields []string
	if text != "" {
		fields = strings.Split(text, ",")
	}
	if len(fields) != len(mt.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", m.Key(), len(mt.Params), len(fields))
	}
	refs := refParams(m.Descriptor)
	args := make([]any, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		switch mt.Params[i] {
		case classfile.ValInt:
			v, err := strconv.ParseInt(f, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			args[i] = int32(v)
		case classfile.ValLong:
			v, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			args[i] = v
		case classfile.ValFloat:
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			args[i] = float32(v)
		case classfile.ValDouble:
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			args[i] = v
		default:
			if refs[i] != classfile.StringClass {
				return nil, fmt.Errorf("argument %d: unsupported type %s", i, refs[i])
			}
			args[i] = f
		}
	}
	return args, nil
}

// refParams returns the class name of each reference parameter, indexed by
// parameter position.
func refParams(desc string) map[int]string {
	out := make(map[int]string)
	i, n := strings.IndexByte(desc, '(')+1, 0
	for i > 0 && i < len(desc) && desc[i] != ')' {
		start := i
		for desc[i] == '[' {
			i++
		}
		if desc[i] == 'L' {
			end := strings.IndexByte(desc[i:], ';')
			if end < 0 {
				break
			}
			i += end
		}
		i++
		if desc[start] == 'L' {
			out[n] = classfile.ClassOf(desc[start:i])
		} else if desc[start] == '[' {
			out[n] = desc[start:i]
		}
		n++
	}
	return out
}

func isNotFound(err error) bool {
	return stderrors.Is(err, checkpoint.ErrNotFound)
}
