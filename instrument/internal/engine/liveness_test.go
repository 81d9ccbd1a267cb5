package engine

import (
	"reflect"
	"testing"

	"github.com/wippyai/continuations/casm"
	"github.com/wippyai/continuations/classfile"
)

func TestComputeLiveness(t *testing.T) {
	c := casm.MustParse(`
(class "demo/L" (super "Object")
  (method "m" "(II)I" (flags static) (locals 4)
    iload 0
    istore 2
    iconst 7
    istore 3
    invokestatic "demo/L" "f" "()V"
    iload 2
    iload 1
    iadd
    ireturn)
  (method "loop" "(I)V" (flags static)
    (label $top)
    invokestatic "demo/L" "f" "()V"
    iinc 0 -1
    iload 0
    ifgt $top
    return)
  (method "guarded" "()I" (flags static) (locals 1)
    iconst 1
    istore 0
    (label $s)
    invokestatic "demo/L" "f" "()V"
    iconst 2
    istore 0
    (label $e)
    iconst 0
    ireturn
    (label $h)
    pop
    iload 0
    ireturn
    (catch $s $e $h))
  (method "f" "()V" (flags static) return))`)

	tests := []struct {
		method string
		pc     int
		want   []uint32
	}{
		{"m", 4, []uint32{1, 2}},
		{"m", 0, []uint32{0, 1}},
		{"loop", 0, []uint32{0}},
		{"guarded", 2, []uint32{0}},
		{"guarded", 3, []uint32{0}},
		{"guarded", 5, []uint32{}},
	}
	for _, tt := range tests {
		m := byName(c, tt.method)
		live := ComputeLiveness(m)
		got := live.LiveIn(tt.pc)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s@%d: live = %v, want %v", tt.method, tt.pc, got, tt.want)
		}
	}
}

func TestLivenessDeadStore(t *testing.T) {
	c := casm.MustParse(`
(class "demo/D" (super "Object")
  (method "m" "()V" (flags static) (locals 1)
    iconst 1
    istore 0
    invokestatic "demo/D" "m" "()V"
    iconst 2
    istore 0
    iload 0
    pop
    return))`)
	live := ComputeLiveness(c.Method("m", "()V"))
	if live.IsLive(2, 0) {
		t.Error("local overwritten after the call should not be live at the call")
	}
	if !live.IsLive(5, 0) {
		t.Error("local should be live at its read")
	}
}

func byName(c *classfile.Class, name string) *classfile.Method {
	for _, m := range c.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}
