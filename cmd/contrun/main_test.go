package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/wippyai/continuations/casm"
	"github.com/wippyai/continuations/classfile"
)

const counterSrc = `
(class "demo/Counter" (super "Object")
  (method "<init>" "()V" aload 0 invokespecial "Object" "<init>" "()V" return)
  (method "tick" "(I)V"
    iload 1
    invokestatic "sys/Out" "println" "(I)V"
    invokestatic "continuation/Runtime" "suspend" "()V"
    return)
  (method "main" "(I)V"
    iconst 0
    istore 2
    (label $loop)
    iload 2
    iload 1
    if_icmpge $done
    aload 0
    iload 2
    invokevirtual "demo/Counter" "tick" "(I)V"
    iinc 2 1
    goto $loop
    (label $done)
    ldc "end"
    invokestatic "sys/Out" "println" "(LString;)V"
    return))
`

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "counter.casm")
	if err := os.WriteFile(path, []byte(counterSrc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseArgs(t *testing.T) {
	c := casm.MustParse(`
(class "demo/A" (super "Object")
  (method "f" "(IJFDLString;)V" (flags static) return)
  (method "g" "(LObject;)V" (flags static) return))
`)
	got, err := parseArgs(c.Method("f", "(IJFDLString;)V"), "1, -2,1.5,2.25,hi")
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	want := []any{int32(1), int64(-2), float32(1.5), 2.25, "hi"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("args = %#v, want %#v", got, want)
	}

	if _, err := parseArgs(c.Method("f", "(IJFDLString;)V"), "1"); err == nil {
		t.Error("expected arity error")
	}
	if _, err := parseArgs(c.Method("f", "(IJFDLString;)V"), "x,2,3,4,5"); err == nil {
		t.Error("expected int parse error")
	}
	if _, err := parseArgs(c.Method("g", "(LObject;)V"), "obj"); err == nil {
		t.Error("expected unsupported reference error")
	}
}

func TestRefParams(t *testing.T) {
	got := refParams("(ILString;[I[LObject;J)V")
	want := map[int]string{1: "String", 2: "[I", 3: "[LObject;"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("refParams = %v, want %v", got, want)
	}
}

func TestFindMethod(t *testing.T) {
	classes := []*classfile.Class{
		casm.MustParse(counterSrc),
		casm.MustParse(`
(class "demo/O" (super "Object")
  (method "f" "(I)V" (flags static) return)
  (method "f" "(J)V" (flags static) return))
`),
	}
	tests := []struct {
		owner, name string
		want        string
		wantErr     bool
	}{
		{"demo/Counter", "main", "main(I)V", false},
		{"demo/Counter", "tick", "tick(I)V", false},
		{"demo/Counter", "nope", "", true},
		{"demo/Missing", "main", "", true},
		{"demo/O", "f", "", true},
	}
	for _, tt := range tests {
		m, err := findMethod(classes, tt.owner, tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("findMethod(%s, %s) succeeded", tt.owner, tt.name)
			}
			continue
		}
		if err != nil || m.Key() != tt.want {
			t.Errorf("findMethod(%s, %s) = %v, %v", tt.owner, tt.name, m, err)
		}
	}
}

func TestRunSession(t *testing.T) {
	ctx := context.Background()
	src := writeSource(t)
	var out bytes.Buffer
	s, err := newSession(ctx, runOptions{files: []string{src}, method: "main", args: "2", id: "run"}, &out)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.close()
	if err := s.run(ctx, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "0\n[suspended: step 1, "
	if !strings.HasPrefix(out.String(), want) {
		t.Errorf("output = %q, want prefix %q", out.String(), want)
	}
	if !strings.Contains(out.String(), "end\n[done after 3 steps]\n") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunCheckpointResume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := writeSource(t)
	db := filepath.Join(t.TempDir(), "ckpt.db")
	o := runOptions{files: []string{src}, method: "main", args: "3", checkpoint: db, id: "job"}

	// First process: take one step and stop.
	var first bytes.Buffer
	s, err := newSession(ctx, o, &first)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	if suspended, err := s.cont.Resume(ctx); err != nil || !suspended {
		t.Fatalf("Resume = %v, %v", suspended, err)
	}
	if err := s.save(ctx, s.cont, 1); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.close()

	// Second process: pick up from the checkpoint.
	var second bytes.Buffer
	s, err = newSession(ctx, o, &second)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.close()
	if !s.resumed {
		t.Fatal("session did not load the checkpoint")
	}
	if err := s.run(ctx, &second); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := second.String()
	if first.String() != "0\n" {
		t.Errorf("first output = %q", first.String())
	}
	for _, want := range []string{"[resuming demo/Counter.main(I)V", "1\n", "2\n", "end\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("second output %q lacks %q", got, want)
		}
	}
	if strings.Contains(got, "0\n[") {
		t.Errorf("second output replayed the first step: %q", got)
	}
	if _, err := s.store.Load(ctx, "job"); !isNotFound(err) {
		t.Errorf("checkpoint left after completion: %v", err)
	}
}

func TestAsmRewriteDis(t *testing.T) {
	src := writeSource(t)
	dir := t.TempDir()
	cls := filepath.Join(dir, "counter.cls")
	if err := asmCmd([]string{"-o", cls, src}); err != nil {
		t.Fatalf("asm: %v", err)
	}
	outDir := filepath.Join(dir, "out")
	if err := rewriteCmd(context.Background(), []string{"-o", outDir, cls}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	rewritten := filepath.Join(outDir, "counter.cls")
	c, err := readClass(rewritten)
	if err != nil {
		t.Fatalf("readClass: %v", err)
	}
	if !instrumented(c) {
		t.Error("rewritten class not instrumented")
	}

	var b bytes.Buffer
	if err := disCmd(&b, []string{rewritten}); err != nil {
		t.Fatalf("dis: %v", err)
	}
	if !strings.Contains(b.String(), `"continuation/Runtime" "enter"`) {
		t.Errorf("disassembly lacks entry check:\n%s", b.String())
	}

	// run accepts rewritten classes without rewriting them again.
	var out bytes.Buffer
	s, err := newSession(context.Background(), runOptions{files: []string{rewritten}, method: "main", args: "1", id: "run"}, &out)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.close()
	if err := s.run(context.Background(), &out); err != nil {
		t.Fatalf("run: %v", err)
	}
}
