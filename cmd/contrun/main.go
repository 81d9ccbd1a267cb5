package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/continuations/casm"
	"github.com/wippyai/continuations/checkpoint"
	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/continuation"
	"github.com/wippyai/continuations/instrument"
	"github.com/wippyai/continuations/vm"
)

const usage = `Usage: contrun <command> [flags] files...

Commands:
  asm      [-o out.cls] file.casm          assemble a class
  dis      file.cls                        disassemble a class
  rewrite  [-config cfg.toml] [-o dir] files...
                                           instrument classes for suspension
  run      [-class C] [-method m] [-args a,b] [-checkpoint db] [-id name] [-i] files...
                                           rewrite, load and drive a method

Files ending in .casm are assembled first; anything else is read as a
binary class file.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "asm":
		err = asmCmd(args)
	case "dis":
		err = disCmd(os.Stdout, args)
	case "rewrite":
		err = rewriteCmd(ctx, args)
	case "run":
		err = runCmd(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func asmCmd(args []string) error {
	fs := flag.NewFlagSet("asm", flag.ExitOnError)
	out := fs.String("o", "", "Output file (default: input with .cls extension)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("asm takes one source file")
	}

	src, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	data, err := casm.Compile(string(src))
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	path := *out
	if path == "" {
		path = withExt(fs.Arg(0), ".cls")
	}
	return os.WriteFile(path, data, 0o644)
}

func disCmd(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("dis", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("dis takes at least one class file")
	}
	for _, path := range fs.Args() {
		c, err := readClass(path)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, casm.Disassemble(c))
	}
	return nil
}

func rewriteCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rewrite", flag.ExitOnError)
	cfgPath := fs.String("config", "", "TOML rewrite config")
	outDir := fs.String("o", ".", "Output directory")
	verbose := fs.Bool("v", false, "Verbose logging")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("rewrite takes at least one file")
	}
	setupLogging(*verbose)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	inputs := make(map[string][]byte, fs.NArg())
	for _, path := range fs.Args() {
		data, err := readClassBytes(path)
		if err != nil {
			return err
		}
		inputs[path] = data
	}
	out, err := instrument.RewriteAll(ctx, inputs, cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}
	for path, data := range out {
		dst := filepath.Join(*outDir, withExt(filepath.Base(path), ".cls"))
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("%s -> %s (%d bytes)\n", path, dst, len(data))
	}
	return nil
}

type runOptions struct {
	files       []string
	config      string
	class       string
	method      string
	args        string
	checkpoint  string
	id          string
	interactive bool
	verbose     bool
}

func runCmd(ctx context.Context, args []string) error {
	var o runOptions
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&o.config, "config", "", "TOML rewrite config")
	fs.StringVar(&o.class, "class", "", "Class holding the entry method (default: first class)")
	fs.StringVar(&o.method, "method", "main", "Entry method name")
	fs.StringVar(&o.args, "args", "", "Entry arguments (comma-separated)")
	fs.StringVar(&o.checkpoint, "checkpoint", "", "SQLite database to persist suspensions in")
	fs.StringVar(&o.id, "id", "run", "Checkpoint id")
	fs.BoolVar(&o.interactive, "i", false, "Interactive stepper")
	fs.BoolVar(&o.verbose, "v", false, "Verbose logging")
	fs.Parse(args)
	o.files = fs.Args()
	if len(o.files) == 0 {
		return fmt.Errorf("run takes at least one file")
	}
	setupLogging(o.verbose)

	if o.interactive {
		return runInteractive(ctx, o)
	}
	s, err := newSession(ctx, o, os.Stdout)
	if err != nil {
		return err
	}
	defer s.close()
	return s.run(ctx, os.Stdout)
}

// session is a loaded program with its continuation and optional store.
type session struct {
	machine *vm.VM
	cont    *continuation.Continuation
	store   *checkpoint.SQLStore
	entry   string
	id      string
	resumed bool
}

func newSession(ctx context.Context, o runOptions, out io.Writer) (*session, error) {
	cfg, err := loadConfig(o.config)
	if err != nil {
		return nil, err
	}
	var classes []*classfile.Class
	for _, path := range o.files {
		c, err := readClass(path)
		if err != nil {
			return nil, err
		}
		if !instrumented(c) {
			if c, err = instrument.RewriteClassModel(c, cfg); err != nil {
				return nil, fmt.Errorf("rewrite %s: %w", path, err)
			}
		}
		classes = append(classes, c)
	}

	machine, err := vm.New(vm.WithOutput(out))
	if err != nil {
		return nil, err
	}
	if err := machine.Load(classes...); err != nil {
		return nil, err
	}

	owner := o.class
	if owner == "" {
		owner = classes[0].Name
	}
	m, err := findMethod(classes, owner, o.method)
	if err != nil {
		return nil, err
	}
	args, err := parseArgs(m, o.args)
	if err != nil {
		return nil, err
	}
	var receiver any
	if !m.IsStatic() {
		if receiver, err = machine.Instantiate(ctx, owner, "()V"); err != nil {
			return nil, fmt.Errorf("instantiate %s: %w", owner, err)
		}
	}
	target := machine.Target(owner, m.Name, m.Descriptor, receiver, args...)

	s := &session{machine: machine, entry: owner + "." + m.Key(), id: o.id}
	if o.checkpoint != "" {
		if s.store, err = checkpoint.OpenSQL(ctx, o.checkpoint); err != nil {
			return nil, err
		}
		s.cont, err = checkpoint.Load(ctx, s.store, o.id, target, machine.ObjectCodec())
		switch {
		case err == nil:
			s.resumed = true
		case isNotFound(err):
			s.cont = nil
		default:
			s.store.Close()
			return nil, err
		}
	}
	if s.cont == nil {
		s.cont = continuation.New(target)
	}
	return s, nil
}

func (s *session) save(ctx context.Context, c *continuation.Continuation, step int) error {
	if s.store == nil {
		return nil
	}
	return checkpoint.Save(ctx, s.store, s.id, c, s.machine.ObjectCodec(), fmt.Sprintf("%s step %d", s.entry, step))
}

// finish drops the checkpoint of a continuation that ran to completion.
func (s *session) finish(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, s.id); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *session) close() {
	if s.store != nil {
		s.store.Close()
	}
}

// run resumes until the continuation finishes, reporting every suspension.
func (s *session) run(ctx context.Context, w io.Writer) error {
	if s.resumed {
		fmt.Fprintf(w, "[resuming %s from checkpoint %q]\n", s.entry, s.id)
	}
	sched := vm.NewScheduler(s.cont, func(ctx context.Context, c *continuation.Continuation, step int) error {
		fmt.Fprintf(w, "[suspended: step %d, %s]\n", step, stackSummary(c.Stack()))
		return s.save(ctx, c, step)
	})
	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("step %d (%s): %w", sched.Steps(), vm.ClassifyError(err), err)
	}
	fmt.Fprintf(w, "[done after %d steps]\n", sched.Steps())
	return s.finish(ctx)
}

func stackSummary(st *continuation.Stack) string {
	kinds := []continuation.StackKind{
		continuation.IntStack, continuation.FloatStack, continuation.LongStack,
		continuation.DoubleStack, continuation.RefStack,
	}
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, st.Len(k))
	}
	return strings.Join(parts, " ")
}

func loadConfig(path string) (instrument.Config, error) {
	if path == "" {
		return instrument.Config{}, nil
	}
	return instrument.LoadConfig(path)
}

func setupLogging(verbose bool) {
	if !verbose {
		return
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return
	}
	vm.SetLogger(log)
	continuation.SetLogger(log)
	instrument.SetLogger(log)
}

func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
