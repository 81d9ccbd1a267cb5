package instrument

import (
	"bytes"
	"context"
	"runtime"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	continuations "github.com/wippyai/continuations"
	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/errors"
	"github.com/wippyai/continuations/instrument/internal/engine"
)

// IsInstrumented reports whether a class file references the entry check
// emitted by the rewrite.
func IsInstrumented(data []byte) bool {
	return bytes.Contains(data, []byte(continuations.RuntimeClass)) &&
		bytes.Contains(data, []byte(continuations.Enter.Descriptor))
}

func newEngine(cfg Config) *engine.Engine {
	return engine.New(engine.Config{
		Exclude:    cfg.Exclude,
		Final:      cfg.Final,
		Logger:     cfg.Logger,
		SkipVerify: cfg.SkipVerify,
	})
}

// RewriteClass decodes a class file, rewrites every method that can reach a
// suspension and encodes the result.
//
// Each rewritten method:
//   - checks on entry whether its call was intercepted
//   - saves its frame after a capturing call returns while suspending
//   - rebuilds the frame and re-issues the call when restoring
//   - refuses suspension inside statically bound calls and monitors
//
// Malformed input fails with a decode error; input that does not verify
// fails with a verify error. Output is verified unless cfg.SkipVerify.
func RewriteClass(data []byte, cfg Config) ([]byte, error) {
	c, err := classfile.Decode(data)
	if err != nil {
		return nil, err
	}
	out, err := RewriteClassModel(c, cfg)
	if err != nil {
		return nil, err
	}
	return classfile.Encode(out)
}

// RewriteClassModel rewrites a decoded class. c is not modified.
func RewriteClassModel(c *classfile.Class, cfg Config) (*classfile.Class, error) {
	out, _, err := newEngine(cfg).RewriteClass(c)
	return out, err
}

// RewriteMethod rewrites one method of c and reports whether it changed.
// Unchanged methods are returned as is.
func RewriteMethod(c *classfile.Class, m *classfile.Method, cfg Config) (*classfile.Method, bool, error) {
	return newEngine(cfg).RewriteMethod(c, m)
}

// RewriteAll rewrites a set of class files concurrently. Keys are carried
// over to the result; the first failure cancels the rest.
func RewriteAll(ctx context.Context, inputs map[string][]byte, cfg Config) (map[string][]byte, error) {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eng := newEngine(cfg)
	results := make([][]byte, len(names))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := classfile.Decode(inputs[name])
			if err != nil {
				return errors.New(errors.PhaseDecode, errors.KindInvalidData).
					Path(name).
					Cause(err).
					Detail("decode %s", name).
					Build()
			}
			out, _, err := eng.RewriteClass(c)
			if err != nil {
				return err
			}
			data, err := classfile.Encode(out)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out, nil
}

// SetLogger configures the default logger of the rewrite engine.
func SetLogger(l *zap.Logger) { engine.SetLogger(l) }

// SiteKind is how a call site is instrumented.
type SiteKind = engine.SiteKind

// Site kinds.
const (
	SiteNone      = engine.SiteNone
	SiteRuntime   = engine.SiteRuntime
	SiteExcluded  = engine.SiteExcluded
	SiteBlocking  = engine.SiteBlocking
	SiteCapturing = engine.SiteCapturing
)

// Classify reports how the call instruction would be instrumented in c.
func Classify(c *classfile.Class, ins classfile.Instruction, cfg Config) SiteKind {
	return newEngine(cfg).Classify(c, ins)
}
