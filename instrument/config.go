package instrument

import (
	"os"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/wippyai/continuations/errors"
)

// Config configures the rewrite.
type Config struct {
	// Exclude names calls that are left uninstrumented. Methods reached
	// through them run blocked and cannot suspend.
	Exclude CallMatcher
	// Final names virtual calls that always reach one method, such as calls
	// to final classes outside the rewritten set. They become blocking.
	Final CallMatcher
	// Logger overrides the engine logger.
	Logger *zap.Logger
	// Workers bounds RewriteAll concurrency. Zero means GOMAXPROCS.
	Workers int
	// SkipVerify disables verification of rewritten methods.
	SkipVerify bool
}

// fileConfig is the TOML form of Config:
//
//	exclude = ["sys/Out.*", "demo/Log.write"]
//	final = ["demo/Point.x"]
//	workers = 4
//	skip_verify = false
type fileConfig struct {
	Exclude    []string `toml:"exclude"`
	Final      []string `toml:"final"`
	Workers    int      `toml:"workers"`
	SkipVerify bool     `toml:"skip_verify"`
}

// LoadConfig reads a TOML config file. Patterns use WildcardMatcher syntax.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.New(errors.PhaseParse, errors.KindNotFound).
			Path(path).
			Cause(err).
			Detail("read config").
			Build()
	}
	return ParseConfig(data)
}

// ParseConfig decodes a TOML config.
func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	md, err := toml.Decode(string(data), &fc)
	if err != nil {
		return Config{}, errors.ParseFailed("config", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.New(errors.PhaseParse, errors.KindInvalidData).
			Value(undecoded[0].String()).
			Detail("unknown config key %q", undecoded[0].String()).
			Build()
	}
	if fc.Workers < 0 {
		return Config{}, errors.InvalidInput(errors.PhaseParse, "workers must not be negative")
	}
	cfg := Config{Workers: fc.Workers, SkipVerify: fc.SkipVerify}
	if len(fc.Exclude) > 0 {
		cfg.Exclude = NewWildcardMatcher(fc.Exclude)
	}
	if len(fc.Final) > 0 {
		cfg.Final = NewWildcardMatcher(fc.Final)
	}
	return cfg, nil
}
