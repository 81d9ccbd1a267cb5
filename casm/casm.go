package casm

import (
	"github.com/wippyai/continuations/casm/internal/parser"
	"github.com/wippyai/continuations/casm/internal/token"
	"github.com/wippyai/continuations/classfile"
)

// Parse assembles source into a class model.
func Parse(source string) (*classfile.Class, error) {
	tokens := token.Tokenize(source)
	p := parser.New(tokens)
	return p.Parse()
}

// Compile assembles source into class bytes.
func Compile(source string) ([]byte, error) {
	c, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return classfile.Encode(c)
}

// MustParse is like Parse but panics on error. It simplifies tests and
// package-level fixtures.
func MustParse(source string) *classfile.Class {
	c, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return c
}
