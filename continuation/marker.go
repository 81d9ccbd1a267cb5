package continuation

import (
	"go.uber.org/zap"

	continuations "github.com/wippyai/continuations"
)

// Marker identifies a call: the declaring class (or the receiver's expected
// type), the member name and its descriptor.
type Marker struct {
	Owner      string
	Name       string
	Descriptor string
}

func (m Marker) String() string {
	return m.Owner + "." + m.Name + m.Descriptor
}

// SuspendMarker identifies the suspension primitive.
var SuspendMarker = Marker{
	Owner:      continuations.RuntimeClass,
	Name:       continuations.Suspend.Name,
	Descriptor: continuations.Suspend.Descriptor,
}

// MatchFunc decides whether an expected call identity conforms to the method
// being entered. entry is true when the expectation was recorded by the
// driver for the continuation's entry method.
type MatchFunc func(expected Marker, entry bool) bool

// Expect records the call that is about to be made as the next possible
// suspension boundary.
func (c *Continuation) Expect(m Marker) {
	c.expected = m
	c.hasExpected = true
	c.expectEntry = false
}

// ExpectEntry records the entry method the driver is about to invoke.
func (c *Continuation) ExpectEntry(m Marker) {
	c.Expect(m)
	c.expectEntry = true
}

// ClearExpectation drops any pending expectation. It is called after every
// instrumented call returns, so expectations never leak to later calls.
func (c *Continuation) ClearExpectation() {
	c.expected = Marker{}
	c.hasExpected = false
	c.expectEntry = false
}

// Expected returns the pending expectation, if any.
func (c *Continuation) Expected() (Marker, bool) {
	return c.expected, c.hasExpected
}

// Enter consumes the pending expectation on entry to an instrumented method
// and reports whether the call was intercepted. When it was not, the block
// depth is incremented and the caller must call Unblock on every exit path.
func (c *Continuation) Enter(match MatchFunc) bool {
	expected, ok, entry := c.expected, c.hasExpected, c.expectEntry
	c.ClearExpectation()
	if ok && match != nil && match(expected, entry) {
		return true
	}
	c.blockDepth++
	Logger().Debug("call not intercepted",
		zap.String("expected", expected.String()),
		zap.Bool("had_expectation", ok),
		zap.Int("block_depth", c.blockDepth))
	return false
}

// EnterExact is Enter with an exact identity comparison.
func (c *Continuation) EnterExact(actual Marker) bool {
	return c.Enter(func(expected Marker, _ bool) bool { return expected == actual })
}

// Block marks the start of a region in which suspension is refused.
func (c *Continuation) Block() {
	c.blockDepth++
}

// Unblock ends a region started by Block or by an intercepted-check failure.
func (c *Continuation) Unblock() error {
	if c.blockDepth == 0 {
		return illegalState("unblock without matching block")
	}
	c.blockDepth--
	return nil
}

// BlockDepth returns the number of open unsuspendable regions.
func (c *Continuation) BlockDepth() int {
	return c.blockDepth
}
