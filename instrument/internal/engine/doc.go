// Package engine rewrites methods so their frames can be captured and rebuilt.
//
// Pipeline per method:
//  1. Classify call sites (capturing, blocking, excluded, runtime)
//  2. Relocate constructor arguments that contain capturing calls
//  3. Verify and compute frames and live locals
//  4. Emit the entry check, restore dispatch and expanded call sites
//  5. Verify the rewritten method
package engine
