// Package checkpoint persists suspended continuations.
//
// Save encodes a continuation with continuation.Encode and stores it in an
// envelope carrying a format version, a timestamp and an optional label.
// Load reverses it onto a target, for example on another process:
//
//	store, err := checkpoint.OpenSQL(ctx, "jobs.db")
//	...
//	err = checkpoint.Save(ctx, store, "job", c, machine.ObjectCodec(), "step 3")
//	...
//	c, err = checkpoint.Load(ctx, store, "job", machine.Target(owner, name, desc, nil), machine.ObjectCodec())
//
// Two stores are provided: FileStore (one file per id) and SQLStore
// (SQLite through modernc.org/sqlite).
package checkpoint
