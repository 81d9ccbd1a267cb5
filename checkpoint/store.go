package checkpoint

import (
	"context"
	"strings"

	"github.com/wippyai/continuations/errors"
)

// ErrNotFound is returned for an id with no saved checkpoint.
var ErrNotFound = &errors.Error{Phase: errors.PhaseStore, Kind: errors.KindNotFound}

// Store persists checkpoint blobs by id.
type Store interface {
	Save(ctx context.Context, id string, data []byte) error
	Load(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	// List returns the saved ids in ascending order.
	List(ctx context.Context) ([]string, error)
}

func notFound(id string) error {
	return errors.New(errors.PhaseStore, errors.KindNotFound).
		Path(id).
		Detail("no checkpoint %q", id).
		Build()
}

func storeError(op, id string, err error) error {
	b := errors.New(errors.PhaseStore, errors.KindInvalidData).Cause(err).Detail("%s", op)
	if id != "" {
		b = b.Path(id)
	}
	return b.Build()
}

func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return errors.New(errors.PhaseStore, errors.KindInvalidInput).
			Value(id).
			Detail("invalid checkpoint id %q", id).
			Build()
	}
	return nil
}
