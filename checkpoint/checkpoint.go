package checkpoint

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/continuations/continuation"
	"github.com/wippyai/continuations/errors"
)

// Version is the envelope format written by Save.
const Version = 1

// Envelope wraps encoded continuation state with metadata.
type Envelope struct {
	Version int       `cbor:"1,keyasint"`
	SavedAt time.Time `cbor:"2,keyasint"`
	Label   string    `cbor:"3,keyasint,omitempty"`
	State   []byte    `cbor:"4,keyasint"`
}

var envEnc = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Save encodes a suspended continuation and stores it under id. A nil
// codec selects continuation.CBORCodec, which keeps int32, int64, float32
// and float64 references typed but cannot encode VM objects.
func Save(ctx context.Context, store Store, id string, c *continuation.Continuation, codec continuation.ObjectCodec, label string) error {
	state, err := continuation.Encode(c, codec)
	if err != nil {
		return err
	}
	data, err := envEnc.Marshal(Envelope{
		Version: Version,
		SavedAt: time.Now().UTC(),
		Label:   label,
		State:   state,
	})
	if err != nil {
		return storeError("encode envelope", id, err)
	}
	return store.Save(ctx, id, data)
}

// Load reads the checkpoint saved under id and decodes it into a suspended
// continuation bound to target.
func Load(ctx context.Context, store Store, id string, target continuation.Target, codec continuation.ObjectCodec, opts ...continuation.Option) (*continuation.Continuation, error) {
	env, err := Inspect(ctx, store, id)
	if err != nil {
		return nil, err
	}
	return continuation.Decode(env.State, target, codec, opts...)
}

// Inspect reads the envelope saved under id without decoding its state.
func Inspect(ctx context.Context, store Store, id string) (*Envelope, error) {
	data, err := store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, storeError("decode envelope", id, err)
	}
	if env.Version != Version {
		return nil, errors.New(errors.PhaseStore, errors.KindUnsupported).
			Path(id).
			Value(env.Version).
			Detail("checkpoint version %d", env.Version).
			Build()
	}
	return &env, nil
}
