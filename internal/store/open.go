package store

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/foundation/normalization"
)

// Kind names a store backend.
type Kind string

const (
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
	KindSQLite Kind = "sqlite"
	KindNATS   Kind = "nats"
)

// Kinds normalizes configured backend names.
var Kinds = normalization.NewNormalizer("store backend", map[string]Kind{
	"memory": KindMemory,
	"file":   KindFile,
	"json":   KindFile,
	"sqlite": KindSQLite,
	"nats":   KindNATS,
}, KindFile)

// Spec selects and parameterizes a backend.
type Spec struct {
	Kind   Kind
	Path   string
	URL    string
	Bucket string
}

// Open creates the store described by spec.
func Open(ctx context.Context, spec Spec, opts ...Option) (Store, error) {
	var (
		s   Store
		err error
	)
	switch spec.Kind {
	case KindMemory:
		s, err = NewMemoryStore(nil)
	case KindFile:
		if spec.Path == "" {
			return nil, errors.ConfigError("file store requires a path").Build()
		}
		s, err = NewFileStore(spec.Path, opts...)
	case KindSQLite:
		if spec.Path == "" {
			return nil, errors.ConfigError("sqlite store requires a path").Build()
		}
		s, err = NewSQLiteStore(spec.Path, opts...)
	case KindNATS:
		if spec.URL == "" {
			return nil, errors.ConfigError("nats store requires a url").Build()
		}
		s, err = DialNATSStore(ctx, spec.URL, spec.Bucket, opts...)
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown store backend %q", spec.Kind)).Build()
	}
	if err != nil {
		if _, ok := errors.AsClassified(err); !ok {
			err = unavailable("open "+string(spec.Kind)+" store", err)
		}
		return nil, err
	}
	return s, nil
}
