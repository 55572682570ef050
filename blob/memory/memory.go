// Package memory provides an in-process blob.Store backed by a sync.Map,
// used by tests and local development so the pipeline never needs a real
// S3 bucket to exercise stage handlers end to end.
package memory

import (
	"context"
	"sync"

	"github.com/ingestpipe/pipeline/blob"
)

// Store is a sync.Map-backed blob.Store. The zero value is ready to use.
type Store struct {
	data sync.Map
}

// New constructs an empty Store.
func New() *Store {
	return &Store{}
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	v, ok := s.data.Load(path)
	if !ok {
		return nil, blob.ErrNotFound
	}
	content := v.([]byte)
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

func (s *Store) Put(ctx context.Context, path string, content []byte) error {
	stored := make([]byte, len(content))
	copy(stored, content)
	s.data.Store(path, stored)
	return nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := s.data.Load(path)
	return ok, nil
}
