// Package assettest provides an in-memory asset source for tests.
package assettest

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"miren.dev/studio/assets"
)

type Source struct {
	mu      sync.Mutex
	blobs   map[uuid.UUID]*assets.Blob
	fetches map[uuid.UUID]int

	// Gate, when set, is received from before every fetch returns.
	Gate chan struct{}
}

func NewSource() *Source {
	return &Source{
		blobs:   make(map[uuid.UUID]*assets.Blob),
		fetches: make(map[uuid.UUID]int),
	}
}

// Put stores a disk form structured value.
func (s *Source) Put(id uuid.UUID, typeID string, v any) {
	s.PutBlob(id, &assets.Blob{TypeID: typeID, Value: v})
}

// PutData stores a binary payload or raw content.
func (s *Source) PutData(id uuid.UUID, typeUUID uuid.UUID, data []byte) {
	s.PutBlob(id, &assets.Blob{TypeUUID: typeUUID, Data: data})
}

func (s *Source) PutBlob(id uuid.UUID, b *assets.Blob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[id] = b
}

func (s *Source) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, id)
}

// Fetches returns how often id was fetched.
func (s *Source) Fetches(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fetches[id]
}

func (s *Source) Fetch(ctx context.Context, id uuid.UUID) (*assets.Blob, error) {
	s.mu.Lock()
	s.fetches[id]++
	b := s.blobs[id]
	gate := s.Gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return b, nil
}
