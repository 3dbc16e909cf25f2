package storage

import "io"

// BlobStore keeps opaque binary payloads (reference materials, profile
// images) outside the database. Callers own key generation.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
	Delete(key string) error
}
